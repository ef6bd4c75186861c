package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "financial.db")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0644))
	vectors := filepath.Join(dir, "vectors")
	require.NoError(t, os.MkdirAll(filepath.Join(vectors, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(vectors, "a.vlog"), []byte("ab"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(vectors, "nested", "b.sst"), []byte("c"), 0644))

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"file", []string{file}, 5},
		{"directory tree", []string{vectors}, 3},
		{"file and directory", []string{file, vectors}, 8},
		{"missing path skipped", []string{file, filepath.Join(dir, "missing"), vectors}, 8},
		{"empty path skipped", []string{"", file}, 5},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
