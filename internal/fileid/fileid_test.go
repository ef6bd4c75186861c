package fileid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSourceID(t *testing.T) {
	id1 := SourceID("/foo/bar.txt")
	id2 := SourceID("/foo/bar.txt")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, sourcePrefix) {
		t.Errorf("ID should have prefix %q: got %q", sourcePrefix, id1)
	}
	if SourceID("/foo/baz.txt") == id1 {
		t.Error("different paths should give different IDs")
	}
}

func TestSourceID_normalized(t *testing.T) {
	id1 := SourceID("/foo/bar")
	if id1 != SourceID("/foo/bar/") {
		t.Error("paths differing only by trailing slash should match")
	}
	if id1 != SourceID("/foo/./bar") {
		t.Error("paths with . should normalize")
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("budget"))
	if a != ContentHash([]byte("budget")) {
		t.Error("hash must be deterministic")
	}
	if a == ContentHash([]byte("budget!")) {
		t.Error("different content should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256, got %q", a)
	}
}

func TestFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("budget"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := FileHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != ContentHash([]byte("budget")) {
		t.Errorf("FileHash = %q, want ContentHash of the same bytes", got)
	}
	if _, err := FileHash(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestChunkID(t *testing.T) {
	gen := ContentHash([]byte("x"))
	id := ChunkID("src-1", gen, 2)
	if id != "src-1:"+gen[:16]+":2" {
		t.Errorf("unexpected chunk id %q", id)
	}
	if ChunkID("src-1", "short", 0) != "src-1:short:0" {
		t.Error("short generations are kept whole")
	}
}
