// Package fileid derives stable identifiers for watched sources, their content
// generations and the chunks cut from them.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const sourcePrefix = "src-"

// SourceID returns a stable source ID for the given absolute path.
// Same path always yields the same ID; content changes keep the ID and bump the generation.
func SourceID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return sourcePrefix + hex.EncodeToString(hash[:12])
}

// ContentHash returns the hex SHA-256 of content. It is the generation tag.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// FileHash streams the file at path through SHA-256.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChunkID is deterministic so re-upserting a generation never duplicates entries.
func ChunkID(sourceID, generation string, ordinal int) string {
	gen := generation
	if len(gen) > 16 {
		gen = gen[:16]
	}
	return fmt.Sprintf("%s:%s:%d", sourceID, gen, ordinal)
}
