package services

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// ContentHashStore remembers the content hash of the last processed catalog
// snapshot. It is injected into the pipeline so the short-circuit logic can
// be tested without touching the filesystem.
type ContentHashStore interface {
	Load() (string, error)
	Save(hash string) error
}

// FileHashStore keeps the hash in a small sidecar file next to the database.
type FileHashStore struct {
	path string
}

func NewFileHashStore(path string) *FileHashStore {
	return &FileHashStore{path: path}
}

// Load returns the stored hash, or "" when no previous run exists.
func (s *FileHashStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileHashStore) Save(hash string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(hash+"\n"), 0644)
}

// SnapshotHash computes the deterministic digest used to detect an unchanged
// catalog between runs.
func SnapshotHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
