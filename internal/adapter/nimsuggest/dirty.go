package nimsuggest

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"
)

// Snapshots stores unsaved buffer contents as files the analyzer can read.
// Each session owns one directory; files are named by content hash so
// identical buffers share a file.
type Snapshots struct {
	dir string
}

// NewSnapshots returns the snapshot store of one session for a project root
// below base. owner tells apart sessions of the same root, so closing one
// never removes another's snapshots. An empty base selects os.TempDir().
// The directory is created lazily.
func NewSnapshots(base, root, owner string) *Snapshots {
	if base == "" {
		base = os.TempDir()
	}
	sum := blake3.Sum256([]byte(root))
	return &Snapshots{dir: filepath.Join(base, "nimsuggestd", hex.EncodeToString(sum[:8])+"-"+owner)}
}

// Dir returns the snapshot directory.
func (s *Snapshots) Dir() string { return s.dir }

// Write stores content and returns the absolute path of the snapshot.
func (s *Snapshots) Write(content []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	sum := blake3.Sum256(content)
	path := filepath.Join(s.dir, hex.EncodeToString(sum[:])+".nim")

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename snapshot: %w", err)
	}
	return path, nil
}

// Remove deletes a snapshot returned by Write.
func (s *Snapshots) Remove(path string) {
	_ = os.Remove(path)
}

// Close removes the snapshot directory and everything in it.
func (s *Snapshots) Close() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}
