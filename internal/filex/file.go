// Package filex holds small filesystem helpers shared by the uploader and CLI.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureSubDir creates (if needed) and returns a subdirectory of parent.
func EnsureSubDir(parent, name string) (string, error) {
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// IsInTempDir reports whether path lives under dir (or under the system temp
// directory when dir is empty). Plaintext artifacts are only ever deleted
// from recognized temporary locations, never from user-chosen ones.
func IsInTempDir(path, dir string) bool {
	if dir == "" {
		dir = os.TempDir()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RemoveQuietly deletes path and swallows the error. Used for best-effort
// cleanup where the upload outcome must not depend on local disk state.
func RemoveQuietly(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
