package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirObjects reads uploaded media from a local directory. Upload
// transport writes files there; the pipeline only fetches by key.
type DirObjects struct {
	root string
}

// NewDirObjects returns object storage rooted at dir.
func NewDirObjects(dir string) DirObjects {
	return DirObjects{root: dir}
}

// Fetch reads the object stored under key. Keys are relative paths and
// may not escape the root.
func (d DirObjects) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("object key is required")
	}
	cleaned := filepath.Clean(key)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("object key %q escapes storage root", key)
	}
	data, err := os.ReadFile(filepath.Join(d.root, cleaned))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}
