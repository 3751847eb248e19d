package render

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive persists rendered documents under a reports directory so they can
// be fetched later by name.
type Archive struct {
	dir string
}

// NewArchive creates an archive rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Dir returns the archive root.
func (a *Archive) Dir() string { return a.dir }

// Save writes a document atomically and returns its path. write receives a
// temporary file; the document only appears under name once write succeeds.
func (a *Archive) Save(name string, write func(io.Writer) error) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	tmp, err := os.CreateTemp(a.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close document: %w", err)
	}

	final := filepath.Join(a.dir, name)
	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("failed to store document: %w", err)
	}
	return final, nil
}
