package firmware

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileRepository reads images stored as <dir>/<name>.bin.
type FileRepository struct {
	dir string
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository returns a repository rooted at dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

// GetByName implements Repository.
func (r *FileRepository) GetByName(_ context.Context, name string) ([]byte, error) {
	if !validName(name) {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(r.dir, name+Ext))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firmware: read %s: %w", name, err)
	}
	return data, nil
}

// List implements Repository.
func (r *FileRepository) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("firmware: list %s: %w", r.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Ext))
	}
	sort.Strings(names)
	return names, nil
}
