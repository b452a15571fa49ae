package receipt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidName is returned for inbox names that are empty, hidden or
// contain a path separator.
var ErrInvalidName = errors.New("invalid inbox file name")

// Storage is the document inbox. Names are flat; there are no
// subdirectories.
type Storage interface {
	// Save writes a file and returns the name it was stored under.
	Save(name string, data []byte) (string, error)
	Get(name string) ([]byte, error)
	// List returns the names of all stored files, sorted.
	List() ([]string, error)
}

// LocalStorage keeps the inbox in a directory.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates dir if needed.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating inbox directory: %w", err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (l *LocalStorage) path(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || filepath.Base(name) != name {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return filepath.Join(l.dir, name), nil
}

// Save writes to a hidden temporary file and renames it into place, so a
// batch listing the inbox never sees a partial upload.
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	dst, err := l.path(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("moving file into inbox: %w", err)
	}
	return name, nil
}

func (l *LocalStorage) Get(name string) ([]byte, error) {
	src, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// List returns the regular files directly under the inbox. Hidden files,
// including uploads still being written, are skipped.
func (l *LocalStorage) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading inbox directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
