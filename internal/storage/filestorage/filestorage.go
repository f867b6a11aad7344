// Package filestorage implements Storage interface that uses files on disk as storage.
package filestorage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fluidtorrent/fluid/internal/storage"
)

// FileStorage keeps files under a destination directory.
type FileStorage struct {
	dest string
}

// New returns a FileStorage rooted at dest.
func New(dest string) (*FileStorage, error) {
	var err error
	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

var _ storage.Storage = (*FileStorage)(nil)

// Dest returns the absolute destination directory.
func (s *FileStorage) Dest() string {
	return s.dest
}

// ErrEscape is returned by Open when the name points outside of the destination directory.
var ErrEscape = errors.New("file name escapes destination directory")

// Open returns the file at name relative to the destination directory with its length set to size.
// Missing directories and the file itself are created. exists is false if the file is created by this call.
func (s *FileStorage) Open(name string, size int64) (storage.File, bool, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, false, err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, false, err
	}
	_, err = os.Stat(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return nil, false, err
	}
	of, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640) // nolint: gosec
	if err != nil {
		return nil, false, err
	}
	if err = resize(of, size); err != nil {
		_ = of.Close()
		return nil, false, err
	}
	return &File{of}, exists, nil
}

func (s *FileStorage) path(name string) (string, error) {
	name = filepath.Clean(name)
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscape, name)
	}
	return filepath.Join(s.dest, name), nil
}

func resize(f *os.File, size int64) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == size {
		return nil
	}
	return f.Truncate(size)
}

// File is an OS file that is synced after every write.
type File struct {
	*os.File
}

// WriteAt writes b at offset off and flushes it to disk.
func (f *File) WriteAt(b []byte, off int64) (n int, err error) {
	n, err = f.File.WriteAt(b, off)
	if err != nil {
		return
	}
	return n, f.File.Sync()
}
