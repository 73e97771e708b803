package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	dirPerm = 0755
)

// Sink receives the body of a single transfer.
type Sink interface {
	io.WriteCloser
}

// SinkFactory opens and removes the output artifacts of transfers.
type SinkFactory interface {
	Open(path string) (Sink, error)
	Remove(path string) error
}

// FileSinks stores transfer bodies on the local filesystem. Relative
// destinations are resolved against Dir.
type FileSinks struct {
	Dir string
}

func NewFileSinks(dir string) *FileSinks {
	return &FileSinks{Dir: dir}
}

// Open creates the destination file, truncating any previous content, and
// its parent directories.
func (s *FileSinks) Open(path string) (Sink, error) {
	target := s.resolve(path)

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	out, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("failed to create target file: %w", err)
	}

	return out, nil
}

// Remove deletes the destination file. A file that no longer exists is not an
// error.
func (s *FileSinks) Remove(path string) error {
	if err := os.Remove(s.resolve(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func (s *FileSinks) resolve(path string) string {
	if filepath.IsAbs(path) || s.Dir == "" {
		return path
	}

	return filepath.Join(s.Dir, path)
}
