package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local stores images as files in a single directory. References are the
// file paths.
type Local struct {
	dir string
	now func() time.Time
}

// NewLocal creates dir if needed and returns a store rooted there.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	return &Local{dir: dir, now: time.Now}, nil
}

// Save writes data to a new file. Name collisions within the same second get
// a numeric suffix instead of overwriting.
func (s *Local) Save(ctx context.Context, name string, data []byte, ext string) (string, error) {
	base := objectName(name, s.now(), ext)
	stem, suffix := strings.TrimSuffix(base, filepath.Ext(base)), filepath.Ext(base)

	for i := 0; i < 100; i++ {
		filename := base
		if i > 0 {
			filename = fmt.Sprintf("%s_%d%s", stem, i, suffix)
		}
		path := filepath.Join(s.dir, filename)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create image file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write image file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close image file: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %q", base)
}

func (s *Local) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.owned(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (s *Local) Remove(ctx context.Context, ref string) error {
	path, err := s.owned(ref)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Clear removes every regular file in the directory.
func (s *Local) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list image directory: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Local) owned(ref string) (string, error) {
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(ref)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: %s", ErrForeignReference, ref)
	}
	return path, nil
}
