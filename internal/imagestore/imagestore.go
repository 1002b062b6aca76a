// Package imagestore keeps the enrolled fingerprint images that registry
// entries refer to.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
)

// ErrForeignReference is returned for references the store did not issue.
var ErrForeignReference = errors.New("image reference not owned by this store")

// Store saves, opens and removes image resources by opaque reference.
type Store interface {
	Save(ctx context.Context, name string, data []byte, ext string) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Remove(ctx context.Context, ref string) error
	Clear(ctx context.Context) error
}

// objectName builds "<name>_<yyyymmddHHMMSS>.<ext>" with path-unsafe
// characters in name replaced.
func objectName(name string, at time.Time, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s_%s.%s", sanitizeName(name), at.Format("20060102150405"), ext)
}

func sanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, strings.TrimSpace(name))
	if cleaned == "" {
		return "image"
	}
	return cleaned
}
