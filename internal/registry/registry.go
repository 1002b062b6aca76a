// Package registry persists enrolled identities.
//
// Every backend keeps insertion order, which the matcher uses as its
// tie-break order. Reads never fail: a missing, empty or corrupt store loads
// as an empty registry and is logged. Writes that do not complete return a
// *StorageError.
//
// Writes are whole-collection read-modify-write operations. FileRegistry
// serialises them inside one process only; two processes writing the same
// file still race and the later write wins.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/fpid/internal/fingerprint"
)

// Registry is the operation set every storage backend implements.
type Registry interface {
	// Load returns every identity in stored order.
	Load(ctx context.Context) []fingerprint.EnrolledIdentity
	// Add appends identity and persists the result.
	Add(ctx context.Context, identity fingerprint.EnrolledIdentity) error
	// Delete removes every identity named name and returns the removed entries.
	Delete(ctx context.Context, name string) ([]fingerprint.EnrolledIdentity, error)
	// Clear replaces the stored collection with an empty one. Image
	// resources are left in place.
	Clear(ctx context.Context) error
}

// ErrStorage matches every *StorageError via errors.Is.
var ErrStorage = errors.New("registry storage failure")

// StorageError reports a write that did not complete.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s registry %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) hold for any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }
