package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/example/fpid/internal/fingerprint"
)

// FileRegistry stores the registry as one UTF-8 JSON document. Every write
// rewrites the whole document atomically.
type FileRegistry struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileRegistry returns a registry backed by the JSON file at path. The
// file and its directory are created on first write.
func NewFileRegistry(path string, logger *zap.Logger) *FileRegistry {
	return &FileRegistry{path: path, logger: logger.Named("file_registry")}
}

// Path returns the backing file path.
func (r *FileRegistry) Path() string { return r.path }

func (r *FileRegistry) Load(ctx context.Context) []fingerprint.EnrolledIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *FileRegistry) Add(ctx context.Context, identity fingerprint.EnrolledIdentity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	identities := append(r.read(), identity)
	return r.write("add", identities)
}

func (r *FileRegistry) Delete(ctx context.Context, name string) ([]fingerprint.EnrolledIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.read()
	kept := make([]fingerprint.EnrolledIdentity, 0, len(current))
	var removed []fingerprint.EnrolledIdentity
	for _, id := range current {
		if id.Name == name {
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := r.write("delete", kept); err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *FileRegistry) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write("clear", nil)
}

func (r *FileRegistry) read() []fingerprint.EnrolledIdentity {
	identities := []fingerprint.EnrolledIdentity{}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("registry unreadable, treating as empty", zap.String("path", r.path), zap.Error(err))
		}
		return identities
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return identities
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Warn("registry unparseable, treating as empty", zap.String("path", r.path), zap.Error(err))
		return identities
	}

	for i, item := range raw {
		var rec record
		if err := json.Unmarshal(item, &rec); err != nil {
			r.logger.Warn("skipping malformed registry entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		id, err := rec.identity()
		if err != nil {
			r.logger.Warn("skipping invalid registry entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		identities = append(identities, id)
	}
	return identities
}

func (r *FileRegistry) write(op string, identities []fingerprint.EnrolledIdentity) error {
	records := make([]record, len(identities))
	for i, id := range identities {
		records[i] = toRecord(id)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &StorageError{Backend: "file", Op: op, Err: fmt.Errorf("encode: %w", err)}
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &StorageError{Backend: "file", Op: op, Err: err}
		}
	}
	if err := renameio.WriteFile(r.path, data, 0o644); err != nil {
		return &StorageError{Backend: "file", Op: op, Err: err}
	}
	r.logger.Debug("registry written", zap.String("op", op), zap.Int("identities", len(identities)))
	return nil
}
