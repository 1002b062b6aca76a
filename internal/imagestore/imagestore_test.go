package imagestore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestObjectName(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := map[string]struct {
		name, ext, want string
	}{
		"plain":     {"alice", "png", "alice_20240506070809.png"},
		"dot ext":   {"bob", ".JPG", "bob_20240506070809.jpg"},
		"traversal": {"../etc/passwd", "png", "___etc_passwd_20240506070809.png"},
		"unicode":   {"田中太郎", "png", "田中太郎_20240506070809.png"},
		"empty":     {"  ", "", "image_20240506070809.png"},
	}
	for label, tt := range tests {
		if got := objectName(tt.name, at, tt.ext); got != tt.want {
			t.Fatalf("%s: got %q, want %q", label, got, tt.want)
		}
	}
}

func TestLocalSaveOpenRemove(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(filepath.Join(t.TempDir(), "images"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	first, err := store.Save(ctx, "alice", []byte("one"), "png")
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second, err := store.Save(ctx, "alice", []byte("two"), "png")
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct references, got %s twice", first)
	}
	if !strings.HasSuffix(first, "alice_20240102030405.png") {
		t.Fatalf("unexpected reference: %s", first)
	}

	rc, err := store.Open(ctx, second)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "two" {
		t.Fatalf("unexpected content: %q", data)
	}

	if err := store.Remove(ctx, first); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatalf("expected file to be gone, stat err=%v", err)
	}
}

func TestLocalRejectsForeignReferences(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewLocal(filepath.Join(root, "images"))
	if err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(root, "secret.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.Remove(ctx, outside); !errors.Is(err, ErrForeignReference) {
		t.Fatalf("expected ErrForeignReference, got %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside file must survive: %v", err)
	}
}

func TestLocalClear(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, err := store.Save(ctx, name, []byte(name), "png"); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty directory, got %d entries", len(entries))
	}
}

func TestParseObjectRef(t *testing.T) {
	bucket, key, ok := parseObjectRef(objectRef("fingerprints", "enrolled/alice_1.png"))
	if !ok || bucket != "fingerprints" || key != "enrolled/alice_1.png" {
		t.Fatalf("unexpected parse: %q %q %v", bucket, key, ok)
	}
	for _, ref := range []string{"images/a.png", "s3://", "s3://bucket", "s3:///key"} {
		if _, _, ok := parseObjectRef(ref); ok {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}

	store := &MinIO{bucket: "fingerprints", prefix: "enrolled/"}
	if _, err := store.key("s3://other/enrolled/a.png"); !errors.Is(err, ErrForeignReference) {
		t.Fatalf("expected foreign bucket to be rejected, got %v", err)
	}
	if _, err := store.key("s3://fingerprints/elsewhere/a.png"); !errors.Is(err, ErrForeignReference) {
		t.Fatalf("expected foreign prefix to be rejected, got %v", err)
	}
	if key, err := store.key("s3://fingerprints/enrolled/a.png"); err != nil || key != "enrolled/a.png" {
		t.Fatalf("unexpected key: %q %v", key, err)
	}
}
