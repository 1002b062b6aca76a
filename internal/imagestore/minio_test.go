package imagestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// s3Bucket serves the handful of S3 calls the MinIO store makes against a
// single in-memory bucket.
type s3Bucket struct {
	name string

	mu      sync.Mutex
	objects map[string][]byte
	deletes []string
}

func (b *s3Bucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != b.name {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case key == "" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodGet && r.URL.Query().Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`)
	case key == "" && r.Method == http.MethodGet:
		b.list(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodPut:
		data, err := readObjectBody(r)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		b.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		data, ok := b.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("Last-Modified", time.Unix(0, 0).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	case r.Method == http.MethodDelete:
		delete(b.objects, key)
		b.deletes = append(b.deletes, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

// readObjectBody undoes aws-chunked framing, which the client uses for
// streaming-signed uploads over plain HTTP.
func readObjectBody(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}
	br := bufio.NewReader(r.Body)
	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out, nil
		}
		chunk := make([]byte, size+2)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk[:size]...)
	}
}

func (b *s3Bucket) list(w http.ResponseWriter, prefix string) {
	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var body strings.Builder
	fmt.Fprintf(&body, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>`,
		b.name, prefix, len(keys))
	for _, key := range keys {
		fmt.Fprintf(&body, `<Contents><Key>%s</Key><LastModified>1970-01-01T00:00:00.000Z</LastModified><ETag>"etag"</ETag><Size>%d</Size><StorageClass>STANDARD</StorageClass></Contents>`,
			key, len(b.objects[key]))
	}
	body.WriteString(`</ListBucketResult>`)

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, body.String())
}

func (b *s3Bucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func newTestMinIO(t *testing.T) (*MinIO, *s3Bucket) {
	t.Helper()
	bucket := &s3Bucket{name: "fingerprints", objects: map[string][]byte{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	store, err := NewMinIO(context.Background(), MinIOConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "fingerprints",
		Prefix:    "/enrolled/",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	store.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }
	return store, bucket
}

func TestMinIOSaveOpenRemove(t *testing.T) {
	store, bucket := newTestMinIO(t)
	ctx := context.Background()

	ref, err := store.Save(ctx, "alice smith", []byte("png-bytes"), "png")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ref != "s3://fingerprints/enrolled/alice_smith_20240301123000.png" {
		t.Fatalf("unexpected reference: %q", ref)
	}
	if keys := bucket.keys(); len(keys) != 1 || keys[0] != "enrolled/alice_smith_20240301123000.png" {
		t.Fatalf("unexpected objects: %v", keys)
	}

	rc, err := store.Open(ctx, ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected content: %q", data)
	}

	if err := store.Remove(ctx, ref); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if keys := bucket.keys(); len(keys) != 0 {
		t.Fatalf("expected bucket to be empty, got %v", keys)
	}
}

func TestMinIORemoveRejectsForeignReference(t *testing.T) {
	store, bucket := newTestMinIO(t)

	err := store.Remove(context.Background(), "s3://fingerprints/other/alice.png")
	if !errors.Is(err, ErrForeignReference) {
		t.Fatalf("expected ErrForeignReference, got %v", err)
	}
	if len(bucket.deletes) != 0 {
		t.Fatalf("expected no delete requests, got %v", bucket.deletes)
	}
}

func TestMinIOClearKeepsObjectsOutsidePrefix(t *testing.T) {
	store, bucket := newTestMinIO(t)
	ctx := context.Background()

	bucket.objects["backups/users.json"] = []byte("{}")
	for _, name := range []string{"alice", "bob"} {
		if _, err := store.Save(ctx, name, []byte(name), "png"); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if keys := bucket.keys(); len(keys) != 1 || keys[0] != "backups/users.json" {
		t.Fatalf("expected only the unrelated object to remain, got %v", keys)
	}
}
