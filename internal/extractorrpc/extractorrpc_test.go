package extractorrpc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/fpid/internal/extractor"
	"github.com/example/fpid/internal/fingerprint"
)

func startServer(t *testing.T, ex extractor.Extractor) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterExtractorServer(srv, NewService(ex, t.TempDir(), zap.NewNop()))
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn, zap.NewNop())
}

func writeImage(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probe.png")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClientServerRoundTrip(t *testing.T) {
	want := fingerprint.DescriptorSet{{10, 20, 30}, {0, 255, 7}}
	received := make(chan string, 1)
	client := startServer(t, extractor.Func(func(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error) {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, err
		}
		received <- string(data)
		return want, nil
	}))

	got, err := client.Extract(context.Background(), writeImage(t, "image-bytes"))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("unexpected descriptors: %v", got)
	}
	if got := <-received; got != "image-bytes" {
		t.Fatalf("server saw %q", got)
	}
}

func TestServerMapsExtractionFailureToEmptySet(t *testing.T) {
	client := startServer(t, extractor.Func(func(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error) {
		return nil, errors.New("decode image: unknown format")
	}))

	got, err := client.Extract(context.Background(), writeImage(t, "garbage"))
	if err != nil {
		t.Fatalf("expected empty set without error, got %v", err)
	}
	if !got.Empty() {
		t.Fatalf("expected empty set, got %v", got)
	}
}

func TestServerRejectsEmptyImage(t *testing.T) {
	var calls atomic.Int32
	client := startServer(t, extractor.Func(func(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error) {
		calls.Add(1)
		return nil, nil
	}))

	_, err := client.Extract(context.Background(), writeImage(t, ""))
	if status.Code(errors.Unwrap(err)) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("extractor must not be called for an empty image")
	}
}

func TestClientMissingFile(t *testing.T) {
	client := NewClient(nil, zap.NewNop())
	if _, err := client.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestDecodeSetRejectsMalformedPayloads(t *testing.T) {
	notList := &structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("x")}}
	if _, err := decodeSet(notList); !errors.Is(err, fingerprint.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}

	fraction := &structpb.ListValue{Values: []*structpb.Value{
		structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{structpb.NewNumberValue(1.5)}}),
	}}
	if _, err := decodeSet(fraction); !errors.Is(err, fingerprint.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}

	outOfRange := encodeSet(fingerprint.DescriptorSet{{1}})
	outOfRange.Values[0].GetListValue().Values[0] = structpb.NewNumberValue(300)
	if _, err := decodeSet(outOfRange); !errors.Is(err, fingerprint.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}
