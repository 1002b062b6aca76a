package extractorrpc

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/fpid/internal/fingerprint"
	"github.com/example/fpid/internal/logging"
)

// DialExtractor returns a ready-to-use client for a remote extraction service.
func DialExtractor(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("extractorrpc.dial", "", err)
		logger.Error("failed to dial feature extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClient(conn, logger), conn, nil
}

// Client implements extractor.Extractor against a remote service.
type Client struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface, logger *zap.Logger) *Client {
	return &Client{conn: conn, logger: logger.Named("extractor_client")}
}

// Extract uploads the image at imagePath and returns the remote descriptors.
func (c *Client) Extract(ctx context.Context, imagePath string) (fingerprint.DescriptorSet, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	resp := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, ExtractMethod, wrapperspb.Bytes(data), resp); err != nil {
		wrapped := logging.NewOperationError("extractorrpc.extract", "", err)
		c.logger.Error("remote extraction failed", zap.Error(wrapped), zap.String("image", imagePath))
		return nil, wrapped
	}

	set, err := decodeSet(resp)
	if err != nil {
		c.logger.Error("remote extractor returned malformed descriptors", zap.Error(err), zap.String("image", imagePath))
		return nil, err
	}
	return set, nil
}
