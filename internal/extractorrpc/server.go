package extractorrpc

import (
	"context"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/fpid/internal/extractor"
)

// ExtractorServer is the server API for the FeatureExtractor service.
type ExtractorServer interface {
	Extract(ctx context.Context, image *wrapperspb.BytesValue) (*structpb.ListValue, error)
}

// RegisterExtractorServer registers srv with s.
func RegisterExtractorServer(s grpc.ServiceRegistrar, srv ExtractorServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExtractorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Extract", Handler: extractHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fingerprint/v1/extractor.proto",
}

func extractHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractorServer).Extract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExtractMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExtractorServer).Extract(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Service serves any Extractor over gRPC. Uploaded images are written to a
// temporary file for the extractor and removed afterwards.
type Service struct {
	extractor extractor.Extractor
	tempDir   string
	logger    *zap.Logger
}

// NewService wraps ex. An empty tempDir uses the system default.
func NewService(ex extractor.Extractor, tempDir string, logger *zap.Logger) *Service {
	return &Service{extractor: ex, tempDir: tempDir, logger: logger.Named("extractor_service")}
}

// Extract runs the wrapped extractor. Images that cannot be processed yield
// an empty list rather than an error status, matching the extractor contract.
func (s *Service) Extract(ctx context.Context, image *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	if len(image.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "image is required")
	}

	f, err := os.CreateTemp(s.tempDir, "extract_*")
	if err != nil {
		s.logger.Error("failed to create temp file", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to stage image")
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(image.GetValue()); err != nil {
		f.Close()
		s.logger.Error("failed to stage image", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to stage image")
	}
	if err := f.Close(); err != nil {
		return nil, status.Error(codes.Internal, "failed to stage image")
	}

	set, err := s.extractor.Extract(ctx, path)
	if err != nil {
		s.logger.Warn("extraction failed", zap.Error(err), zap.Int("bytes", len(image.GetValue())))
		return &structpb.ListValue{}, nil
	}
	s.logger.Info("extraction complete", zap.Int("descriptors", set.Len()))
	return encodeSet(set), nil
}
