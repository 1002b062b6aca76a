package cmd

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/fpid/internal/extractorrpc"
)

var extractorServeCmd = &cobra.Command{
	Use:   "extractor-serve",
	Short: "Serve the native feature extractor over gRPC",
	Long: `Serve the built-in feature extractor on FPID_EXTRACTOR_LISTEN_ADDR so other
fpid instances can use it with FPID_EXTRACTOR_BACKEND=grpc.`,
	Args: cobra.NoArgs,
	RunE: runExtractorServe,
}

func init() {
	rootCmd.AddCommand(extractorServeCmd)
}

func runExtractorServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	listener, err := net.Listen("tcp", cfg.Extractor.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Extractor.ListenAddr, err)
	}

	server := grpc.NewServer()
	extractorrpc.RegisterExtractorServer(server, extractorrpc.NewService(newNativeExtractor(cfg.Extractor, logger), cfg.Images.TempDir, logger))

	logger.Info("feature extractor listening", zap.String("addr", listener.Addr().String()))
	return serveGRPCServer(server, listener, logger, nil)
}

// serveGRPCServer serves until the listener fails or a shutdown signal
// arrives, then stops gracefully.
func serveGRPCServer(server *grpc.Server, listener net.Listener, logger *zap.Logger, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	sigCh, stopSignals := shutdownSignals(signalCh)
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if ok {
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		}
		server.GracefulStop()
		return <-errCh
	}
}
