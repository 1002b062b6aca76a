package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/fpid/internal/auth"
	"github.com/example/fpid/internal/handlers"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API for enrollment and identification.

Every route except /health requires an HS256 bearer token signed with
FPID_JWT_SECRET (see "fpid token"). The server drains in-flight requests
on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		r := gin.Default()
		r.MaxMultipartMemory = handlers.MaxUploadSize

		if a.cfg.Auth.Secret == "" {
			a.logger.Warn("FPID_JWT_SECRET is not set, all authenticated routes will return 401")
		}
		authMiddleware := auth.JWTMiddleware(a.cfg.Auth.Secret, a.cfg.Auth.Audience, a.logger)
		handlers.RegisterRoutes(r, a.uc, authMiddleware, a.logger)

		server := &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		a.logger.Info("fingerprint API listening",
			zap.String("addr", a.cfg.HTTPAddr),
			zap.String("registry", a.cfg.Registry.Backend),
			zap.String("extractor", a.cfg.Extractor.Backend))
		return serveHTTPServer(server, shutdownTimeout, a.logger)
	})
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh, stopSignals := shutdownSignals(signalCh)
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

// shutdownSignals returns signalCh when given, otherwise a channel notified
// on SIGINT and SIGTERM together with its release function.
func shutdownSignals(signalCh <-chan os.Signal) (<-chan os.Signal, func()) {
	if signalCh != nil {
		return signalCh, func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}
