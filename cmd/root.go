package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/fpid/internal/config"
	"github.com/example/fpid/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "fpid",
	Short: "Fingerprint identification service",
	Long: `fpid enrolls fingerprint images under a name and identifies new captures
against the enrolled registry by comparing binary feature descriptors.

Run "fpid serve" for the HTTP API, or use the enroll, identify, list,
delete and reset commands directly against the configured registry.
Configuration is read from FPID_* environment variables and an optional
.env file.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration (including an optional .env file) and builds the
// process logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// withApp runs fn with a fully wired app and releases it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}
