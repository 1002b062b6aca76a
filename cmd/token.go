package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/fpid/internal/auth"
	"github.com/example/fpid/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Long: `Sign an HS256 token with FPID_JWT_SECRET (and FPID_JWT_AUDIENCE when set)
for use in the Authorization header of API requests.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("subject", "operator", "Token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}

	token, err := auth.IssueToken(cfg.Auth.Secret, mustGetString(cmd, "subject"), cfg.Auth.Audience, ttl)
	if errors.Is(err, auth.ErrMissingSecret) {
		return fmt.Errorf("%w: set FPID_JWT_SECRET", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
