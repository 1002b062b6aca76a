package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify a fingerprint image against the registry",
	Long: `Extract features from a fingerprint image and report the best matching
enrolled identity, if its score reaches the threshold.

Match settings default to FPID_MATCH_* and can be overridden per call.

Example:
  fpid identify --image probe.png --mode exact --threshold 40`,
	Args: cobra.NoArgs,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().String("image", "", "Path to the fingerprint image")
	identifyCmd.Flags().Int("threshold", 0, "Minimum score to accept a match")
	identifyCmd.Flags().Float64("ratio", 0, "Ratio test factor in (0,1]")
	identifyCmd.Flags().String("mode", "", "Match mode: exact or ratio")
	_ = identifyCmd.MarkFlagRequired("image")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(mustGetString(cmd, "image"))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	return withApp(cmd, func(a *app) error {
		cfg, err := matchFlags(cmd, a.uc.MatchConfig())
		if err != nil {
			return err
		}

		out, err := a.uc.Identify(cmd.Context(), data, cfg)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if out.Result.Matched() {
			fmt.Fprintf(w, "Match: %s (score %d, threshold %d)\n", out.Result.Name(), out.Result.Score, cfg.Threshold)
		} else {
			fmt.Fprintf(w, "No match (best score %d, threshold %d)\n", out.Result.Score, cfg.Threshold)
		}
		fmt.Fprintf(w, "Request: %s\n", out.RequestID)
		return nil
	})
}
