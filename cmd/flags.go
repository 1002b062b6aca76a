package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/fpid/internal/matcher"
)

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// Flags are defined in init(), so errors indicate programming bugs.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// matchFlags overrides cfg with the --threshold, --ratio and --mode flags
// that were set explicitly.
func matchFlags(cmd *cobra.Command, cfg matcher.Config) (matcher.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("threshold") {
		threshold, err := flags.GetInt("threshold")
		if err != nil {
			return cfg, err
		}
		cfg.Threshold = threshold
	}
	if flags.Changed("ratio") {
		ratio, err := flags.GetFloat64("ratio")
		if err != nil {
			return cfg, err
		}
		cfg.Ratio = ratio
	}
	if flags.Changed("mode") {
		mode, err := matcher.ParseMode(mustGetString(cmd, "mode"))
		if err != nil {
			return cfg, err
		}
		cfg.Mode = mode
	}
	return cfg, cfg.Validate()
}
