package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete every identity enrolled under a name",
	Long: `Delete every identity enrolled under a name. Their stored images are
removed on a best-effort basis.

Example:
  fpid delete alice`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	return withApp(cmd, func(a *app) error {
		removed, err := a.uc.Delete(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entr%s for %s\n", removed, plural(removed, "y", "ies"), name)
		return nil
	})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
