package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		identities := a.uc.List(cmd.Context())
		if len(identities) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No identities enrolled.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tFEATURES\tIMAGE")
		for _, id := range identities {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", id.Name, id.Features, id.ImagePath)
		}
		return tw.Flush()
	})
}
