package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every enrolled identity and stored image",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func confirmAction(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !mustGetBool(cmd, "yes") && !confirmAction(cmd.InOrStdin(), out, "Remove all enrolled identities and images? [y/N]: ") {
		fmt.Fprintln(out, "Cancelled.")
		return nil
	}

	return withApp(cmd, func(a *app) error {
		if err := a.uc.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(out, "Registry reset.")
		return nil
	})
}
