package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a fingerprint image under a name",
	Long: `Extract features from a fingerprint image and add it to the registry.

The image is copied into the image store. Enrollment is refused when fewer
than FPID_MATCH_MIN_FEATURES descriptors can be extracted.

Example:
  fpid enroll --name alice --image scans/alice_right_index.png`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Name to enroll the fingerprint under")
	enrollCmd.Flags().String("image", "", "Path to the fingerprint image")
	_ = enrollCmd.MarkFlagRequired("name")
	_ = enrollCmd.MarkFlagRequired("image")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := mustGetString(cmd, "name")
	imagePath := mustGetString(cmd, "image")

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(imagePath)), ".")

	return withApp(cmd, func(a *app) error {
		identity, err := a.uc.Enroll(cmd.Context(), name, data, ext)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s (%d features) -> %s\n", identity.Name, identity.Descriptors.Len(), identity.ImagePath)
		return nil
	})
}
