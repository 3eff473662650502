package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/vidnote/internal/profile"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure vidnote (re-run anytime to edit settings)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// runSetup runs the interactive setup wizard, starting from the existing
// profile when there is one.
func runSetup(in io.Reader, out io.Writer) error {
	var existing *profile.Profile
	if profile.Exists() {
		p, err := profile.Load()
		if err == nil {
			existing = p
		}
	}

	prof, err := profile.RunSetup(in, out, existing)
	if err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	if err := profile.Save(prof); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	fmt.Fprintln(out, "  ✓ Profile saved.")
	fmt.Fprintln(out, "  Setup complete. Run 'vidnote play <video-id>' to start watching.")
	fmt.Fprintln(out)
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
