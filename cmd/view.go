package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/export"
)

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "Print an exported annotation file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readExport(args[0])
		if err != nil {
			return err
		}
		printDocument(cmd.OutOrStdout(), doc)
		return nil
	},
}

// printDocument writes a plain-text summary of doc to w.
func printDocument(w io.Writer, doc *export.Document) {
	fmt.Fprintln(w, "## Summary")
	fmt.Fprintf(w, "  Video:     %s\n", doc.Video.ID)
	fmt.Fprintf(w, "  Exported:  %s\n", doc.Video.ExportedAt.Format("2006-01-02 15:04:05 MST"))
	if doc.Video.Author != "" {
		fmt.Fprintf(w, "  Author:    %s\n", doc.Video.Author)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Timeline")
	if len(doc.Annotations) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, a := range doc.Annotations {
		fmt.Fprintf(w, "  %s  (%.2f, %.2f)  %s\n", annotation.FormatTime(a.TimeMs), a.X, a.Y, a.Text)
	}
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
