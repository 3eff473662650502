package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/export"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export <video-id>",
	Short: "Write a video's annotations to a shareable file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID := args[0]

		// Select renderer based on --format flag or config DefaultFormat.
		format := exportFormat
		if format == "" {
			format = GetConfig().DefaultFormat
		}
		renderer, err := export.RendererFor(format)
		if err != nil {
			return err
		}

		var list []annotation.Annotation
		err = withStore(func(store annotation.Store) error {
			list, err = store.Load(videoID)
			return err
		})
		if err != nil {
			return err
		}

		data, err := renderer.Render(export.New(videoID, author(), list))
		if err != nil {
			return fmt.Errorf("render export: %w", err)
		}

		if exportOutput == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		outputPath := exportOutput
		if outputPath == "" {
			outputPath = videoID + "-annotations" + export.Extension(format)
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		cmd.Printf("Exported %s to %s\n", videoID, outputPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "output format: markdown, json or yaml (overrides config)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", `output file, "-" for stdout (default <video-id>-annotations.<ext>)`)
	rootCmd.AddCommand(exportCmd)
}
