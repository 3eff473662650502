package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/export"
)

var importVideo string

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load annotations from an exported file",
	Long: `Load annotations from an exported file. Annotations keep their ids, so
importing the same file twice replaces rather than duplicates them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readExport(args[0])
		if err != nil {
			return err
		}
		videoID := doc.Video.ID
		if importVideo != "" {
			videoID = importVideo
		}
		return withStore(func(store annotation.Store) error {
			for _, a := range doc.Annotations {
				a.VideoID = videoID
				if err := store.Save(a); err != nil {
					return fmt.Errorf("importing %s: %w", a.ID, err)
				}
			}
			cmd.Printf("Imported %d annotations into %s\n", len(doc.Annotations), videoID)
			return nil
		})
	},
}

// readExport parses an exported file, picking the format from its extension.
func readExport(path string) (*export.Document, error) {
	parser, err := export.ParserFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, err
	}
	return parser.Parse(data)
}

func init() {
	importCmd.Flags().StringVar(&importVideo, "video", "", "attach the annotations to this video instead of the exported one")
	rootCmd.AddCommand(importCmd)
}
