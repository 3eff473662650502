package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status <video-id>",
	Short: "Show a video's annotation counts and saved position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID := args[0]
		st, err := openStores(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.annotations.Load(videoID)
		if err != nil {
			return err
		}
		live := 0
		for _, a := range list {
			if a.Alive {
				live++
			}
		}

		cmd.Printf("Video: %s\n", videoID)
		cmd.Printf("Annotations: %d\n", live)
		cmd.Printf("Deleted: %d\n", len(list)-live)

		b, err := st.bookmarks.Load(videoID)
		switch {
		case errors.Is(err, session.ErrNoBookmark):
			cmd.Println("Resume at: start")
		case err != nil:
			return err
		default:
			cmd.Printf("Resume at: %s\n", annotation.FormatTime(b.PositionMs))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
