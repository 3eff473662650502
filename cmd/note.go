package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/vidnote/internal/annotation"
)

var (
	noteX     float32
	noteY     float32
	noteAll   bool
	notePurge bool
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Manage a video's annotations without playing it",
}

var noteAddCmd = &cobra.Command{
	Use:   "add <video-id> <time> <text>",
	Short: "Add an annotation at a time such as 1:02.500",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ms, err := annotation.ParseTime(args[1])
		if err != nil {
			return err
		}
		return withStore(func(store annotation.Store) error {
			a := annotation.New(args[0], ms, args[2], annotation.Clamp(noteX), annotation.Clamp(noteY), creatorID())
			if err := store.Save(a); err != nil {
				return err
			}
			cmd.Printf("Note added at %s (%s).\n", annotation.FormatTime(ms), a.ID)
			return nil
		})
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list <video-id>",
	Short: "List a video's annotations in time order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store annotation.Store) error {
			list, err := store.Load(args[0])
			if err != nil {
				return err
			}
			shown := 0
			for _, a := range list {
				if !a.Alive && !noteAll {
					continue
				}
				state := ""
				if !a.Alive {
					state = "  (deleted)"
				}
				cmd.Printf("%s  %s  %s%s\n", annotation.FormatTime(a.TimeMs), a.ID, a.Text, state)
				shown++
			}
			if shown == 0 {
				cmd.Println("no annotations")
			}
			return nil
		})
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit <video-id> <id> <text>",
	Short: "Replace an annotation's text",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateNote(args[0], args[1], func(a *annotation.Annotation) {
			a.Text = args[2]
		})
	},
}

var noteRmCmd = &cobra.Command{
	Use:   "rm <video-id> <id>",
	Short: "Delete an annotation (kept as deleted unless --purge)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if notePurge {
			return withStore(func(store annotation.Store) error {
				return notFound(store.Delete(args[0], args[1]), args[1])
			})
		}
		return updateNote(args[0], args[1], func(a *annotation.Annotation) {
			a.Alive = false
		})
	},
}

// withStore opens the configured annotation store for the duration of fn.
func withStore(fn func(annotation.Store) error) error {
	st, err := openStores(GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st.annotations)
}

// updateNote loads the annotation with a matching id or id prefix, applies
// mutate and saves it.
func updateNote(videoID, id string, mutate func(*annotation.Annotation)) error {
	return withStore(func(store annotation.Store) error {
		list, err := store.Load(videoID)
		if err != nil {
			return err
		}
		var match []annotation.Annotation
		for _, a := range list {
			if a.ID == id {
				match = []annotation.Annotation{a}
				break
			}
			if strings.HasPrefix(a.ID, id) {
				match = append(match, a)
			}
		}
		switch len(match) {
		case 0:
			return notFound(annotation.ErrNotFound, id)
		case 1:
		default:
			return fmt.Errorf("id prefix %q is ambiguous (%d matches)", id, len(match))
		}
		a := match[0]
		mutate(&a)
		a.UpdatedAt = time.Now().UTC()
		return store.Save(a)
	})
}

func notFound(err error, id string) error {
	if errors.Is(err, annotation.ErrNotFound) {
		return fmt.Errorf("no annotation %q", id)
	}
	return err
}

func init() {
	noteAddCmd.Flags().Float32Var(&noteX, "x", 0.5, "horizontal position, 0 (left) to 1 (right)")
	noteAddCmd.Flags().Float32Var(&noteY, "y", 0.5, "vertical position, 0 (top) to 1 (bottom)")
	noteListCmd.Flags().BoolVar(&noteAll, "all", false, "include deleted annotations")
	noteRmCmd.Flags().BoolVar(&notePurge, "purge", false, "remove the annotation permanently")
	noteCmd.AddCommand(noteAddCmd, noteListCmd, noteEditCmd, noteRmCmd)
	rootCmd.AddCommand(noteCmd)
}
