package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/dispatch"
	"github.com/fakeyudi/vidnote/internal/logging"
	"github.com/fakeyudi/vidnote/internal/loop"
	"github.com/fakeyudi/vidnote/internal/media"
	"github.com/fakeyudi/vidnote/internal/playback"
	"github.com/fakeyudi/vidnote/internal/render"
	"github.com/fakeyudi/vidnote/internal/session"
	"github.com/fakeyudi/vidnote/internal/tui"
)

var (
	playDuration time.Duration
	playPlain    bool
	playNoPause  bool
	playStart    string
)

var playCmd = &cobra.Command{
	Use:   "play <video-id>",
	Short: "Play a video with its annotations",
	Long: `Play a video with its annotations.

Playback resumes where it stopped last time unless --start is given. With
--plain, annotations are printed as subtitle lines and playback ends at the
end of the video; otherwise an interactive player takes over the terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runPlay(ctx, cmd, args[0])
	},
}

func runPlay(ctx context.Context, cmd *cobra.Command, videoID string) error {
	c := GetConfig()
	st, err := openStores(c)
	if err != nil {
		return err
	}
	defer st.Close()

	// The player owns the terminal, so its logs go to a file.
	plain := playPlain || !term.IsTerminal(os.Stdout.Fd())
	log := logger
	if !plain && logFile == "" {
		dir, err := dataDir(c)
		if err != nil {
			return err
		}
		f, err := logging.OpenFile(filepath.Join(dir, "vidnote.log"))
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		if log, err = logging.New(c.LogLevel, f); err != nil {
			return err
		}
	}

	pb := c.Playback()
	if playNoPause {
		pb.PauseOnAnnotation = false
	}
	pb.StartMs, err = startOffset(st.bookmarks, videoID)
	if err != nil {
		return err
	}

	// The loop outlives the UI so the session can still be released and
	// bookmarked after an interrupt.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	lp := loop.New(256, log)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return lp.Run(gctx) })

	deps := session.Deps{
		Scheduler: lp,
		Engine:    media.NewSimulated(lp, playDuration),
		Store:     st.annotations,
		Bookmarks: st.bookmarks,
		Logger:    log,
	}
	scfg := session.Config{
		VideoID:               videoID,
		CreatorID:             creatorID(),
		TickInterval:          time.Duration(c.TickInterval),
		RecalibrationInterval: time.Duration(c.RecalibrationInterval),
		Playback:              pb,
	}

	var ui func(*session.Session) error
	if plain {
		ended := newEndWatcher()
		deps.Strategies = []dispatch.Strategy{render.NewSubtitle(cmd.OutOrStdout()), render.NewEventLog(log)}
		deps.Listener = ended
		ui = func(*session.Session) error { return ended.wait(ctx) }
	} else {
		bridge := tui.NewBridge()
		feed := render.NewFeed()
		deps.Strategies = []dispatch.Strategy{feed, render.NewEventLog(log)}
		deps.Listener = bridge
		deps.Editor = bridge
		ui = func(s *session.Session) error {
			return tui.Run(ctx, s, bridge, feed, videoID, time.Duration(c.SeekStep))
		}
	}

	sess, err := session.New(ctx, deps, scfg)
	if err != nil {
		stopLoop()
		_ = g.Wait()
		return err
	}

	if path := st.watchPath(videoID); path != "" {
		g.Go(func() error {
			return annotation.Watch(gctx, path, func() {
				if err := sess.Reload(gctx); err != nil && !errors.Is(err, session.ErrReleased) {
					log.Warn().Err(err).Str("video-id", videoID).Msg("Reload after external change failed")
				}
			})
		})
	}

	uiErr := ui(sess)

	releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.Release(releaseCtx); err != nil {
		log.Warn().Err(err).Msg("Release failed")
	}
	stopLoop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return uiErr
}

// startOffset resolves --start, falling back to the saved bookmark.
func startOffset(bookmarks session.BookmarkStore, videoID string) (uint64, error) {
	if playStart != "" {
		ms, err := annotation.ParseTime(playStart)
		if err != nil {
			return 0, fmt.Errorf("--start: %w", err)
		}
		return ms, nil
	}
	b, err := bookmarks.Load(videoID)
	if errors.Is(err, session.ErrNoBookmark) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.PositionMs, nil
}

// endWatcher is the plain player's listener: it reports the first return to
// Paused after playback started, which without a keyboard can only be the
// end of the video, and any media error.
type endWatcher struct {
	once   sync.Once
	done   chan struct{}
	played bool

	mu  sync.Mutex
	err error
}

func newEndWatcher() *endWatcher {
	return &endWatcher{done: make(chan struct{})}
}

func (e *endWatcher) OnStateChanged(s playback.State) {
	switch s {
	case playback.Playing:
		e.played = true
	case playback.Paused:
		if e.played {
			e.finish(nil)
		}
	}
}

func (e *endWatcher) OnPauseProgress(float64) {}

func (e *endWatcher) OnError(err error) {
	var me *playback.MediaError
	if errors.As(err, &me) {
		e.finish(err)
	}
}

func (e *endWatcher) finish(err error) {
	e.once.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *endWatcher) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.err
	}
}

func init() {
	playCmd.Flags().DurationVar(&playDuration, "duration", 10*time.Minute, "length of the simulated video")
	playCmd.Flags().BoolVar(&playPlain, "plain", false, "print annotations as subtitle lines instead of opening the player")
	playCmd.Flags().BoolVar(&playNoPause, "no-pause", false, "keep playing when an annotation is reached")
	playCmd.Flags().StringVar(&playStart, "start", "", "start offset as m:ss.mmm or a duration (default: last position)")
	rootCmd.AddCommand(playCmd)
}
