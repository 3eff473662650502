// Package logging builds the zerolog loggers used across vidnote.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/rs/zerolog"
)

// New returns a logger writing to w at the named level. Terminals get
// zerolog's console format, everything else gets JSON lines.
func New(level string, w io.Writer) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		var err error
		lvl, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	if isTerminal(w) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// OpenFile opens (appending) a log file, for UIs that own the terminal.
func OpenFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// SessionLogger tags every line with the video being played.
type SessionLogger struct {
	zerolog zerolog.Logger
}

// ForSession returns a SessionLogger for videoID.
func ForSession(log zerolog.Logger, videoID string) SessionLogger {
	return SessionLogger{log.With().Str("video-id", videoID).Logger()}
}

// Logger returns the underlying tagged logger.
func (l SessionLogger) Logger() zerolog.Logger {
	return l.zerolog
}

func (l SessionLogger) Prepared(durationMs uint64) {
	l.zerolog.Info().Uint64("duration_ms", durationMs).Msg("Media prepared")
}

func (l SessionLogger) MediaFailed(err error) {
	l.zerolog.Error().Err(err).Msg("Media failed to prepare")
}

func (l SessionLogger) StateChanged(from, to fmt.Stringer) {
	l.zerolog.Debug().Stringer("from", from).Stringer("to", to).Msg("Playback state changed")
}

func (l SessionLogger) AnnotationPaused(positionMs uint64, count int) {
	l.zerolog.Info().Uint64("position_ms", positionMs).Int("count", count).Msg("Paused on annotation")
}

func (l SessionLogger) Resumed(positionMs uint64) {
	l.zerolog.Debug().Uint64("position_ms", positionMs).Msg("Countdown elapsed, resuming")
}

func (l SessionLogger) Seeked(fromMs, toMs uint64) {
	l.zerolog.Debug().Uint64("from_ms", fromMs).Uint64("to_ms", toMs).Msg("Seek")
}

func (l SessionLogger) EndOfMedia() {
	l.zerolog.Info().Msg("End of media, rewound to start")
}

func (l SessionLogger) StorageFailed(op, annotationID string, err error) {
	l.zerolog.Error().Err(err).Str("op", op).Str("annotation-id", annotationID).Msg("Storage error")
}

func (l SessionLogger) Reloaded(count int) {
	l.zerolog.Info().Int("count", count).Msg("Annotations reloaded")
}

func (l SessionLogger) Released() {
	l.zerolog.Info().Msg("Session released")
}
