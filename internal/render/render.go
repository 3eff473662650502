// Package render holds the concrete render strategies: a subtitle writer
// for plain terminals, a structured event log, and a feed the TUI polls.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/dispatch"
)

// Subtitle prints each batch as subtitle lines.
type Subtitle struct {
	w io.Writer
}

// NewSubtitle returns a Subtitle writing to w.
func NewSubtitle(w io.Writer) *Subtitle {
	return &Subtitle{w: w}
}

func (s *Subtitle) Name() string                    { return "subtitle" }
func (s *Subtitle) Initialize(*dispatch.Dispatcher) {}
func (s *Subtitle) Clear() error                    { return nil }
func (s *Subtitle) Release()                        {}

func (s *Subtitle) Execute(batch []annotation.Annotation) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", annotation.FormatTime(batch[0].TimeMs))
	for i, a := range batch {
		if i > 0 {
			b.WriteString(" |")
		}
		b.WriteString(" ")
		b.WriteString(a.Text)
	}
	b.WriteString("\n")
	_, err := io.WriteString(s.w, b.String())
	return err
}

// EventLog records every dispatched batch as a structured log line.
type EventLog struct {
	log zerolog.Logger
}

// NewEventLog returns an EventLog writing to log.
func NewEventLog(log zerolog.Logger) *EventLog {
	return &EventLog{log: log}
}

func (e *EventLog) Name() string                    { return "event-log" }
func (e *EventLog) Initialize(*dispatch.Dispatcher) {}
func (e *EventLog) Clear() error                    { return nil }
func (e *EventLog) Release()                        {}

func (e *EventLog) Execute(batch []annotation.Annotation) error {
	ids := make([]string, 0, len(batch))
	for _, a := range batch {
		ids = append(ids, a.ID)
	}
	e.log.Info().
		Uint64("time_ms", batch[0].TimeMs).
		Strs("annotation-ids", ids).
		Msg("Annotations shown")
	return nil
}
