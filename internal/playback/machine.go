// Package playback implements the playback state machine and the
// pause-on-annotation protocol.
//
// A Machine drives a media engine, a position clock and a render
// dispatcher. Like its collaborators it lives on one event loop: every
// method must be called from that loop, including the clock listener
// (OnTick) and the engine's prepared callback (OnPrepared).
package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/clock"
	"github.com/fakeyudi/vidnote/internal/dispatch"
	"github.com/fakeyudi/vidnote/internal/logging"
	"github.com/fakeyudi/vidnote/internal/loop"
	"github.com/fakeyudi/vidnote/internal/media"
)

// Config tunes the pause-on-annotation protocol.
type Config struct {
	// DisplayDuration is how long an annotation pause lasts without
	// interaction.
	DisplayDuration time.Duration
	// CountdownStep is the period of the countdown check.
	CountdownStep     time.Duration
	PauseOnAnnotation bool
	Autoplay          bool
	// FuzzyTolerance is the seek tolerance passed to FuzzyRender, in ms.
	FuzzyTolerance uint64
	// StartMs is where playback begins once the media is prepared.
	StartMs uint64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		DisplayDuration:   3000 * time.Millisecond,
		CountdownStep:     50 * time.Millisecond,
		PauseOnAnnotation: true,
		Autoplay:          true,
		FuzzyTolerance:    dispatch.DefaultFuzzyTolerance,
	}
}

// Deps are the collaborators a Machine drives. Listener and Logger are
// optional.
type Deps struct {
	Scheduler  loop.Scheduler
	Engine     media.Engine
	Clock      *clock.Clock
	Dispatcher *dispatch.Dispatcher
	Listener   Listener
	Logger     zerolog.Logger
	VideoID    string
	Meter      metric.Meter
}

// Machine is the playback state machine of one session.
type Machine struct {
	sched    loop.Scheduler
	engine   media.Engine
	clock    *clock.Clock
	disp     *dispatch.Dispatcher
	listener Listener
	log      logging.SessionLogger
	cfg      Config

	state     State
	seen      map[string]struct{}
	stalled   bool
	countdown *loop.Task
	elapsed   time.Duration
	progress  float64
	released  bool

	// OTEL metrics
	pauses metric.Int64Counter
}

// New returns an Unprepared machine. Call Prepare to load the media.
func New(deps Deps, cfg Config) (*Machine, error) {
	if deps.Scheduler == nil || deps.Engine == nil || deps.Clock == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("playback: scheduler, engine, clock and dispatcher are required")
	}
	def := DefaultConfig()
	if cfg.DisplayDuration <= 0 {
		cfg.DisplayDuration = def.DisplayDuration
	}
	if cfg.CountdownStep <= 0 {
		cfg.CountdownStep = def.CountdownStep
	}

	m := &Machine{
		sched:    deps.Scheduler,
		engine:   deps.Engine,
		clock:    deps.Clock,
		disp:     deps.Dispatcher,
		listener: deps.Listener,
		log:      logging.ForSession(deps.Logger, deps.VideoID),
		cfg:      cfg,
		state:    Unprepared,
		seen:     make(map[string]struct{}),
	}
	if m.listener == nil {
		m.listener = ListenerFuncs{}
	}

	mt := deps.Meter
	if mt == nil {
		mt = meter()
	}
	var err error
	m.pauses, err = mt.Int64Counter(
		"vidnote.playback.annotation_pauses",
		metric.WithDescription("Automatic pauses triggered by reaching an annotation"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pause counter: %w", err)
	}
	return m, nil
}

// Prepare asks the engine to load the source. The result arrives through
// OnPrepared.
func (m *Machine) Prepare() {
	if m.released || m.state != Unprepared {
		return
	}
	m.engine.Prepare(m.OnPrepared)
}

// OnPrepared handles the engine's single prepared event. A failure leaves the
// machine Unprepared and is reported to the listener as a MediaError.
func (m *Machine) OnPrepared(err error) {
	if m.released || m.state != Unprepared {
		return
	}
	if err != nil {
		merr := &MediaError{Err: err}
		m.log.MediaFailed(err)
		m.listener.OnError(merr)
		return
	}
	m.log.Prepared(m.engine.DurationMs())
	m.transition(Prepared)
	if m.cfg.StartMs > 0 {
		m.seek(min(m.cfg.StartMs, m.engine.DurationMs()))
	}
	if m.cfg.Autoplay {
		_ = m.Play()
	}
}

// Play starts or resumes playback. From AnnotationPaused it skips the rest
// of the countdown.
func (m *Machine) Play() error {
	if m.released {
		return nil
	}
	switch m.state {
	case Unprepared:
		return ErrNotPrepared
	case Playing:
		return nil
	}
	m.cancelCountdown()
	m.resume()
	return nil
}

// Pause stops playback. From AnnotationPaused the countdown is abandoned.
func (m *Machine) Pause() error {
	if m.released {
		return nil
	}
	switch m.state {
	case Unprepared:
		return ErrNotPrepared
	case Playing, AnnotationPaused:
		m.halt()
		m.transition(Paused)
	}
	return nil
}

// TogglePlay pauses when playing and plays otherwise.
func (m *Machine) TogglePlay() error {
	if m.state == Playing {
		return m.Pause()
	}
	return m.Play()
}

// SeekTo moves playback to ms, clamped to the media duration. Rendered and
// seen state are recomputed for the new position and the nearest
// annotations are shown. A seek during an annotation pause ends it in
// Paused.
func (m *Machine) SeekTo(ms uint64) error {
	if m.released {
		return nil
	}
	if m.state == Unprepared {
		return ErrNotPrepared
	}
	if d := m.engine.DurationMs(); ms > d {
		ms = d
	}
	from := m.clock.PredictedPositionMs()
	m.seek(ms)
	m.log.Seeked(from, ms)
	if m.state == AnnotationPaused {
		m.cancelCountdown()
		m.transition(Paused)
	}
	return nil
}

// OnTick is the clock listener. While playing it renders what became due
// and pauses on annotations reached for the first time.
func (m *Machine) OnTick(positionMs uint64) {
	if m.released || m.state != Playing {
		return
	}

	var fresh int
	for _, a := range m.disp.Render(positionMs) {
		if _, ok := m.seen[a.ID]; ok {
			continue
		}
		m.seen[a.ID] = struct{}{}
		fresh++
	}
	if fresh > 0 && m.cfg.PauseOnAnnotation {
		m.annotationPause(positionMs, fresh)
		return
	}

	if positionMs >= m.engine.DurationMs() {
		m.endOfMedia()
	}
}

// SetStalled suspends (true) or releases (false) the annotation countdown,
// e.g. while a touch is held down. A stall only exists during a countdown:
// outside AnnotationPaused it is ignored, and leaving that state clears it.
func (m *Machine) SetStalled(stalled bool) {
	if m.released || (stalled && m.state != AnnotationPaused) {
		return
	}
	m.stalled = stalled
}

// TapAnnotation escalates to a manual pause so the tapped annotation can be
// edited. It returns the annotation, or false if no live annotation has id.
func (m *Machine) TapAnnotation(id string) (annotation.Annotation, bool) {
	if m.released {
		return annotation.Annotation{}, false
	}
	var (
		found annotation.Annotation
		ok    bool
	)
	for _, a := range m.disp.Annotations() {
		if a.ID == id && a.Alive {
			found, ok = a, true
			break
		}
	}
	if !ok {
		return annotation.Annotation{}, false
	}
	if m.state == Playing || m.state == AnnotationPaused {
		m.halt()
		m.transition(Paused)
	}
	return found, true
}

// Refresh re-derives rendered state at the current position after the
// annotation set changed, and shows the nearest annotations.
func (m *Machine) Refresh() {
	if m.released {
		return
	}
	pos := m.clock.PredictedPositionMs()
	m.disp.RecalculateRendered(pos)
	m.disp.FuzzyRender(pos, m.cfg.FuzzyTolerance)
}

// MarkSeen keeps an annotation from triggering a pause, e.g. one the user
// just created at the current position.
func (m *Machine) MarkSeen(id string) {
	m.seen[id] = struct{}{}
}

// Seen reports whether the annotation has been passed in the current pass.
func (m *Machine) Seen(id string) bool {
	_, ok := m.seen[id]
	return ok
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Progress returns the annotation countdown as a percentage 0..100.
func (m *Machine) Progress() float64 { return m.progress }

// Stalled reports whether the countdown is suspended.
func (m *Machine) Stalled() bool { return m.stalled }

// Position returns the predicted playback position.
func (m *Machine) Position() uint64 { return m.clock.PredictedPositionMs() }

// Release cancels the countdown. Every later call, and any callback still in
// flight, is a no-op.
func (m *Machine) Release() {
	if m.released {
		return
	}
	m.released = true
	m.cancelCountdown()
	m.listener = ListenerFuncs{}
}

// Released reports whether Release has been called.
func (m *Machine) Released() bool { return m.released }

// ── Transitions ─────────────────────────────────────────────────────────────

func (m *Machine) transition(to State) {
	if m.state == to {
		return
	}
	from := m.state
	m.state = to
	m.log.StateChanged(from, to)
	m.listener.OnStateChanged(to)
}

// resume continues from the frozen clock position.
func (m *Machine) resume() {
	m.engine.Play()
	m.clock.Start(m.clock.PredictedPositionMs())
	m.transition(Playing)
}

// halt stops the engine, the clock and any countdown.
func (m *Machine) halt() {
	m.cancelCountdown()
	m.engine.Pause()
	m.clock.Stop()
}

func (m *Machine) seek(ms uint64) {
	m.engine.SeekTo(ms)
	m.clock.Reset(ms)
	m.resetSeen(ms)
	m.disp.RecalculateRendered(ms)
	m.disp.FuzzyRender(ms, m.cfg.FuzzyTolerance)
}

// resetSeen marks exactly the annotations at or before ms as seen.
func (m *Machine) resetSeen(ms uint64) {
	clear(m.seen)
	for _, a := range m.disp.Annotations() {
		if a.TimeMs <= ms {
			m.seen[a.ID] = struct{}{}
		}
	}
}

func (m *Machine) endOfMedia() {
	m.halt()
	m.seek(0)
	m.log.EndOfMedia()
	m.transition(Paused)
}

// ── Annotation countdown ────────────────────────────────────────────────────

func (m *Machine) annotationPause(positionMs uint64, count int) {
	m.engine.Pause()
	m.clock.Stop()
	m.elapsed = 0
	m.progress = 0
	m.stalled = false
	m.pauses.Add(context.Background(), 1)
	m.log.AnnotationPaused(positionMs, count)
	m.transition(AnnotationPaused)
	m.listener.OnPauseProgress(0)
	m.countdown = m.sched.Every(m.cfg.CountdownStep, m.countdownTick)
}

// countdownTick advances the countdown by one step unless stalled. The state
// is checked on every step: any transition out of AnnotationPaused makes
// the pending step a no-op.
func (m *Machine) countdownTick() {
	if m.released || m.state != AnnotationPaused {
		m.cancelCountdown()
		return
	}
	if m.stalled {
		return
	}
	m.elapsed += m.cfg.CountdownStep
	m.progress = min(100, 100*float64(m.elapsed)/float64(m.cfg.DisplayDuration))
	m.listener.OnPauseProgress(m.progress)
	if m.elapsed < m.cfg.DisplayDuration {
		return
	}
	m.cancelCountdown()
	// The listener may have moved us on in the meantime.
	if m.state != AnnotationPaused || m.released {
		return
	}
	m.log.Resumed(m.clock.PredictedPositionMs())
	m.resume()
}

func (m *Machine) cancelCountdown() {
	m.countdown.Cancel()
	m.countdown = nil
	m.progress = 0
	m.stalled = false
}
