// Package session ties one video's playback together: the event loop, the
// media engine, the position clock, the render dispatcher, the playback
// state machine and the annotation store.
//
// A Session is the only object callers on other goroutines talk to. Every
// method marshals its work onto the event loop and waits for it, so the
// components underneath never see concurrent calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/clock"
	"github.com/fakeyudi/vidnote/internal/dispatch"
	"github.com/fakeyudi/vidnote/internal/logging"
	"github.com/fakeyudi/vidnote/internal/loop"
	"github.com/fakeyudi/vidnote/internal/media"
	"github.com/fakeyudi/vidnote/internal/playback"
)

// ErrReleased is returned by every call made after Release.
var ErrReleased = errors.New("session released")

// StorageError reports an annotation that could not be persisted. The
// change is not applied and is not retried.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage error: " + e.Op + " annotation " + e.ID + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Editor receives annotation requests that originate from user input. The
// editor is expected to come back with CreateAnnotation, EditAnnotation,
// MoveAnnotation or DeleteAnnotation once the user has decided. Editor
// methods run on the event loop and must not call back into the Session
// before returning.
type Editor interface {
	OnCreateRequested(x, y float32)
	OnEditRequested(a annotation.Annotation)
	OnMoveRequested(a annotation.Annotation, x, y float32)
	OnDeleteRequested(a annotation.Annotation)
}

// Deps are the collaborators of a session. Editor, Listener, Bookmarks and
// Strategies are optional.
type Deps struct {
	Scheduler  loop.Scheduler
	Engine     media.Engine
	Store      annotation.Store
	Bookmarks  BookmarkStore
	Editor     Editor
	Listener   playback.Listener
	Logger     zerolog.Logger
	Strategies []dispatch.Strategy
}

// Config describes what to play and how.
type Config struct {
	VideoID               string
	CreatorID             string
	TickInterval          time.Duration
	RecalibrationInterval time.Duration
	Playback              playback.Config
}

// Status is a point-in-time view of the session for UIs.
type Status struct {
	State      playback.State
	PositionMs uint64
	DurationMs uint64
	Progress   float64
	Stalled    bool
	Count      int // live annotations
}

// Session is one playback session.
type Session struct {
	sched     loop.Scheduler
	engine    media.Engine
	store     annotation.Store
	bookmarks BookmarkStore
	editor    Editor
	listener  playback.Listener
	log       logging.SessionLogger
	cfg       Config

	clock    *clock.Clock
	disp     *dispatch.Dispatcher
	machine  *playback.Machine
	released atomic.Bool
}

// New loads the video's annotations, wires the components on the event loop
// and asks the engine to prepare. The scheduler must already be running.
func New(ctx context.Context, deps Deps, cfg Config) (*Session, error) {
	if deps.Scheduler == nil || deps.Engine == nil || deps.Store == nil {
		return nil, errors.New("session: scheduler, engine and store are required")
	}
	if cfg.VideoID == "" {
		return nil, annotation.ErrInvalidVideoID
	}
	s := &Session{
		sched:     deps.Scheduler,
		engine:    deps.Engine,
		store:     deps.Store,
		bookmarks: deps.Bookmarks,
		editor:    deps.Editor,
		listener:  deps.Listener,
		log:       logging.ForSession(deps.Logger, cfg.VideoID),
		cfg:       cfg,
	}
	if s.listener == nil {
		s.listener = playback.ListenerFuncs{}
	}

	list, err := s.store.Load(cfg.VideoID)
	if err != nil {
		return nil, fmt.Errorf("loading annotations: %w", err)
	}

	var setupErr error
	err = s.sched.Do(ctx, func() {
		setupErr = s.setup(deps, list)
	})
	if err != nil {
		return nil, err
	}
	if setupErr != nil {
		return nil, setupErr
	}
	return s, nil
}

// setup runs on the event loop.
func (s *Session) setup(deps Deps, list []annotation.Annotation) error {
	log := s.log.Logger()

	disp, err := dispatch.New(log)
	if err != nil {
		return err
	}
	for _, st := range deps.Strategies {
		disp.AddStrategy(st)
	}
	disp.SetAnnotations(list)

	clk := clock.New(s.sched,
		clock.WithSource(s.engine),
		clock.WithTickInterval(s.cfg.TickInterval),
		clock.WithRecalibrationInterval(s.cfg.RecalibrationInterval),
		clock.WithLogger(log),
	)

	machine, err := playback.New(playback.Deps{
		Scheduler:  s.sched,
		Engine:     s.engine,
		Clock:      clk,
		Dispatcher: disp,
		Listener:   s.listener,
		Logger:     deps.Logger,
		VideoID:    s.cfg.VideoID,
	}, s.cfg.Playback)
	if err != nil {
		clk.Release()
		disp.Release()
		return err
	}
	clk.OnTick(machine.OnTick)

	s.clock, s.disp, s.machine = clk, disp, machine
	machine.Prepare()
	return nil
}

// do runs fn on the event loop unless the session is released.
func (s *Session) do(ctx context.Context, fn func() error) error {
	if s.released.Load() {
		return ErrReleased
	}
	var err error
	derr := s.sched.Do(ctx, func() {
		// Release may have won the race to the loop.
		if s.machine.Released() {
			err = ErrReleased
			return
		}
		err = fn()
	})
	if errors.Is(derr, loop.ErrClosed) {
		return ErrReleased
	}
	if derr != nil {
		return derr
	}
	return err
}

// ── Transport ───────────────────────────────────────────────────────────────

func (s *Session) Play(ctx context.Context) error {
	return s.do(ctx, s.machine.Play)
}

func (s *Session) Pause(ctx context.Context) error {
	return s.do(ctx, s.machine.Pause)
}

func (s *Session) TogglePlay(ctx context.Context) error {
	return s.do(ctx, s.machine.TogglePlay)
}

// SeekTo jumps to ms.
func (s *Session) SeekTo(ctx context.Context, ms uint64) error {
	return s.do(ctx, func() error { return s.machine.SeekTo(ms) })
}

// SeekBy jumps relative to the current position, stopping at 0.
func (s *Session) SeekBy(ctx context.Context, delta time.Duration) error {
	return s.do(ctx, func() error {
		pos := int64(s.machine.Position()) + delta.Milliseconds()
		return s.machine.SeekTo(uint64(max(pos, 0)))
	})
}

// SetStalled suspends the annotation countdown while the user is
// interacting.
func (s *Session) SetStalled(ctx context.Context, stalled bool) error {
	return s.do(ctx, func() error {
		s.machine.SetStalled(stalled)
		return nil
	})
}

// ── Editing ─────────────────────────────────────────────────────────────────

// TapAnnotation pauses playback and asks the editor to edit the annotation.
func (s *Session) TapAnnotation(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		a, ok := s.machine.TapAnnotation(id)
		if !ok {
			return annotation.ErrNotFound
		}
		if s.editor != nil {
			s.editor.OnEditRequested(a)
		}
		return nil
	})
}

// RequestCreate forwards a create gesture at (x, y) to the editor.
func (s *Session) RequestCreate(ctx context.Context, x, y float32) error {
	return s.do(ctx, func() error {
		if s.editor != nil {
			s.editor.OnCreateRequested(annotation.Clamp(x), annotation.Clamp(y))
		}
		return nil
	})
}

// RequestMove forwards a drag of an annotation to (x, y) to the editor.
func (s *Session) RequestMove(ctx context.Context, id string, x, y float32) error {
	return s.do(ctx, func() error {
		a, ok := s.find(id)
		if !ok {
			return annotation.ErrNotFound
		}
		if s.editor != nil {
			s.editor.OnMoveRequested(a, annotation.Clamp(x), annotation.Clamp(y))
		}
		return nil
	})
}

// RequestDelete forwards a delete gesture to the editor.
func (s *Session) RequestDelete(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		a, ok := s.find(id)
		if !ok {
			return annotation.ErrNotFound
		}
		if s.editor != nil {
			s.editor.OnDeleteRequested(a)
		}
		return nil
	})
}

// CreateAnnotation adds an annotation at the current position. It does not
// trigger an annotation pause when playback goes on.
func (s *Session) CreateAnnotation(ctx context.Context, x, y float32, text string) (annotation.Annotation, error) {
	var created annotation.Annotation
	err := s.do(ctx, func() error {
		a := annotation.New(s.cfg.VideoID, s.machine.Position(), text,
			annotation.Clamp(x), annotation.Clamp(y), s.cfg.CreatorID)
		if err := s.persist("create", a); err != nil {
			return err
		}
		s.machine.MarkSeen(a.ID)
		s.apply(append(s.disp.Annotations(), a))
		created = a
		return nil
	})
	return created, err
}

// EditAnnotation replaces the text of an annotation.
func (s *Session) EditAnnotation(ctx context.Context, id, text string) error {
	return s.update(ctx, "edit", id, func(a *annotation.Annotation) {
		a.Text = text
	})
}

// MoveAnnotation changes the on-screen position of an annotation.
func (s *Session) MoveAnnotation(ctx context.Context, id string, x, y float32) error {
	return s.update(ctx, "move", id, func(a *annotation.Annotation) {
		a.X, a.Y = annotation.Clamp(x), annotation.Clamp(y)
	})
}

// DeleteAnnotation soft-deletes an annotation.
func (s *Session) DeleteAnnotation(ctx context.Context, id string) error {
	return s.update(ctx, "delete", id, func(a *annotation.Annotation) {
		a.Alive = false
	})
}

// Reload re-reads the store and applies the result if it differs, e.g.
// after another process edited the video's annotations.
func (s *Session) Reload(ctx context.Context) error {
	return s.do(ctx, func() error {
		list, err := s.store.Load(s.cfg.VideoID)
		if err != nil {
			serr := &StorageError{Op: "load", ID: s.cfg.VideoID, Err: err}
			s.log.StorageFailed("load", "", err)
			s.listener.OnError(serr)
			return serr
		}
		annotation.Sort(list)
		if annotation.Equal(list, s.disp.Annotations()) {
			return nil
		}
		s.apply(list)
		s.log.Reloaded(len(list))
		return nil
	})
}

func (s *Session) update(ctx context.Context, op, id string, mutate func(*annotation.Annotation)) error {
	return s.do(ctx, func() error {
		list := s.disp.Annotations()
		i := slices.IndexFunc(list, func(a annotation.Annotation) bool { return a.ID == id && a.Alive })
		if i < 0 {
			return annotation.ErrNotFound
		}
		a := list[i]
		mutate(&a)
		a.UpdatedAt = time.Now().UTC()
		if err := s.persist(op, a); err != nil {
			return err
		}
		list[i] = a
		s.apply(list)
		return nil
	})
}

// persist saves a, reporting failures to the listener.
func (s *Session) persist(op string, a annotation.Annotation) error {
	if err := s.store.Save(a); err != nil {
		serr := &StorageError{Op: op, ID: a.ID, Err: err}
		s.log.StorageFailed(op, a.ID, err)
		s.listener.OnError(serr)
		return serr
	}
	return nil
}

// apply installs a new annotation set and re-derives what is on screen.
func (s *Session) apply(list []annotation.Annotation) {
	s.disp.SetAnnotations(list)
	s.machine.Refresh()
}

func (s *Session) find(id string) (annotation.Annotation, bool) {
	for _, a := range s.disp.Annotations() {
		if a.ID == id && a.Alive {
			return a, true
		}
	}
	return annotation.Annotation{}, false
}

// ── Queries ─────────────────────────────────────────────────────────────────

// State returns the playback state.
func (s *Session) State(ctx context.Context) (playback.State, error) {
	var st playback.State
	err := s.do(ctx, func() error {
		st = s.machine.State()
		return nil
	})
	return st, err
}

// Position returns the predicted playback position in ms.
func (s *Session) Position(ctx context.Context) (uint64, error) {
	var pos uint64
	err := s.do(ctx, func() error {
		pos = s.machine.Position()
		return nil
	})
	return pos, err
}

// Status returns a snapshot for display.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() error {
		st = Status{
			State:      s.machine.State(),
			PositionMs: s.machine.Position(),
			DurationMs: s.engine.DurationMs(),
			Progress:   s.machine.Progress(),
			Stalled:    s.machine.Stalled(),
		}
		for _, a := range s.disp.Annotations() {
			if a.Alive {
				st.Count++
			}
		}
		return nil
	})
	return st, err
}

// Annotations returns the live annotations sorted by time.
func (s *Session) Annotations(ctx context.Context) ([]annotation.Annotation, error) {
	var list []annotation.Annotation
	err := s.do(ctx, func() error {
		list = slices.DeleteFunc(s.disp.Annotations(), func(a annotation.Annotation) bool { return !a.Alive })
		return nil
	})
	return list, err
}

// ── Teardown ────────────────────────────────────────────────────────────────

// Release tears the session down on the event loop: the countdown and both
// clock timers are cancelled before anything else is dropped, so a callback
// already in flight finds a released component and does nothing. The
// position reached is bookmarked. Later calls return nil.
//
// If ctx ends before the loop gets to the teardown, the session is left
// unreleased and Release may be called again. If the loop has already
// stopped, the teardown runs on the caller's goroutine instead.
func (s *Session) Release(ctx context.Context) error {
	if s.released.Swap(true) {
		return nil
	}
	err := s.sched.Do(ctx, s.teardown)
	switch {
	case errors.Is(err, loop.ErrClosed):
		s.teardown()
		return nil
	case err != nil:
		s.released.Store(false)
		return err
	}
	return nil
}

func (s *Session) teardown() {
	pos := s.machine.Position()
	s.machine.Release()
	s.clock.Release()
	s.disp.Release()
	s.engine.Release()

	if s.bookmarks != nil {
		b := Bookmark{VideoID: s.cfg.VideoID, PositionMs: pos, SavedAt: time.Now().UTC()}
		if err := s.bookmarks.Save(b); err != nil {
			s.log.StorageFailed("bookmark", "", err)
		}
	}
	s.log.Released()
}

// Released reports whether Release has been called.
func (s *Session) Released() bool { return s.released.Load() }
