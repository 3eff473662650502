package media

import (
	"time"

	"github.com/fakeyudi/vidnote/internal/loop"
)

// Default simulation parameters.
const (
	DefaultGranularity  = 250 * time.Millisecond
	DefaultPrepareDelay = 100 * time.Millisecond
)

// SimOption configures a Simulated engine.
type SimOption func(*Simulated)

// WithGranularity sets the resolution of reported positions. Values under
// a millisecond are ignored.
func WithGranularity(d time.Duration) SimOption {
	return func(s *Simulated) {
		if d >= time.Millisecond {
			s.granularity = d.Milliseconds()
		}
	}
}

// WithPrepareDelay sets how long Prepare takes to report.
func WithPrepareDelay(d time.Duration) SimOption {
	return func(s *Simulated) { s.prepareDelay = d }
}

// WithRate sets the playback rate. A rate other than 1 makes the engine
// drift away from wall-clock extrapolation.
func WithRate(rate float64) SimOption {
	return func(s *Simulated) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// Simulated is an Engine with no picture: a transport that advances with the
// scheduler's clock and reports its position rounded down to a coarse
// granularity, like a real player's position callback.
type Simulated struct {
	sched        loop.Scheduler
	duration     uint64
	granularity  int64
	prepareDelay time.Duration
	rate         float64

	timeMs     float64
	paused     bool
	lastUpdate time.Time

	prepared bool
	prepare  *loop.Task
	released bool
}

// NewSimulated returns a paused engine for a video of the given length. A
// zero duration models a missing source.
func NewSimulated(sched loop.Scheduler, duration time.Duration, opts ...SimOption) *Simulated {
	s := &Simulated{
		sched:        sched,
		duration:     uint64(duration.Milliseconds()),
		granularity:  DefaultGranularity.Milliseconds(),
		prepareDelay: DefaultPrepareDelay,
		rate:         1,
		paused:       true,
		lastUpdate:   sched.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) Prepare(fn func(err error)) {
	if s.released || s.prepare != nil {
		return
	}
	s.prepare = s.sched.After(s.prepareDelay, func() {
		if s.released {
			return
		}
		if s.duration == 0 {
			fn(ErrNoSource)
			return
		}
		s.prepared = true
		fn(nil)
	})
}

func (s *Simulated) CurrentPositionMs() uint64 {
	s.update()
	pos := int64(s.timeMs)
	pos -= pos % s.granularity
	return uint64(pos)
}

func (s *Simulated) IsPlaying() bool {
	s.update()
	return !s.paused
}

func (s *Simulated) DurationMs() uint64 { return s.duration }

func (s *Simulated) SeekTo(ms uint64) {
	if ms > s.duration {
		ms = s.duration
	}
	s.timeMs = float64(ms)
	s.lastUpdate = s.sched.Now()
}

func (s *Simulated) Play() {
	if s.released || !s.prepared {
		return
	}
	s.update()
	if uint64(s.timeMs) >= s.duration {
		return
	}
	s.paused = false
}

func (s *Simulated) Pause() {
	s.update()
	s.paused = true
}

func (s *Simulated) Release() {
	if s.released {
		return
	}
	s.released = true
	s.prepare.Cancel()
	s.paused = true
}

// update folds the time elapsed since the last update into the position.
func (s *Simulated) update() {
	now := s.sched.Now()
	if !s.paused {
		s.timeMs += float64(now.Sub(s.lastUpdate).Milliseconds()) * s.rate
		if s.timeMs >= float64(s.duration) {
			s.timeMs = float64(s.duration)
			s.paused = true
		}
	}
	s.lastUpdate = now
}
