// Package clock predicts the current playback position between samples of
// a coarse external media clock.
//
// The media engine is only asked for its position when playback starts and
// on a slow recalibration interval. Between samples the position is
// extrapolated from wall-clock time, plus an additive drift correction
// learned at each recalibration.
package clock

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/vidnote/internal/loop"
)

const (
	DefaultTickInterval          = 50 * time.Millisecond
	DefaultRecalibrationInterval = 2500 * time.Millisecond
)

// PositionSource is the authoritative but coarse position reported by the
// media engine. It is polled only at recalibration time.
type PositionSource interface {
	CurrentPositionMs() uint64
}

// Sample is the active calibration point: the external position observed at
// a given wall-clock instant.
type Sample struct {
	ExternalMs uint64
	Wall       time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithTickInterval sets the period of the tick listener.
func WithTickInterval(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithRecalibrationInterval sets how often the source is polled while running.
func WithRecalibrationInterval(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.recalInterval = d
		}
	}
}

// WithSource sets the position source used for periodic recalibration.
func WithSource(src PositionSource) Option {
	return func(c *Clock) { c.source = src }
}

// WithListener sets the tick listener. See Clock.OnTick.
func WithListener(fn func(positionMs uint64)) Option {
	return func(c *Clock) { c.listener = fn }
}

// WithLogger sets the logger used for recalibration diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Clock) { c.log = log }
}

// Clock is the position predictor. All methods must be called from the
// scheduler thread.
type Clock struct {
	sched         loop.Scheduler
	tickInterval  time.Duration
	recalInterval time.Duration
	source        PositionSource
	listener      func(uint64)
	log           zerolog.Logger

	sample   Sample
	drift    int64
	last     uint64
	running  bool
	released bool

	ticker *loop.Task
	recal  *loop.Task
}

// New creates a Clock and starts its tick and recalibration timers. The
// timers keep firing while the clock is stopped so Start takes effect on the
// very next tick.
func New(sched loop.Scheduler, opts ...Option) *Clock {
	c := &Clock{
		sched:         sched,
		tickInterval:  DefaultTickInterval,
		recalInterval: DefaultRecalibrationInterval,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sample = Sample{Wall: sched.Now()}
	c.ticker = sched.Every(c.tickInterval, c.tick)
	c.recal = sched.Every(c.recalInterval, c.recalibrateFromSource)
	return c
}

// OnTick replaces the tick listener. The listener runs on the scheduler
// thread and must not block.
func (c *Clock) OnTick(fn func(positionMs uint64)) {
	c.listener = fn
}

// Start captures a new sample at externalMs and marks the clock running.
// Drift learned against the previous sample is discarded.
func (c *Clock) Start(externalMs uint64) {
	if c.released {
		return
	}
	c.Reset(externalMs)
	c.running = true
}

// Reset captures a new sample without changing the running flag. Used for
// seeks, which may legitimately move the position backwards.
func (c *Clock) Reset(externalMs uint64) {
	if c.released {
		return
	}
	c.sample = Sample{ExternalMs: externalMs, Wall: c.sched.Now()}
	c.drift = 0
	c.last = externalMs
}

// Stop freezes the position at its current prediction.
func (c *Clock) Stop() {
	if c.released || !c.running {
		return
	}
	c.PredictedPositionMs()
	c.running = false
}

// Running reports whether the clock is advancing.
func (c *Clock) Running() bool { return c.running }

// Drift returns the accumulated drift adjustment in milliseconds.
func (c *Clock) Drift() int64 { return c.drift }

// Sample returns the active calibration sample.
func (c *Clock) Sample() Sample { return c.sample }

// PredictedPositionMs returns the extrapolated playback position. While
// running the result never decreases: wall-clock skew and negative drift are
// absorbed by holding the last returned value.
func (c *Clock) PredictedPositionMs() uint64 {
	if !c.running || c.released {
		return c.last
	}
	p := c.extrapolate()
	if p < 0 {
		p = 0
	}
	pos := uint64(p)
	if pos < c.last {
		pos = c.last
	}
	c.last = pos
	return pos
}

// extrapolate is the unclamped prediction: sample plus elapsed wall time
// plus drift.
func (c *Clock) extrapolate() int64 {
	elapsed := c.sched.Now().Sub(c.sample.Wall)
	if elapsed < 0 {
		elapsed = 0
	}
	return int64(c.sample.ExternalMs) + elapsed.Milliseconds() + c.drift
}

// Recalibrate folds the difference between externalMs and the unclamped
// extrapolation into the drift adjustment. The correction applies to every
// later prediction; the sample itself is left untouched. The monotonic hold
// in PredictedPositionMs never feeds back into the drift.
func (c *Clock) Recalibrate(externalMs uint64) {
	if c.released || !c.running {
		return
	}
	raw := c.extrapolate()
	delta := int64(externalMs) - raw
	c.drift += delta
	if delta != 0 {
		c.log.Debug().
			Int64("predicted_ms", raw).
			Uint64("external_ms", externalMs).
			Int64("drift_ms", c.drift).
			Msg("Recalibrated position clock")
	}
}

// Release stops both timers. Every later call is a no-op.
func (c *Clock) Release() {
	if c.released {
		return
	}
	c.released = true
	c.running = false
	c.ticker.Cancel()
	c.recal.Cancel()
	c.listener = nil
	c.source = nil
}

// Released reports whether Release has been called.
func (c *Clock) Released() bool { return c.released }

func (c *Clock) tick() {
	if c.released || !c.running || c.listener == nil {
		return
	}
	c.listener(c.PredictedPositionMs())
}

func (c *Clock) recalibrateFromSource() {
	if c.released || !c.running || c.source == nil {
		return
	}
	c.Recalibrate(c.source.CurrentPositionMs())
}
