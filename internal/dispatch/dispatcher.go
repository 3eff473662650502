// Package dispatch decides which annotations are due at a playback position
// and hands them, in batches, to an ordered chain of render strategies.
//
// A Dispatcher is not safe for concurrent use. It is owned by one playback
// session and only touched from that session's event loop.
package dispatch

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fakeyudi/vidnote/internal/annotation"
)

// Strategy turns a batch of due annotations into a presentation.
//
// Execute is never called with an empty batch. Clear must be idempotent and
// cheap: it runs before every flush.
type Strategy interface {
	Initialize(d *Dispatcher)
	Execute(batch []annotation.Annotation) error
	Clear() error
	Release()
}

// Namer can be implemented by a Strategy to label it in logs and metrics.
type Namer interface {
	Name() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMeter replaces the global OTel meter.
func WithMeter(m metric.Meter) Option {
	return func(d *Dispatcher) { d.meter = m }
}

// Dispatcher owns the annotation set of the loaded video and the set of
// annotations already dispatched during the current playback pass.
type Dispatcher struct {
	log   zerolog.Logger
	meter metric.Meter

	annotations []annotation.Annotation
	rendered    map[string]struct{}
	pending     []annotation.Annotation
	visible     []annotation.Annotation
	strategies  []Strategy
	released    bool

	// OTEL metrics
	dispatched metric.Int64Counter
	failures   metric.Int64Counter
}

// New creates an empty Dispatcher.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(log zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		log:      log,
		rendered: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.meter == nil {
		d.meter = meter()
	}

	var err error

	d.dispatched, err = d.meter.Int64Counter(
		"vidnote.dispatch.annotations",
		metric.WithDescription("Annotations handed to render strategies"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatched counter: %w", err)
	}

	d.failures, err = d.meter.Int64Counter(
		"vidnote.dispatch.strategy_failures",
		metric.WithDescription("Render strategy calls that returned an error or panicked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}

	return d, nil
}

// AddStrategy appends s to the chain and lets it pull the current state.
// Strategies run in the order they were added.
func (d *Dispatcher) AddStrategy(s Strategy) {
	if d.released || s == nil {
		return
	}
	d.strategies = append(d.strategies, s)
	d.guard(s, "initialize", func() error {
		s.Initialize(d)
		return nil
	})
}

// RemoveStrategy drops s from the chain without releasing it.
func (d *Dispatcher) RemoveStrategy(s Strategy) {
	d.strategies = slices.DeleteFunc(d.strategies, func(x Strategy) bool { return x == s })
}

// Strategies returns the number of registered strategies.
func (d *Dispatcher) Strategies() int { return len(d.strategies) }

// SetAnnotations replaces the working set. Nothing is rendered.
func (d *Dispatcher) SetAnnotations(list []annotation.Annotation) {
	if d.released {
		return
	}
	d.annotations = slices.Clone(list)
	annotation.Sort(d.annotations)

	// Forget ids that no longer exist.
	ids := make(map[string]struct{}, len(d.annotations))
	for _, a := range d.annotations {
		ids[a.ID] = struct{}{}
	}
	for id := range d.rendered {
		if _, ok := ids[id]; !ok {
			delete(d.rendered, id)
		}
	}
}

// Annotations returns a copy of the working set sorted by time.
func (d *Dispatcher) Annotations() []annotation.Annotation {
	return slices.Clone(d.annotations)
}

// RecalculateRendered resets the rendered set to exactly the live
// annotations strictly before positionMs. Called after every seek.
func (d *Dispatcher) RecalculateRendered(positionMs uint64) {
	if d.released {
		return
	}
	clear(d.rendered)
	for _, a := range d.annotations {
		if a.Alive && a.TimeMs < positionMs {
			d.rendered[a.ID] = struct{}{}
		}
	}
}

// Rendered reports whether the annotation has been dispatched during the
// current pass.
func (d *Dispatcher) Rendered(id string) bool {
	_, ok := d.rendered[id]
	return ok
}

// Render dispatches every live annotation at or before positionMs that has
// not been dispatched yet, as a single batch in time order. It returns the
// batch.
func (d *Dispatcher) Render(positionMs uint64) []annotation.Annotation {
	if d.released {
		return nil
	}
	for _, a := range d.annotations {
		if a.TimeMs > positionMs {
			break
		}
		if !a.Alive {
			continue
		}
		if _, ok := d.rendered[a.ID]; ok {
			continue
		}
		d.rendered[a.ID] = struct{}{}
		d.pending = append(d.pending, a)
	}
	return d.flush("render")
}

// FuzzyRender presents the annotations nearest to positionMs within
// toleranceMs. See Nearest. The rendered set is neither consulted nor
// changed, so the call can be repeated freely. When nothing is in range the
// queue is dropped and no strategy is invoked.
func (d *Dispatcher) FuzzyRender(positionMs, toleranceMs uint64) []annotation.Annotation {
	if d.released {
		return nil
	}
	batch := Nearest(d.annotations, positionMs, toleranceMs)
	if len(batch) == 0 {
		d.pending = nil
		return nil
	}
	d.pending = append(d.pending[:0], batch...)
	return d.flush("fuzzy")
}

// Visible returns the batch last handed to the strategies.
func (d *Dispatcher) Visible() []annotation.Annotation {
	return slices.Clone(d.visible)
}

// Release releases every strategy and drops all state. Later calls do
// nothing.
func (d *Dispatcher) Release() {
	if d.released {
		return
	}
	d.released = true
	for _, s := range d.strategies {
		d.guard(s, "release", func() error {
			s.Release()
			return nil
		})
	}
	d.strategies = nil
	d.annotations = nil
	d.pending = nil
	d.visible = nil
	clear(d.rendered)
}

// Released reports whether Release has been called.
func (d *Dispatcher) Released() bool { return d.released }

// flush clears every strategy, then executes each with the pending batch.
func (d *Dispatcher) flush(mode string) []annotation.Annotation {
	if len(d.pending) == 0 {
		return nil
	}
	batch := d.pending
	d.pending = nil

	for _, s := range d.strategies {
		d.guard(s, "clear", s.Clear)
	}
	for _, s := range d.strategies {
		d.guard(s, "execute", func() error {
			return s.Execute(slices.Clone(batch))
		})
	}
	d.visible = batch

	d.dispatched.Add(context.Background(), int64(len(batch)),
		metric.WithAttributes(attribute.String("mode", mode)))
	d.log.Debug().
		Str("mode", mode).
		Int("count", len(batch)).
		Uint64("time_ms", batch[0].TimeMs).
		Msg("Dispatched annotations")
	return slices.Clone(batch)
}

// guard runs one strategy call, turning errors and panics into a log line
// and a metric so the next strategy still runs.
func (d *Dispatcher) guard(s Strategy, op string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	name := strategyName(s)
	d.failures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("strategy", name), attribute.String("op", op)))
	d.log.Error().
		Err(err).
		Str("strategy", name).
		Str("op", op).
		Msg("Render strategy failed")
}

func strategyName(s Strategy) string {
	if n, ok := s.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
