package dispatch

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"pgregory.net/rapid"

	"github.com/fakeyudi/vidnote/internal/annotation"
)

// recorder is a Strategy that records every call.
type recorder struct {
	name        string
	initialized *Dispatcher
	batches     [][]annotation.Annotation
	calls       []string
	released    int
	failExecute bool
	panicClear  bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Initialize(d *Dispatcher) {
	r.initialized = d
	r.calls = append(r.calls, "initialize")
}

func (r *recorder) Execute(batch []annotation.Annotation) error {
	r.calls = append(r.calls, "execute")
	r.batches = append(r.batches, batch)
	if r.failExecute {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) Clear() error {
	r.calls = append(r.calls, "clear")
	if r.panicClear {
		panic("clear exploded")
	}
	return nil
}

func (r *recorder) Release() { r.released++ }

func (r *recorder) times() []uint64 {
	var out []uint64
	for _, b := range r.batches {
		for _, a := range b {
			out = append(out, a.TimeMs)
		}
	}
	return out
}

func ann(id string, timeMs uint64) annotation.Annotation {
	return annotation.Annotation{ID: id, VideoID: "clip", TimeMs: timeMs, Text: id, Scale: 1, Alive: true}
}

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newDispatcher(t fataler, list ...annotation.Annotation) (*Dispatcher, *recorder) {
	t.Helper()
	d, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &recorder{name: "rec"}
	d.AddStrategy(rec)
	d.SetAnnotations(list)
	return d, rec
}

func TestAddStrategyInitializes(t *testing.T) {
	d, rec := newDispatcher(t)
	if rec.initialized != d {
		t.Error("strategy was not initialized with its dispatcher")
	}
	if d.Strategies() != 1 {
		t.Errorf("strategies: got %d, want 1", d.Strategies())
	}
	d.RemoveStrategy(rec)
	if d.Strategies() != 0 {
		t.Errorf("strategies after remove: got %d, want 0", d.Strategies())
	}
}

func TestSetAnnotationsDoesNotRender(t *testing.T) {
	_, rec := newDispatcher(t, ann("a", 0), ann("b", 10))
	if len(rec.batches) != 0 {
		t.Errorf("SetAnnotations rendered %d batches", len(rec.batches))
	}
}

func TestRenderSharedInstantIsOneBatch(t *testing.T) {
	d, rec := newDispatcher(t, ann("a", 2000), ann("b", 2000), ann("c", 7000))

	d.Render(1999)
	if len(rec.batches) != 0 {
		t.Fatalf("rendered early: %v", rec.times())
	}
	d.Render(2000)
	if len(rec.batches) != 1 || len(rec.batches[0]) != 2 {
		t.Fatalf("expected one batch of two, got %v", rec.batches)
	}
	if !d.Rendered("a") || !d.Rendered("b") || d.Rendered("c") {
		t.Error("rendered set does not match the dispatched batch")
	}
}

func TestClearPrecedesExecute(t *testing.T) {
	d, rec := newDispatcher(t, ann("a", 100))
	second := &recorder{name: "second"}
	d.AddStrategy(second)

	d.Render(100)

	want := []string{"initialize", "clear", "execute"}
	if !slices.Equal(rec.calls, want) {
		t.Errorf("call order: got %v, want %v", rec.calls, want)
	}
	if !slices.Equal(second.calls, want) {
		t.Errorf("second strategy call order: got %v, want %v", second.calls, want)
	}
}

func TestEmptyQueueInvokesNothing(t *testing.T) {
	d, rec := newDispatcher(t, ann("a", 5000))
	d.Render(100)
	d.FuzzyRender(100, 500)

	if len(rec.calls) != 1 {
		t.Errorf("expected only initialize, got %v", rec.calls)
	}
}

func TestRecalculateThenRenderIsIdempotent(t *testing.T) {
	d, rec := newDispatcher(t, ann("a", 1000), ann("b", 3000), ann("c", 3000))

	d.RecalculateRendered(3000)
	d.Render(3000)
	n := len(rec.batches)
	if n != 1 || len(rec.batches[0]) != 2 {
		t.Fatalf("expected the batch at 3000, got %v", rec.batches)
	}
	if got := d.Render(3000); len(got) != 0 {
		t.Errorf("second render dispatched %d annotations", len(got))
	}
	if len(rec.batches) != n {
		t.Error("strategy invoked for an empty batch")
	}
}

func TestBackwardSeekForgetsFutureAnnotations(t *testing.T) {
	d, rec := newDispatcher(t, ann("a", 1000), ann("b", 2000), ann("c", 3000))

	d.Render(3500)
	d.RecalculateRendered(2000)
	if d.Rendered("b") || d.Rendered("c") {
		t.Error("annotations at or after the seek target still rendered")
	}
	if !d.Rendered("a") {
		t.Error("annotation before the seek target forgotten")
	}

	rec.batches = nil
	d.Render(2500)
	d.Render(3500)
	if got := rec.times(); !slices.Equal(got, []uint64{2000, 3000}) {
		t.Errorf("re-dispatched: got %v, want [2000 3000]", got)
	}
}

func TestSoftDeletedNeverDispatched(t *testing.T) {
	dead := ann("dead", 1000)
	dead.Alive = false
	d, rec := newDispatcher(t, dead, ann("live", 1000))

	d.Render(1000)
	d.FuzzyRender(1000, 0)
	for _, b := range rec.batches {
		for _, a := range b {
			if a.ID == "dead" {
				t.Fatal("soft-deleted annotation dispatched")
			}
		}
	}
	if d.Rendered("dead") {
		t.Error("soft-deleted annotation marked rendered")
	}
}

func TestFuzzyRenderSharedInstant(t *testing.T) {
	d, rec := newDispatcher(t, ann("a", 1000), ann("b", 1000))

	d.FuzzyRender(1050, 500)
	if len(rec.batches) != 1 || len(rec.batches[0]) != 2 {
		t.Fatalf("expected one batch of two, got %v", rec.batches)
	}
	if d.Rendered("a") || d.Rendered("b") {
		t.Error("fuzzy render mutated the rendered set")
	}

	// Repeatable.
	d.FuzzyRender(1050, 500)
	if len(rec.batches) != 2 {
		t.Errorf("second fuzzy render: got %d batches, want 2", len(rec.batches))
	}
}

func TestFuzzyRenderOutsideTolerance(t *testing.T) {
	d, rec := newDispatcher(t, ann("a", 2000))

	if got := d.FuzzyRender(1050, 500); got != nil {
		t.Errorf("expected no batch, got %v", got)
	}
	if len(rec.batches) != 0 {
		t.Errorf("strategy invoked: %v", rec.batches)
	}
}

func TestNearestPrefersClosestThenEarlier(t *testing.T) {
	list := []annotation.Annotation{ann("a", 800), ann("b", 1200), ann("c", 1100)}

	got := Nearest(list, 1000, 500)
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("closest: got %v, want c", got)
	}

	tie := []annotation.Annotation{ann("late", 1100), ann("early", 900)}
	got = Nearest(tie, 1000, 500)
	if len(got) != 1 || got[0].ID != "early" {
		t.Errorf("tie: got %v, want early", got)
	}
}

func TestStrategyFailureIsIsolated(t *testing.T) {
	d, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bad := &recorder{name: "bad", failExecute: true, panicClear: true}
	good := &recorder{name: "good"}
	d.AddStrategy(bad)
	d.AddStrategy(good)
	d.SetAnnotations([]annotation.Annotation{ann("a", 10), ann("b", 20)})

	d.Render(10)
	d.Render(20)

	if got := good.times(); !slices.Equal(got, []uint64{10, 20}) {
		t.Errorf("good strategy: got %v, want [10 20]", got)
	}
	if !d.Rendered("a") || !d.Rendered("b") {
		t.Error("strategy failure corrupted the rendered set")
	}
	if got := d.Render(20); len(got) != 0 {
		t.Error("failed batch was left pending")
	}
}

func TestVisibleTracksLastBatch(t *testing.T) {
	d, _ := newDispatcher(t, ann("a", 10), ann("b", 20))

	d.Render(10)
	if v := d.Visible(); len(v) != 1 || v[0].ID != "a" {
		t.Errorf("visible: got %v, want [a]", v)
	}
	d.Render(20)
	if v := d.Visible(); len(v) != 1 || v[0].ID != "b" {
		t.Errorf("visible: got %v, want [b]", v)
	}
	d.FuzzyRender(5000, 500)
	if v := d.Visible(); len(v) != 1 || v[0].ID != "b" {
		t.Errorf("fuzzy miss changed visible: %v", v)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	d, rec := newDispatcher(t, ann("a", 10))
	d.Release()
	d.Release()

	if rec.released != 1 {
		t.Errorf("strategy released %d times, want 1", rec.released)
	}
	if !d.Released() {
		t.Error("Released() = false")
	}
	d.SetAnnotations([]annotation.Annotation{ann("b", 0)})
	if got := d.Render(1000); got != nil {
		t.Errorf("render after release dispatched %v", got)
	}
	if len(d.Annotations()) != 0 || len(d.Visible()) != 0 {
		t.Error("release kept annotation state")
	}
}

func TestForwardPlaybackDispatchesEachOnceInOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "count")
		times := rapid.SliceOfNDistinct(rapid.Uint64Range(0, 60_000), n, n, rapid.ID[uint64]).Draw(t, "times")

		list := make([]annotation.Annotation, 0, n)
		for i, ms := range times {
			list = append(list, ann(fmt.Sprintf("a%02d", i), ms))
		}
		d, rec := newDispatcher(t, list...)

		var pos uint64
		for pos < 60_000 {
			pos += rapid.Uint64Range(1, 3000).Draw(t, "step")
			d.Render(pos)
		}

		got := rec.times()
		if len(got) != n {
			t.Fatalf("dispatched %d annotations, want %d", len(got), n)
		}
		if !slices.IsSorted(got) {
			t.Fatalf("dispatch order not sorted: %v", got)
		}
		seen := map[uint64]bool{}
		for _, ms := range got {
			if seen[ms] {
				t.Fatalf("annotation at %d dispatched twice", ms)
			}
			seen[ms] = true
		}
	})
}
