package playback

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/clock"
	"github.com/fakeyudi/vidnote/internal/dispatch"
	"github.com/fakeyudi/vidnote/internal/loop"
	"github.com/fakeyudi/vidnote/internal/media"
)

// batches is a Strategy recording the annotation times of each batch.
type batches struct {
	got [][]uint64
}

func (b *batches) Initialize(*dispatch.Dispatcher) {}
func (b *batches) Clear() error                   { return nil }
func (b *batches) Release()                       {}

func (b *batches) Execute(batch []annotation.Annotation) error {
	var times []uint64
	for _, a := range batch {
		times = append(times, a.TimeMs)
	}
	b.got = append(b.got, times)
	return nil
}

type rig struct {
	v        *loop.Virtual
	engine   *media.Simulated
	clock    *clock.Clock
	disp     *dispatch.Dispatcher
	m        *Machine
	out      *batches
	states   []State
	progress []float64
	errs     []error
}

func ann(id string, timeMs uint64) annotation.Annotation {
	return annotation.Annotation{ID: id, VideoID: "clip", TimeMs: timeMs, Text: id, Scale: 1, Alive: true}
}

// newRig wires a machine over a virtual loop and a simulated 10 s video with
// annotations at 2000, 2000 and 7000 ms. With manualTicks the clock never
// ticks by itself and the test drives OnTick directly.
func newRig(t *testing.T, duration time.Duration, manualTicks bool, cfg Config) *rig {
	t.Helper()
	r := &rig{v: loop.NewVirtual(time.Unix(1_700_000_000, 0)), out: &batches{}}
	r.engine = media.NewSimulated(r.v, duration, media.WithGranularity(time.Millisecond))

	opts := []clock.Option{clock.WithSource(r.engine)}
	if manualTicks {
		opts = append(opts, clock.WithTickInterval(time.Hour), clock.WithRecalibrationInterval(time.Hour))
	}
	r.clock = clock.New(r.v, opts...)

	var err error
	r.disp, err = dispatch.New(zerolog.Nop())
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	r.disp.AddStrategy(r.out)
	r.disp.SetAnnotations([]annotation.Annotation{ann("a", 2000), ann("b", 2000), ann("c", 7000)})

	r.m, err = New(Deps{
		Scheduler:  r.v,
		Engine:     r.engine,
		Clock:      r.clock,
		Dispatcher: r.disp,
		Logger:     zerolog.Nop(),
		VideoID:    "clip",
		Listener: ListenerFuncs{
			StateChanged:  func(s State) { r.states = append(r.states, s) },
			PauseProgress: func(p float64) { r.progress = append(r.progress, p) },
			Error:         func(err error) { r.errs = append(r.errs, err) },
		},
	}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.clock.OnTick(r.m.OnTick)
	return r
}

func (r *rig) prepare(t *testing.T) {
	t.Helper()
	r.m.Prepare()
	r.v.Advance(media.DefaultPrepareDelay)
	if len(r.errs) != 0 {
		t.Fatalf("prepare failed: %v", r.errs)
	}
}

func (r *rig) expectState(t *testing.T, want State) {
	t.Helper()
	if got := r.m.State(); got != want {
		t.Fatalf("state: got %v, want %v", got, want)
	}
}

func TestStateString(t *testing.T) {
	if AnnotationPaused.String() != "annotation-paused" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}

func TestAutoplayAfterPrepare(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.expectState(t, Unprepared)
	r.prepare(t)

	want := []State{Prepared, Playing}
	if !slices.Equal(r.states, want) {
		t.Errorf("transitions: got %v, want %v", r.states, want)
	}
}

func TestWithoutAutoplayWaitsInPrepared(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Autoplay = false
	r := newRig(t, 10*time.Second, true, cfg)
	r.prepare(t)
	r.expectState(t, Prepared)

	if err := r.m.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	r.expectState(t, Playing)
}

func TestPrepareFailureStaysUnprepared(t *testing.T) {
	r := newRig(t, 0, true, DefaultConfig())
	r.m.Prepare()
	r.v.Advance(time.Second)

	r.expectState(t, Unprepared)
	if len(r.errs) != 1 {
		t.Fatalf("errors reported: got %d, want 1", len(r.errs))
	}
	var merr *MediaError
	if !errors.As(r.errs[0], &merr) || !errors.Is(r.errs[0], media.ErrNoSource) {
		t.Errorf("expected MediaError wrapping ErrNoSource, got %v", r.errs[0])
	}
	if err := r.m.Play(); !errors.Is(err, ErrNotPrepared) {
		t.Errorf("Play: expected ErrNotPrepared, got %v", err)
	}
	if err := r.m.SeekTo(100); !errors.Is(err, ErrNotPrepared) {
		t.Errorf("SeekTo: expected ErrNotPrepared, got %v", err)
	}
}

func TestAnnotationPauseScenario(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)

	for _, pos := range []uint64{0, 1000} {
		r.m.OnTick(pos)
	}
	r.expectState(t, Playing)

	r.m.OnTick(2000)
	r.expectState(t, AnnotationPaused)
	if len(r.out.got) != 1 || !slices.Equal(r.out.got[0], []uint64{2000, 2000}) {
		t.Fatalf("batches: got %v, want [[2000 2000]]", r.out.got)
	}

	// Ticks during the pause change nothing.
	r.m.OnTick(2100)
	r.expectState(t, AnnotationPaused)

	r.v.Advance(2950 * time.Millisecond)
	r.expectState(t, AnnotationPaused)
	r.v.Advance(50 * time.Millisecond)
	r.expectState(t, Playing)

	for pos := uint64(3000); pos < 7000; pos += 1000 {
		r.m.OnTick(pos)
		r.expectState(t, Playing)
	}
	r.m.OnTick(7000)
	r.expectState(t, AnnotationPaused)

	var pauses int
	for _, s := range r.states {
		if s == AnnotationPaused {
			pauses++
		}
	}
	if pauses != 2 {
		t.Errorf("annotation pauses: got %d, want 2", pauses)
	}
}

func TestClockDrivenPlaythrough(t *testing.T) {
	r := newRig(t, 10*time.Second, false, DefaultConfig())
	r.prepare(t)

	// 10 s of media plus two 3 s pauses, with room to spare.
	r.v.Advance(20 * time.Second)

	want := []State{Prepared, Playing, AnnotationPaused, Playing, AnnotationPaused, Playing, Paused}
	if !slices.Equal(r.states, want) {
		t.Errorf("transitions: got %v, want %v", r.states, want)
	}
	wantBatches := [][]uint64{{2000, 2000}, {7000}}
	if len(r.out.got) != len(wantBatches) {
		t.Fatalf("batches: got %v, want %v", r.out.got, wantBatches)
	}
	for i := range wantBatches {
		if !slices.Equal(r.out.got[i], wantBatches[i]) {
			t.Errorf("batch %d: got %v, want %v", i, r.out.got[i], wantBatches[i])
		}
	}
	if pos := r.m.Position(); pos != 0 {
		t.Errorf("end of media left position at %d, want 0", pos)
	}
	if r.m.Seen("a") || r.m.Seen("c") {
		t.Error("seen flags survived the rewind")
	}
}

func TestCountdownReportsProgress(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)
	r.m.OnTick(2000)

	r.v.Advance(1500 * time.Millisecond)
	if got := r.m.Progress(); got != 50 {
		t.Errorf("progress: got %v, want 50", got)
	}
	if r.progress[0] != 0 {
		t.Errorf("first progress report: got %v, want 0", r.progress[0])
	}
	r.v.Advance(1500 * time.Millisecond)
	if last := r.progress[len(r.progress)-1]; last != 100 {
		t.Errorf("final progress report: got %v, want 100", last)
	}
}

func TestStallSuspendsCountdown(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)
	r.m.OnTick(2000)

	r.v.Advance(time.Second)
	r.m.SetStalled(true)
	r.v.Advance(30 * time.Second)
	r.expectState(t, AnnotationPaused)

	r.m.SetStalled(false)
	r.v.Advance(1950 * time.Millisecond)
	r.expectState(t, AnnotationPaused)
	r.v.Advance(50 * time.Millisecond)
	r.expectState(t, Playing)
}

func TestStallOnlyAppliesToCountdown(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)

	// A stall requested while playing is dropped.
	r.m.SetStalled(true)
	if r.m.Stalled() {
		t.Error("stall accepted while Playing")
	}
	r.m.OnTick(2000)
	r.expectState(t, AnnotationPaused)
	r.v.Advance(3 * time.Second)
	r.expectState(t, Playing)

	// A stall left on when the countdown is cut short does not carry over.
	if err := r.m.SeekTo(1000); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	r.m.OnTick(2000)
	r.expectState(t, AnnotationPaused)
	r.m.SetStalled(true)
	if err := r.m.SeekTo(1000); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if r.m.Stalled() {
		t.Error("stall survived leaving AnnotationPaused")
	}
	if err := r.m.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	r.m.OnTick(2000)
	r.expectState(t, AnnotationPaused)
	r.v.Advance(3 * time.Second)
	r.expectState(t, Playing)
}

func TestTapEscalatesToManualPause(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)
	r.m.OnTick(2000)

	a, ok := r.m.TapAnnotation("b")
	if !ok || a.ID != "b" {
		t.Fatalf("TapAnnotation: got %v, %v", a, ok)
	}
	r.expectState(t, Paused)

	r.v.Advance(10 * time.Second)
	r.expectState(t, Paused)

	if _, ok := r.m.TapAnnotation("missing"); ok {
		t.Error("tap on unknown annotation succeeded")
	}
}

func TestListenerTransitionCancelsResume(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.m.listener = ListenerFuncs{
		PauseProgress: func(p float64) {
			if p >= 100 {
				_ = r.m.Pause()
			}
		},
	}
	r.prepare(t)
	r.m.OnTick(2000)

	r.v.Advance(5 * time.Second)
	r.expectState(t, Paused)
}

func TestSeekResetsSeen(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)
	r.m.OnTick(2000)
	r.v.Advance(3 * time.Second)
	r.expectState(t, Playing)

	if err := r.m.SeekTo(1000); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	r.expectState(t, Playing)
	if r.m.Seen("a") || r.disp.Rendered("a") {
		t.Error("backward seek kept annotation a seen or rendered")
	}
	r.m.OnTick(2000)
	r.expectState(t, AnnotationPaused)

	// Seeking forward past c makes it seen: no pause when playing on.
	if err := r.m.SeekTo(8000); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	r.expectState(t, Paused)
	if !r.m.Seen("c") {
		t.Error("forward seek did not mark c seen")
	}
	if err := r.m.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	r.m.OnTick(8100)
	r.expectState(t, Playing)
}

func TestSeekShowsNearestAnnotations(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)

	if err := r.m.SeekTo(6800); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if len(r.out.got) != 1 || !slices.Equal(r.out.got[0], []uint64{7000}) {
		t.Errorf("fuzzy batch: got %v, want [[7000]]", r.out.got)
	}
	if err := r.m.SeekTo(99_000); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if pos := r.m.Position(); pos != 10_000 {
		t.Errorf("seek not clamped: got %d, want 10000", pos)
	}
}

func TestPauseOnAnnotationDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PauseOnAnnotation = false
	r := newRig(t, 10*time.Second, true, cfg)
	r.prepare(t)

	r.m.OnTick(2000)
	r.m.OnTick(7000)
	r.expectState(t, Playing)
	if len(r.out.got) != 2 {
		t.Errorf("batches: got %v, want two", r.out.got)
	}
}

func TestTogglePlay(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)

	if err := r.m.TogglePlay(); err != nil {
		t.Fatal(err)
	}
	r.expectState(t, Paused)
	if err := r.m.TogglePlay(); err != nil {
		t.Fatal(err)
	}
	r.expectState(t, Playing)
}

func TestReleaseSilencesStaleCallbacks(t *testing.T) {
	r := newRig(t, 10*time.Second, true, DefaultConfig())
	r.prepare(t)
	r.m.OnTick(2000)
	r.expectState(t, AnnotationPaused)

	r.m.Release()
	r.m.Release()
	before := len(r.states)

	// A countdown step or tick that was already queued fires after release.
	r.m.countdownTick()
	r.m.OnTick(7000)
	r.m.OnPrepared(nil)
	r.v.Advance(10 * time.Second)

	if len(r.states) != before {
		t.Errorf("state changed after release: %v", r.states[before:])
	}
	if len(r.out.got) != 1 {
		t.Errorf("rendered after release: %v", r.out.got)
	}
	if !r.m.Released() {
		t.Error("Released() = false")
	}
}

func TestStartOffsetSkipsEarlierAnnotations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartMs = 5000
	r := newRig(t, 10*time.Second, true, cfg)
	r.prepare(t)

	r.expectState(t, Playing)
	if pos := r.m.Position(); pos != 5000 {
		t.Errorf("position: got %d, want 5000", pos)
	}
	if !r.m.Seen("a") || r.m.Seen("c") {
		t.Error("seen flags not derived from the start offset")
	}
	r.m.OnTick(5100)
	r.expectState(t, Playing)
}
