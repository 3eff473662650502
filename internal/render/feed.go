package render

import (
	"slices"
	"sync"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/dispatch"
)

// Feed is a strategy that keeps the latest on-screen batch for a reader on
// another goroutine, typically the TUI. Writes never block the event loop:
// readers are woken through a one-slot channel and an unread wake-up is
// simply kept, since the snapshot is always the latest state.
type Feed struct {
	mu       sync.Mutex
	shown    []annotation.Annotation
	version  uint64
	released bool

	notify chan struct{}
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{notify: make(chan struct{}, 1)}
}

func (f *Feed) Name() string { return "feed" }

func (f *Feed) Initialize(d *dispatch.Dispatcher) {
	f.publish(d.Visible())
}

func (f *Feed) Execute(batch []annotation.Annotation) error {
	f.publish(batch)
	return nil
}

func (f *Feed) Clear() error {
	f.publish(nil)
	return nil
}

func (f *Feed) Release() {
	f.mu.Lock()
	f.released = true
	f.shown = nil
	f.version++
	f.mu.Unlock()
	f.wake()
}

// Snapshot returns the annotations on screen and a version that changes on
// every update.
func (f *Feed) Snapshot() ([]annotation.Annotation, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.shown), f.version
}

// Updates fires after the snapshot changed.
func (f *Feed) Updates() <-chan struct{} {
	return f.notify
}

// Released reports whether the dispatcher released the feed.
func (f *Feed) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *Feed) publish(batch []annotation.Annotation) {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return
	}
	f.shown = slices.Clone(batch)
	f.version++
	f.mu.Unlock()
	f.wake()
}

func (f *Feed) wake() {
	select {
	case f.notify <- struct{}{}:
	default:
		// A wake-up is already pending.
	}
}
