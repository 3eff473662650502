// Package loop serializes all playback work onto one logical thread.
//
// Ticks, countdown checks and user-driven calls are all posted to the same
// queue, so the components they touch (clock, dispatcher, state machine)
// never need locks. Two schedulers are provided: Loop runs on a goroutine
// with real timers, Virtual runs on the caller's goroutine with a manually
// advanced clock for tests.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrClosed is returned by Do once the scheduler has been closed.
var ErrClosed = errors.New("event loop closed")

// Scheduler is the single-threaded event queue shared by a playback session.
// Callbacks registered through it always run on the scheduler's thread.
type Scheduler interface {
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
	// Post queues fn to run on the scheduler thread. Dropped after Close.
	Post(fn func())
	// Do runs fn on the scheduler thread and waits for it to return.
	// It must not be called from the scheduler thread itself.
	Do(ctx context.Context, fn func()) error
	// Every runs fn repeatedly with period d until the task is cancelled.
	Every(d time.Duration, fn func()) *Task
	// After runs fn once after d unless the task is cancelled first.
	After(d time.Duration, fn func()) *Task
}

// Task is a handle to a scheduled callback.
type Task struct {
	once      sync.Once
	stop      chan struct{}
	cancelled atomic.Bool
}

func newTask() *Task {
	return &Task{stop: make(chan struct{})}
}

// Cancel stops future runs of the task. Safe to call more than once and on nil.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.stop)
	})
}

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool {
	if t == nil {
		return true
	}
	return t.cancelled.Load()
}

// Loop is the production Scheduler: one goroutine draining a queue of
// callbacks, fed by real timers.
type Loop struct {
	queue  chan func()
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	log    zerolog.Logger

	mu    sync.Mutex
	tasks map[*Task]struct{}
}

// New returns a Loop whose queue holds up to size pending callbacks.
func New(size int, log zerolog.Logger) *Loop {
	if size <= 0 {
		size = 64
	}
	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
		log:   log,
		tasks: make(map[*Task]struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-l.queue:
			l.exec(fn)
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		}
	}
}

// exec runs one callback. A panicking callback is logged and the loop keeps going.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("panic", fmt.Sprint(r)).Msg("Event loop callback panicked")
		}
	}()
	fn()
}

// Close cancels every scheduled task and stops Run. Pending callbacks are dropped.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.closed.Store(true)
		l.mu.Lock()
		for t := range l.tasks {
			t.Cancel()
		}
		l.tasks = map[*Task]struct{}{}
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *Loop) Now() time.Time { return time.Now() }

func (l *Loop) Post(fn func()) {
	l.enqueue(fn, nil)
}

// enqueue blocks until fn is queued, the loop closes, or stop fires.
func (l *Loop) enqueue(fn func(), stop <-chan struct{}) bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	case <-stop:
		return false
	}
}

// Do runs fn on the loop and waits for it. When Do returns an error fn has
// not run and never will; once fn has started, Do waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l.closed.Load() {
		return ErrClosed
	}
	const (
		pending int32 = iota
		started
		abandoned
	)
	var state atomic.Int32
	finished := make(chan struct{})
	go l.enqueue(func() {
		if !state.CompareAndSwap(pending, started) {
			return
		}
		defer close(finished)
		fn()
	}, ctx.Done())
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(pending, abandoned) {
			return ctx.Err()
		}
	case <-l.done:
		if state.CompareAndSwap(pending, abandoned) {
			return ErrClosed
		}
	}
	<-finished
	return nil
}

func (l *Loop) Every(d time.Duration, fn func()) *Task {
	task := l.track()
	go func() {
		defer l.forget(task)
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ok := l.enqueue(func() {
					if !task.Cancelled() {
						fn()
					}
				}, task.stop)
				if !ok {
					return
				}
			case <-task.stop:
				return
			case <-l.done:
				return
			}
		}
	}()
	return task
}

func (l *Loop) After(d time.Duration, fn func()) *Task {
	task := l.track()
	go func() {
		defer l.forget(task)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			l.enqueue(func() {
				if !task.Cancelled() {
					fn()
				}
			}, task.stop)
		case <-task.stop:
		case <-l.done:
		}
	}()
	return task
}

func (l *Loop) track() *Task {
	task := newTask()
	if l.closed.Load() {
		task.Cancel()
		return task
	}
	l.mu.Lock()
	l.tasks[task] = struct{}{}
	l.mu.Unlock()
	return task
}

func (l *Loop) forget(task *Task) {
	l.mu.Lock()
	delete(l.tasks, task)
	l.mu.Unlock()
}
