package loop

import (
	"context"
	"sort"
	"time"
)

// Virtual is a Scheduler driven entirely by the caller. Time only moves when
// Advance is called, and every callback runs on the caller's goroutine.
type Virtual struct {
	now    time.Time
	seq    uint64
	posted []func()
	timers []*virtualTimer
	closed bool
}

type virtualTimer struct {
	due    time.Time
	period time.Duration
	seq    uint64
	fn     func()
	task   *Task
}

// NewVirtual returns a Virtual scheduler whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time { return v.now }

func (v *Virtual) Post(fn func()) {
	if v.closed {
		return
	}
	v.posted = append(v.posted, fn)
}

// Do drains posted callbacks, then runs fn inline.
func (v *Virtual) Do(ctx context.Context, fn func()) error {
	if v.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	v.drain()
	fn()
	v.drain()
	return nil
}

func (v *Virtual) Every(d time.Duration, fn func()) *Task {
	if d <= 0 {
		d = time.Millisecond
	}
	return v.schedule(d, d, fn)
}

func (v *Virtual) After(d time.Duration, fn func()) *Task {
	return v.schedule(d, 0, fn)
}

func (v *Virtual) schedule(d, period time.Duration, fn func()) *Task {
	task := newTask()
	if v.closed {
		task.Cancel()
		return task
	}
	v.seq++
	v.timers = append(v.timers, &virtualTimer{
		due:    v.now.Add(d),
		period: period,
		seq:    v.seq,
		fn:     fn,
		task:   task,
	})
	return task
}

// Advance moves the clock forward by d, firing every timer that falls due
// on the way, ordered by due time and then by registration.
func (v *Virtual) Advance(d time.Duration) {
	target := v.now.Add(d)
	for !v.closed {
		v.drain()
		t := v.next(target)
		if t == nil {
			break
		}
		v.now = t.due
		if t.period > 0 {
			t.due = t.due.Add(t.period)
		} else {
			t.task.Cancel()
		}
		t.fn()
	}
	if target.After(v.now) {
		v.now = target
	}
	v.drain()
}

// Pending returns the number of live timers.
func (v *Virtual) Pending() int {
	v.prune()
	return len(v.timers)
}

// Close cancels every timer and drops queued callbacks.
func (v *Virtual) Close() {
	for _, t := range v.timers {
		t.task.Cancel()
	}
	v.timers = nil
	v.posted = nil
	v.closed = true
}

func (v *Virtual) next(target time.Time) *virtualTimer {
	v.prune()
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].due.Equal(v.timers[j].due) {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].due.Before(v.timers[j].due)
	})
	if len(v.timers) == 0 || v.timers[0].due.After(target) {
		return nil
	}
	return v.timers[0]
}

func (v *Virtual) prune() {
	live := v.timers[:0]
	for _, t := range v.timers {
		if !t.task.Cancelled() {
			live = append(live, t)
		}
	}
	v.timers = live
}

func (v *Virtual) drain() {
	for len(v.posted) > 0 && !v.closed {
		fn := v.posted[0]
		v.posted = v.posted[1:]
		fn()
	}
}
