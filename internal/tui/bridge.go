package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/playback"
)

// Messages delivered from the event loop to the model.
type (
	stateMsg     struct{ state playback.State }
	pauseMsg     struct{ progress float64 }
	failureMsg   struct{ err error }
	createReqMsg struct{ x, y float32 }
	editReqMsg   struct{ a annotation.Annotation }
	deleteReqMsg struct{ a annotation.Annotation }
)

type moveReqMsg struct {
	a    annotation.Annotation
	x, y float32
}

// Bridge carries session callbacks to the Bubble Tea program. It is both the
// session's Editor and its playback Listener. Callbacks run on the event
// loop, so sends never block. Listener messages go through a bounded buffer
// and are dropped when the program falls behind; the next status poll
// catches up. Editor requests are one-shot user actions, so they are queued
// without a bound and delivered ahead of listener messages.
type Bridge struct {
	events chan tea.Msg

	mu       sync.Mutex
	requests []tea.Msg
	wake     chan struct{}
}

// NewBridge returns a Bridge with room for a burst of listener callbacks.
func NewBridge() *Bridge {
	return &Bridge{
		events: make(chan tea.Msg, 64),
		wake:   make(chan struct{}, 1),
	}
}

func (b *Bridge) OnStateChanged(s playback.State) { b.send(stateMsg{s}) }
func (b *Bridge) OnPauseProgress(p float64)       { b.send(pauseMsg{p}) }
func (b *Bridge) OnError(err error)               { b.send(failureMsg{err}) }

func (b *Bridge) OnCreateRequested(x, y float32)            { b.request(createReqMsg{x, y}) }
func (b *Bridge) OnEditRequested(a annotation.Annotation)   { b.request(editReqMsg{a}) }
func (b *Bridge) OnDeleteRequested(a annotation.Annotation) { b.request(deleteReqMsg{a}) }

func (b *Bridge) OnMoveRequested(a annotation.Annotation, x, y float32) {
	b.request(moveReqMsg{a, x, y})
}

func (b *Bridge) send(msg tea.Msg) {
	select {
	case b.events <- msg:
	default:
	}
}

func (b *Bridge) request(msg tea.Msg) {
	b.mu.Lock()
	b.requests = append(b.requests, msg)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) nextRequest() (tea.Msg, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return nil, false
	}
	msg := b.requests[0]
	b.requests = b.requests[1:]
	return msg, true
}

// listen waits for the next callback, editor requests first.
func (b *Bridge) listen() tea.Cmd {
	return func() tea.Msg {
		for {
			if msg, ok := b.nextRequest(); ok {
				return msg
			}
			select {
			case <-b.wake:
			case msg := <-b.events:
				return msg
			}
		}
	}
}
