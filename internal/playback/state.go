package playback

import "errors"

// State is the playback state of a session.
type State int

const (
	Unprepared State = iota
	Prepared
	Playing
	Paused
	// AnnotationPaused is an automatic pause while a just-reached annotation
	// is on screen. It resumes by itself once the countdown elapses.
	AnnotationPaused
)

func (s State) String() string {
	switch s {
	case Unprepared:
		return "unprepared"
	case Prepared:
		return "prepared"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case AnnotationPaused:
		return "annotation-paused"
	default:
		return "unknown"
	}
}

// ErrNotPrepared is returned by transport calls made before the media
// engine reported it was ready.
var ErrNotPrepared = errors.New("media not prepared")

// MediaError is reported when the media engine cannot play the source.
type MediaError struct {
	Err error
}

func (e *MediaError) Error() string {
	return "playback error: " + e.Err.Error()
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// Listener receives state machine notifications on the event loop. Calls
// are synchronous and must not block.
type Listener interface {
	OnStateChanged(State)
	// OnPauseProgress reports the annotation countdown as a percentage
	// 0..100 of the display duration.
	OnPauseProgress(float64)
	OnError(error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	StateChanged  func(State)
	PauseProgress func(float64)
	Error         func(error)
}

func (f ListenerFuncs) OnStateChanged(s State) {
	if f.StateChanged != nil {
		f.StateChanged(s)
	}
}

func (f ListenerFuncs) OnPauseProgress(p float64) {
	if f.PauseProgress != nil {
		f.PauseProgress(p)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}
