// Package media defines the boundary to the component that actually decodes
// and presents video. The playback core only needs a coarse position, the
// duration and basic transport controls.
package media

import "errors"

// ErrNoSource is reported through the prepared callback when there is
// nothing to play.
var ErrNoSource = errors.New("no media source")

// Engine is the media player adapter. Every callback is delivered on the
// session's event loop.
type Engine interface {
	// CurrentPositionMs is authoritative but coarse. Callers poll it only
	// to calibrate, never per tick.
	CurrentPositionMs() uint64
	IsPlaying() bool
	DurationMs() uint64
	SeekTo(ms uint64)
	Play()
	Pause()
	// Prepare starts loading the source. fn fires exactly once with nil on
	// success or the reason the source cannot be played.
	Prepare(fn func(err error))
	Release()
}
