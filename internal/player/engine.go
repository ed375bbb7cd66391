// Package player exposes the playback engine: one handle over either the
// segmented-stream transport or the real-time transport, with the same
// contract regardless of which one backs it.
package player

import (
	"time"
)

// Transport tags the implementation behind an Engine.
type Transport string

const (
	TransportSegment Transport = "segment"
	TransportRTC     Transport = "rtc"
)

// Engine is a playback session bound to a caller-owned surface. It must not
// be used after Dispose.
type Engine interface {
	// Name is the stream name used in diagnostics.
	Name() string
	Transport() Transport

	// CurrentPresentationTime returns the wall-clock time of the frame being
	// shown, or false when it is unknown.
	CurrentPresentationTime() (time.Time, bool)

	JumpToLiveEdge()
	Reload()

	// Dispose releases every resource the engine owns. Safe to call more
	// than once.
	Dispose()

	// Err reports why the engine is permanently degraded, or nil.
	Err() error
}

// FrameCounter is implemented by engines that count presented frames.
type FrameCounter interface {
	// PresentedFrames returns the frames shown in the current session, or
	// false when the engine does not track them.
	PresentedFrames() (uint64, bool)
}
