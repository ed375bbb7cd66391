// Package timekeeper derives a wall-clock presentation time for RTC
// playback, which carries no timeline of its own.
package timekeeper

import (
	"sync"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
)

// Keeper anchors the first observed frame of a session to the wall clock and
// advances by the media time elapsed since that frame.
type Keeper struct {
	clock clock.Clock

	mu          sync.Mutex
	started     bool
	anchorWall  time.Time
	anchorMedia float64
	latestMedia float64
	frames      uint64
	remove      func()
}

// New creates a Keeper with no samples.
func New(c clock.Clock) *Keeper {
	if c == nil {
		c = clock.Real()
	}
	return &Keeper{clock: c}
}

// Attach registers the keeper's frame callback on sink, replacing any
// previous registration and discarding all samples.
func (k *Keeper) Attach(sink domain.StreamSink) {
	k.Detach()
	remove := sink.OnFrame(k.Observe)

	k.mu.Lock()
	k.remove = remove
	k.mu.Unlock()
}

// Detach unregisters the frame callback and resets the keeper.
func (k *Keeper) Detach() {
	k.mu.Lock()
	remove := k.remove
	k.remove = nil
	k.resetLocked()
	k.mu.Unlock()

	if remove != nil {
		remove()
	}
}

func (k *Keeper) resetLocked() {
	k.started = false
	k.anchorWall = time.Time{}
	k.anchorMedia = 0
	k.latestMedia = 0
	k.frames = 0
}

// Observe records one presented frame. Samples older than the latest one are
// ignored so the derived time never moves backwards.
func (k *Keeper) Observe(frame domain.FrameMetadata) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		k.started = true
		k.anchorWall = k.clock.Now()
		k.anchorMedia = frame.MediaTime
		k.latestMedia = frame.MediaTime
		k.frames = frame.PresentedFrames
		return
	}
	if frame.MediaTime > k.latestMedia {
		k.latestMedia = frame.MediaTime
	}
	if frame.PresentedFrames > k.frames {
		k.frames = frame.PresentedFrames
	}
}

// CurrentTime returns the wall-clock time of the latest presented frame, or
// false before the first frame of the session.
func (k *Keeper) CurrentTime() (time.Time, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.started {
		return time.Time{}, false
	}
	elapsed := time.Duration((k.latestMedia - k.anchorMedia) * float64(time.Second))
	return k.anchorWall.Add(elapsed), true
}

// Frames returns the number of frames presented in the current session.
func (k *Keeper) Frames() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.frames
}
