// Package surface provides a headless media surface: a playhead driven by
// the injected clock, buffered and seekable ranges, play/pause and frame
// notifications, and a byte sink receiving the media itself.
package surface

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
)

// rangeJoinTolerance merges buffered ranges separated by less than this many
// seconds, absorbing rounding in segment durations.
const rangeJoinTolerance = 0.05

// Surface implements domain.Surface, domain.SegmentSink and
// domain.StreamSink.
type Surface struct {
	clock clock.Clock
	out   io.Writer

	mu        sync.Mutex
	writeMu   sync.Mutex
	paused    bool
	base      float64
	playStart time.Time
	buffered  []domain.TimeRange
	seekable  []domain.TimeRange

	stream       domain.MediaStream
	streamCancel context.CancelFunc
	frameTime    float64

	nextID  int
	onPlay  map[int]func()
	onPause map[int]func()
	onFrame map[int]func(domain.FrameMetadata)
}

// New creates a paused Surface writing media to out.
func New(c clock.Clock, out io.Writer) *Surface {
	if c == nil {
		c = clock.Real()
	}
	if out == nil {
		out = io.Discard
	}
	return &Surface{
		clock:   c,
		out:     out,
		paused:  true,
		onPlay:  make(map[int]func()),
		onPause: make(map[int]func()),
		onFrame: make(map[int]func(domain.FrameMetadata)),
	}
}

// CurrentTime returns the playhead position in seconds. With a bound stream
// it is the media time of the latest presented frame.
func (s *Surface) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Surface) currentLocked() float64 {
	if s.stream != nil {
		return s.frameTime
	}
	pos := s.base
	if !s.paused {
		pos += s.clock.Now().Sub(s.playStart).Seconds()
	}
	for _, r := range s.buffered {
		if s.base >= r.Start-rangeJoinTolerance && s.base <= r.End {
			if pos > r.End {
				pos = r.End
			}
			return pos
		}
	}
	// Outside any buffered range the playhead is stalled.
	return s.base
}

// Seek moves the playhead.
func (s *Surface) Seek(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = t
	s.playStart = s.clock.Now()
}

// Seekable returns the seekable window, or the buffered ranges when no
// window has been set.
func (s *Surface) Seekable() []domain.TimeRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seekable != nil {
		return append([]domain.TimeRange(nil), s.seekable...)
	}
	return append([]domain.TimeRange(nil), s.buffered...)
}

func (s *Surface) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Play resumes the playhead and notifies play listeners.
func (s *Surface) Play() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.playStart = s.clock.Now()
	fns := callbacks(s.onPlay)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Pause freezes the playhead and notifies pause listeners.
func (s *Surface) Pause() {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.base = s.currentLocked()
	s.paused = true
	fns := callbacks(s.onPause)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Surface) OnPlay(fn func()) func() {
	return s.subscribe(s.onPlay, fn)
}

func (s *Surface) OnPause(fn func()) func() {
	return s.subscribe(s.onPause, fn)
}

func (s *Surface) subscribe(m map[int]func(), fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	m[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(m, id)
	}
}

func callbacks(m map[int]func()) []func() {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m[id])
	}
	return fns
}

// AppendSegment writes segment data to the sink and extends the buffered
// ranges by [start, start+duration].
func (s *Surface) AppendSegment(start, duration float64, data []byte) error {
	if _, err := s.Write(data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = mergeRange(s.buffered, domain.TimeRange{Start: start, End: start + duration})
	return nil
}

func mergeRange(ranges []domain.TimeRange, r domain.TimeRange) []domain.TimeRange {
	ranges = append(ranges, r)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	merged := ranges[:1]
	for _, cur := range ranges[1:] {
		last := &merged[len(merged)-1]
		if cur.Start <= last.End+rangeJoinTolerance {
			if cur.End > last.End {
				last.End = cur.End
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

func (s *Surface) Buffered() []domain.TimeRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TimeRange(nil), s.buffered...)
}

func (s *Surface) SetSeekable(ranges []domain.TimeRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seekable = append([]domain.TimeRange(nil), ranges...)
}

// EvictBefore drops buffered media older than t.
func (s *Surface) EvictBefore(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.buffered[:0]
	for _, r := range s.buffered {
		if r.End <= t {
			continue
		}
		if r.Start < t {
			r.Start = t
		}
		kept = append(kept, r)
	}
	s.buffered = kept
}

// ResetBuffer drops all buffered ranges and the seekable window.
func (s *Surface) ResetBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = nil
	s.seekable = nil
}

// Write forwards media bytes to the output.
func (s *Surface) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.out.Write(p)
}

// PresentFrame records a presented frame and notifies frame listeners.
func (s *Surface) PresentFrame(frame domain.FrameMetadata) {
	s.mu.Lock()
	s.frameTime = frame.MediaTime
	fns := make([]func(domain.FrameMetadata), 0, len(s.onFrame))
	for _, fn := range s.onFrame {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(frame)
	}
}

func (s *Surface) OnFrame(fn func(domain.FrameMetadata)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.onFrame[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onFrame, id)
	}
}

// AttachStream binds stream as the surface's source, replacing any previous
// one.
func (s *Surface) AttachStream(stream domain.MediaStream) {
	s.DetachStream()

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stream = stream
	s.streamCancel = cancel
	s.frameTime = 0
	s.mu.Unlock()

	go func() {
		if err := stream.Play(ctx, s); err != nil && ctx.Err() == nil {
			log.Printf("[surface] stream %s ended: %v", stream.ID(), err)
		}
	}()
}

// DetachStream unbinds the current stream, if any.
func (s *Surface) DetachStream() {
	s.mu.Lock()
	cancel := s.streamCancel
	s.stream = nil
	s.streamCancel = nil
	s.frameTime = 0
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
