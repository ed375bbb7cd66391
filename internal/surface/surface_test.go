package surface

import (
	"bytes"
	"context"
	"testing"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestPlayhead_AdvancesWhilePlayingAndClampsToBuffer(t *testing.T) {
	c := clock.NewFake(epoch)
	var out bytes.Buffer
	s := New(c, &out)

	if err := s.AppendSegment(0, 2, []byte("seg0")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendSegment(2, 2, []byte("seg1")); err != nil {
		t.Fatal(err)
	}
	if out.String() != "seg0seg1" {
		t.Errorf("expected media written through, got %q", out.String())
	}

	c.Advance(time.Second)
	if got := s.CurrentTime(); got != 0 {
		t.Fatalf("paused playhead moved to %v", got)
	}

	s.Play()
	c.Advance(1500 * time.Millisecond)
	if got := s.CurrentTime(); got != 1.5 {
		t.Errorf("expected 1.5, got %v", got)
	}

	c.Advance(10 * time.Second)
	if got := s.CurrentTime(); got != 4 {
		t.Errorf("expected playhead clamped at buffered end 4, got %v", got)
	}

	s.Pause()
	if got := s.CurrentTime(); got != 4 {
		t.Errorf("expected 4 after pause, got %v", got)
	}
}

func TestPlayPause_Notifications(t *testing.T) {
	s := New(clock.NewFake(epoch), nil)
	plays, pauses := 0, 0
	removePlay := s.OnPlay(func() { plays++ })
	s.OnPause(func() { pauses++ })

	s.Play()
	s.Play()
	s.Pause()
	s.Pause()
	if plays != 1 || pauses != 1 {
		t.Fatalf("expected 1 play and 1 pause, got %d/%d", plays, pauses)
	}

	removePlay()
	s.Play()
	if plays != 1 {
		t.Errorf("removed listener still called")
	}
}

func TestBufferedRanges_MergeAndEvict(t *testing.T) {
	s := New(clock.NewFake(epoch), nil)
	_ = s.AppendSegment(4, 2, nil)
	_ = s.AppendSegment(0, 2, nil)
	_ = s.AppendSegment(2.02, 1.98, nil)
	_ = s.AppendSegment(10, 2, nil)

	got := s.Buffered()
	want := []domain.TimeRange{{Start: 0, End: 6}, {Start: 10, End: 12}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}

	s.EvictBefore(5)
	got = s.Buffered()
	if len(got) != 2 || got[0].Start != 5 || got[0].End != 6 {
		t.Errorf("unexpected ranges after eviction %v", got)
	}

	if sk := s.Seekable(); len(sk) != 2 {
		t.Errorf("expected seekable to fall back to buffered, got %v", sk)
	}
	s.SetSeekable([]domain.TimeRange{{Start: 0, End: 30}})
	if sk := s.Seekable(); len(sk) != 1 || sk[0].End != 30 {
		t.Errorf("unexpected seekable %v", sk)
	}

	s.ResetBuffer()
	if len(s.Buffered()) != 0 || len(s.Seekable()) != 0 {
		t.Error("expected empty ranges after reset")
	}
}

type stubStream struct {
	frames []domain.FrameMetadata
	done   chan struct{}
}

func (st *stubStream) ID() string { return "stub" }
func (st *stubStream) Play(ctx context.Context, sink domain.MediaSink) error {
	for _, f := range st.frames {
		_, _ = sink.Write([]byte{0, 0, 0, 1})
		sink.PresentFrame(f)
	}
	close(st.done)
	<-ctx.Done()
	return ctx.Err()
}

func TestAttachStream_DeliversFrames(t *testing.T) {
	var out bytes.Buffer
	s := New(clock.NewFake(epoch), &out)

	seen := make(chan domain.FrameMetadata, 4)
	s.OnFrame(func(f domain.FrameMetadata) { seen <- f })

	st := &stubStream{
		frames: []domain.FrameMetadata{{MediaTime: 0, PresentedFrames: 1}, {MediaTime: 0.5, PresentedFrames: 2}},
		done:   make(chan struct{}),
	}
	s.AttachStream(st)

	select {
	case <-st.done:
	case <-time.After(time.Second):
		t.Fatal("stream never played")
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 frame callbacks, got %d", len(seen))
	}
	if got := s.CurrentTime(); got != 0.5 {
		t.Errorf("expected current time 0.5, got %v", got)
	}

	s.DetachStream()
	if got := s.CurrentTime(); got != 0 {
		t.Errorf("expected 0 after detach, got %v", got)
	}
}
