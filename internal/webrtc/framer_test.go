package webrtc

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"fleetview/playback/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

type captureSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	frames []domain.FrameMetadata
	notify chan struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{notify: make(chan struct{}, 64)}
}

func (s *captureSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *captureSink) PresentFrame(f domain.FrameMetadata) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func packet(seq uint16, ts uint32, marker bool, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq, Timestamp: ts, Marker: marker},
		Payload: payload,
	}
}

func TestFramer_EmitsAccessUnitOnMarker(t *testing.T) {
	f := newVideoFramer(90000)
	sink := newCaptureSink()

	sps := []byte{0x67, 0x42}
	pps := []byte{0x68, 0xCE}
	stap := []byte{0x18, 0x00, 0x02}
	stap = append(stap, sps...)
	stap = append(stap, 0x00, 0x02)
	stap = append(stap, pps...)

	if err := f.push(packet(1, 1000, false, stap), sink); err != nil {
		t.Fatal(err)
	}
	if len(sink.frames) != 0 {
		t.Fatal("frame presented before marker")
	}
	if err := f.push(packet(2, 1000, true, []byte{0x65, 0x01}), sink); err != nil {
		t.Fatal(err)
	}

	want := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xCE, 0, 0, 0, 1, 0x65, 0x01}
	if !bytes.Equal(sink.buf.Bytes(), want) {
		t.Errorf("expected %x, got %x", want, sink.buf.Bytes())
	}
	if len(sink.frames) != 1 || sink.frames[0].MediaTime != 0 || sink.frames[0].PresentedFrames != 1 {
		t.Errorf("unexpected frames %+v", sink.frames)
	}
}

func TestFramer_MediaTimeAcrossTimestampWrap(t *testing.T) {
	f := newVideoFramer(90000)
	sink := newCaptureSink()

	start := uint32(0xFFFFFFFF - 1500)
	if err := f.push(packet(10, start, true, []byte{0x41}), sink); err != nil {
		t.Fatal(err)
	}
	if err := f.push(packet(11, start+3000, true, []byte{0x41}), sink); err != nil {
		t.Fatal(err)
	}

	if len(sink.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(sink.frames))
	}
	got := sink.frames[1].MediaTime
	if got < 0.0333 || got > 0.0334 {
		t.Errorf("expected ~33ms after wrap, got %v", got)
	}
}

// fakeTrack replays packets and then reports EOF.
type fakeTrack struct {
	kind    pion.RTPCodecType
	ssrc    pion.SSRC
	packets chan *rtp.Packet
}

func (f *fakeTrack) Kind() pion.RTPCodecType { return f.kind }
func (f *fakeTrack) SSRC() pion.SSRC         { return f.ssrc }
func (f *fakeTrack) Codec() pion.RTPCodecParameters {
	return pion.RTPCodecParameters{RTPCodecCapability: pion.RTPCodecCapability{ClockRate: 90000}}
}
func (f *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-f.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func TestRemoteStream_PumpsTracksAddedAfterBind(t *testing.T) {
	var plis []uint32
	var pliMu sync.Mutex
	s := NewRemoteStream("cam", func(ssrc uint32) {
		pliMu.Lock()
		plis = append(plis, ssrc)
		pliMu.Unlock()
	})

	audio := &fakeTrack{kind: pion.RTPCodecTypeAudio, packets: make(chan *rtp.Packet)}
	s.AddTrack(audio)

	sink := newCaptureSink()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Play(ctx, sink) }()

	video := &fakeTrack{kind: pion.RTPCodecTypeVideo, ssrc: 1234, packets: make(chan *rtp.Packet, 2)}
	s.AddTrack(video)
	video.packets <- packet(1, 0, true, []byte{0x65, 0xAA})

	select {
	case <-sink.notify:
	case <-time.After(time.Second):
		t.Fatal("expected a presented frame from late video track")
	}

	pliMu.Lock()
	if len(plis) != 1 || plis[0] != 1234 {
		t.Errorf("expected one PLI for ssrc 1234, got %v", plis)
	}
	pliMu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Play did not return after cancel")
	}
	close(video.packets)
	close(audio.packets)
}
