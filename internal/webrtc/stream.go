package webrtc

import (
	"context"
	"io"
	"log"
	"sync"

	"fleetview/playback/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// remoteTrack is the subset of *pion.TrackRemote the pump needs.
type remoteTrack interface {
	Kind() pion.RTPCodecType
	Codec() pion.RTPCodecParameters
	SSRC() pion.SSRC
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteStream groups the inbound tracks that share a stream id. Tracks may
// be added after the stream has been bound.
type RemoteStream struct {
	id     string
	pli    func(ssrc uint32)
	mu     sync.Mutex
	tracks []remoteTrack
	added  chan struct{}
}

// NewRemoteStream creates an empty stream. pli, if set, is called with the
// SSRC of each video track when playback starts.
func NewRemoteStream(id string, pli func(ssrc uint32)) *RemoteStream {
	return &RemoteStream{
		id:    id,
		pli:   pli,
		added: make(chan struct{}),
	}
}

func (s *RemoteStream) ID() string { return s.id }

// AddTrack adds a track and wakes any running Play loop.
func (s *RemoteStream) AddTrack(t remoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
	close(s.added)
	s.added = make(chan struct{})
}

// Play pumps every current and future track into sink until ctx is done.
// Video is written as Annex-B H264; audio is drained.
func (s *RemoteStream) Play(ctx context.Context, sink domain.MediaSink) error {
	started := 0
	for {
		s.mu.Lock()
		tracks := s.tracks[started:]
		started = len(s.tracks)
		added := s.added
		s.mu.Unlock()

		for _, t := range tracks {
			if t.Kind() == pion.RTPCodecTypeVideo {
				if s.pli != nil {
					s.pli(uint32(t.SSRC()))
				}
				go pumpVideo(ctx, s.id, t, sink)
			} else {
				go drain(t)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-added:
		}
	}
}

func pumpVideo(ctx context.Context, id string, t remoteTrack, sink domain.MediaSink) {
	framer := newVideoFramer(t.Codec().ClockRate)
	for {
		pkt, _, err := t.ReadRTP()
		if err != nil {
			if err != io.EOF {
				log.Printf("[webrtc] %s: video track read error: %v", id, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := framer.push(pkt, sink); err != nil {
			log.Printf("[webrtc] %s: write frame: %v", id, err)
			return
		}
	}
}

func drain(t interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}) {
	for {
		if _, _, err := t.ReadRTP(); err != nil {
			return
		}
	}
}
