package domain

import (
	"context"
	"io"
	"time"
)

// Refetcher obtains a fresh stream descriptor from the provisioning API.
type Refetcher func(ctx context.Context) error

// Signaler manages the WebSocket signaling connection.
type Signaler interface {
	Connect() error
	SendSDPOffer(sdp string)
	SendICECandidate(candidate ICECandidatePayload)
	Close()
}

// Handler receives signaling events.
type Handler interface {
	OnOpen()
	OnSDPAnswer(sdp SDPPayload)
	OnRemoteICECandidate(candidate ICECandidatePayload)
	OnSignalingError(err error)
	OnClose()
}

// PeerState mirrors the peer connection state.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
)

// TrackEvent is emitted for every inbound media track.
type TrackEvent struct {
	Kind    string
	Streams []MediaStream
}

// Peer manages the WebRTC peer connection.
type Peer interface {
	InjectWarmup() error
	AddTransceivers() error
	SetOnTrack(fn func(TrackEvent))
	SetOnICECandidate(fn func(candidate ICECandidatePayload))
	SetOnConnectionStateChange(fn func(state PeerState))
	CreateOffer() (string, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	Close()
}

// MediaStream is an inbound stream of one or more tracks. Play pushes its
// media into sink until ctx is cancelled or the stream ends.
type MediaStream interface {
	ID() string
	Play(ctx context.Context, sink MediaSink) error
}

// MediaSink receives depacketized media from a bound stream.
type MediaSink interface {
	io.Writer
	PresentFrame(frame FrameMetadata)
}

// Surface is the caller-owned playback surface an engine attaches to.
type Surface interface {
	CurrentTime() float64
	Seek(t float64)
	Seekable() []TimeRange
	Play()
	Pause()
	Paused() bool
	OnPlay(fn func()) (remove func())
	OnPause(fn func()) (remove func())
}

// SegmentSink is implemented by surfaces that accept fetched media segments.
// Surfaces without it cannot use the software segment path.
type SegmentSink interface {
	AppendSegment(start, duration float64, data []byte) error
	Buffered() []TimeRange
	SetSeekable(ranges []TimeRange)
	EvictBefore(t float64)
	ResetBuffer()
}

// StreamSink is implemented by surfaces that can bind an inbound RTC stream.
type StreamSink interface {
	AttachStream(stream MediaStream)
	DetachStream()
	OnFrame(fn func(FrameMetadata)) (remove func())
}

// NativeSource is implemented by surfaces with platform-native segmented
// stream support.
type NativeSource interface {
	SetSource(url string) error
	ClearSource()
}

// NativeStartDate is an optional extension of NativeSource reporting the
// wall-clock date of media time zero.
type NativeStartDate interface {
	StartDate() (time.Time, bool)
}

// NativeLiveSeeker is an optional extension of NativeSource that moves the
// playhead to the platform's notion of the live edge.
type NativeLiveSeeker interface {
	SeekToLive()
}
