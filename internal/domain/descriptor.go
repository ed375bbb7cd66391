package domain

import (
	"fmt"
	"time"
)

// Kind is the request kind of a stream.
type Kind string

const (
	KindLive Kind = "live"
	KindClip Kind = "clip"
)

// Resolution is the desired resolution tier of a stream.
type Resolution string

const (
	ResolutionLow      Resolution = "low"
	ResolutionStandard Resolution = "standard"
	ResolutionHigh     Resolution = "high"
)

// Height returns the nominal vertical resolution of the tier in pixels.
func (r Resolution) Height() int {
	switch r {
	case ResolutionLow:
		return 360
	case ResolutionHigh:
		return 1080
	default:
		return 720
	}
}

// StreamRequest is what the application asks the provisioning API for.
type StreamRequest struct {
	CameraID   string
	Kind       Kind
	Resolution Resolution
	Start      time.Time
	End        time.Time

	// WebRTC prefers the real-time transport for live requests.
	WebRTC bool
}

// Validate reports whether the request can be provisioned.
func (r StreamRequest) Validate() error {
	if r.CameraID == "" {
		return fmt.Errorf("stream request: camera id is required")
	}
	switch r.Kind {
	case KindLive:
	case KindClip:
		if r.Start.IsZero() || r.End.IsZero() || !r.End.After(r.Start) {
			return fmt.Errorf("stream request: clip requires start < end")
		}
	default:
		return fmt.Errorf("stream request: unknown kind %q", r.Kind)
	}
	return nil
}

// StreamDescriptor identifies what to play. It is immutable once a transport
// has been constructed from it.
type StreamDescriptor struct {
	CameraID   string
	Kind       Kind
	Resolution Resolution

	// Start and End bound a clip. Both are zero for live requests.
	Start time.Time
	End   time.Time

	// URL is the segmented-stream playlist. Empty for RTC descriptors.
	URL string

	// Signaling is set for RTC descriptors.
	Signaling *SignalingDescriptor
}

// Validate reports whether the descriptor is internally consistent.
func (d StreamDescriptor) Validate() error {
	if d.CameraID == "" {
		return fmt.Errorf("stream descriptor: camera id is required")
	}
	switch d.Kind {
	case KindLive:
	case KindClip:
		if d.Start.IsZero() || d.End.IsZero() || !d.End.After(d.Start) {
			return fmt.Errorf("stream descriptor: clip requires start < end")
		}
	default:
		return fmt.Errorf("stream descriptor: unknown kind %q", d.Kind)
	}
	if d.URL == "" && d.Signaling == nil {
		return fmt.Errorf("stream descriptor: neither url nor signaling set")
	}
	return nil
}

// SignalingDescriptor holds the short-lived signaling credentials and ICE
// server configuration issued by the provisioning API.
type SignalingDescriptor struct {
	ChannelID          string      `json:"channelId"`
	Endpoint           string      `json:"endpoint"`
	ClientID           string      `json:"clientId"`
	Credential         string      `json:"credential"`
	ICEServers         []ICEServer `json:"iceServers"`
	SignalPingInterval int         `json:"signalPingInterval"`
	ExpiresAt          time.Time   `json:"expiresAt"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
}

// TimeRange is a [Start, End] interval on the media timeline, in seconds.
type TimeRange struct {
	Start float64
	End   float64
}

// FrameMetadata describes one decoded video frame delivered to a surface.
type FrameMetadata struct {
	// MediaTime is the presentation timestamp of the frame in seconds,
	// relative to the start of the stream.
	MediaTime float64

	// PresentedFrames is the running count of frames presented so far.
	PresentedFrames uint64
}
