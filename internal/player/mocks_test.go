package player

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/surface"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// mockSignaler records calls for verification. Connect opens the channel
// synchronously like the real client.
type mockSignaler struct {
	handler    domain.Handler
	connectErr error

	mu         sync.Mutex
	offers     []string
	candidates []domain.ICECandidatePayload
	closed     int
}

func (m *mockSignaler) Connect() error {
	if m.connectErr != nil {
		return m.connectErr
	}
	m.handler.OnOpen()
	return nil
}

func (m *mockSignaler) SendSDPOffer(sdp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = append(m.offers, sdp)
}

func (m *mockSignaler) SendICECandidate(c domain.ICECandidatePayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c)
}

func (m *mockSignaler) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *mockSignaler) offerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offers)
}

// mockPeer records calls and captures the callbacks the transport installs.
type mockPeer struct {
	warmupErr   error
	offerErr    error
	remoteErr   error
	offerSDP    string
	transceiver bool

	mu          sync.Mutex
	onTrack     func(domain.TrackEvent)
	onCandidate func(domain.ICECandidatePayload)
	onState     func(domain.PeerState)
	remoteSet   int
	remoteICE   int
	closed      int
}

func (m *mockPeer) InjectWarmup() error { return m.warmupErr }

func (m *mockPeer) AddTransceivers() error {
	m.transceiver = true
	return nil
}

func (m *mockPeer) SetOnTrack(fn func(domain.TrackEvent)) { m.onTrack = fn }
func (m *mockPeer) SetOnICECandidate(fn func(domain.ICECandidatePayload)) { m.onCandidate = fn }
func (m *mockPeer) SetOnConnectionStateChange(fn func(domain.PeerState)) { m.onState = fn }

func (m *mockPeer) CreateOffer() (string, error) {
	if m.offerErr != nil {
		return "", m.offerErr
	}
	if m.offerSDP == "" {
		return "v=0\r\ntest-offer", nil
	}
	return m.offerSDP, nil
}

func (m *mockPeer) SetRemoteDescription(sdp domain.SDPPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remoteErr != nil {
		return m.remoteErr
	}
	m.remoteSet++
	return nil
}

func (m *mockPeer) AddRemoteICECandidate(c domain.ICECandidatePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteICE++
	return nil
}

func (m *mockPeer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

// fakeStream plays nothing until cancelled.
type fakeStream struct{ id string }

func (f fakeStream) ID() string { return f.id }

func (f fakeStream) Play(ctx context.Context, sink domain.MediaSink) error {
	<-ctx.Done()
	return ctx.Err()
}

// spySurface counts stream bindings on top of the headless surface.
type spySurface struct {
	*surface.Surface
	attached atomic.Int32
}

func newSpySurface(c clock.Clock) *spySurface {
	return &spySurface{Surface: surface.New(c, nil)}
}

func (s *spySurface) AttachStream(stream domain.MediaStream) {
	s.attached.Add(1)
	s.Surface.AttachStream(stream)
}

// bareSurface only offers the minimal surface contract.
type bareSurface struct {
	domain.Surface
}

// hookCounter counts lifecycle notifications.
type hookCounter struct {
	loaded, played, paused, reloads atomic.Int32
}

func (h *hookCounter) hooks() domain.Hooks {
	return domain.Hooks{
		OnSourceLoaded:     func() { h.loaded.Add(1) },
		OnVideoStartedPlay: func() { h.played.Add(1) },
		OnVideoPaused:      func() { h.paused.Add(1) },
		OnVideoReload:      func() { h.reloads.Add(1) },
	}
}

// countingRefetcher counts calls and fails while fail is set.
type countingRefetcher struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (r *countingRefetcher) refetch(ctx context.Context) error {
	r.calls.Add(1)
	if r.fail.Load() {
		return errors.New("provisioning unavailable")
	}
	return nil
}
