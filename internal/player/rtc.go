package player

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/reconnect"
	"fleetview/playback/internal/signal"
	"fleetview/playback/internal/timekeeper"
	"fleetview/playback/internal/visibility"
	"fleetview/playback/internal/webrtc"
)

// DefaultPeerTimeout is how long a session waits for any signaling message
// from the remote peer after sending its offer.
const DefaultPeerTimeout = 10 * time.Second

// PeerFactory creates the peer connection of one session.
type PeerFactory func(iceServers []domain.ICEServer, name string) (domain.Peer, error)

// SignalerFactory creates the signaling channel of one session.
type SignalerFactory func(desc *domain.SignalingDescriptor, name string, handler domain.Handler) domain.Signaler

func defaultPeerFactory(iceServers []domain.ICEServer, name string) (domain.Peer, error) {
	p, err := webrtc.NewPeer(iceServers, name)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func defaultSignalerFactory(desc *domain.SignalingDescriptor, name string, handler domain.Handler) domain.Signaler {
	return signal.NewClient(desc, name, handler)
}

// RTCOptions configures an RTC transport.
type RTCOptions struct {
	Surface   domain.Surface
	Signaling *domain.SignalingDescriptor
	Name      string

	// Refetch asks the provisioning API for a fresh descriptor. On success
	// the caller replaces this engine with a new one.
	Refetch domain.Refetcher
	Hooks   domain.Hooks

	Clock         clock.Clock
	Visibility    visibility.Observer
	PeerTimeout   time.Duration
	RetryInterval time.Duration
	Metrics       *Metrics

	NewPeer     PeerFactory
	NewSignaler SignalerFactory
}

type rtcState int

const (
	stateInit rtcState = iota
	stateSignalingOpen
	stateOfferSent
	stateAnswered
	stateICEExchanged
	statePlaying
	stateDisconnected
	stateFailed
	stateReloading
	stateDisposed
)

func (s rtcState) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateSignalingOpen:
		return "SIGNALING_OPEN"
	case stateOfferSent:
		return "OFFER_SENT"
	case stateAnswered:
		return "ANSWERED"
	case stateICEExchanged:
		return "ICE_EXCHANGED"
	case statePlaying:
		return "PLAYING"
	case stateDisconnected:
		return "DISCONNECTED"
	case stateFailed:
		return "FAILED"
	case stateReloading:
		return "RELOADING"
	case stateDisposed:
		return "DISPOSED"
	}
	return fmt.Sprintf("rtcState(%d)", int(s))
}

// RTC is a single real-time session: one peer connection, one signaling
// handshake and at most one bound stream. Reconnecting means refetching the
// descriptor and building a new RTC. It implements domain.Handler.
type RTC struct {
	opts   RTCOptions
	sink   domain.StreamSink
	keeper *timekeeper.Keeper
	policy *reconnect.Policy
	peer   domain.Peer
	signal domain.Signaler
	err    error

	mu        sync.Mutex
	state     rtcState
	responded bool
	bound     bool
	peerTimer clock.Timer
	removers  []func()

	// bindMu orders the surface attach in onTrack against the detach in
	// Dispose. attached is guarded by it.
	bindMu   sync.Mutex
	attached bool
}

// NewRTC creates the session and opens its signaling channel. A surface
// that cannot bind a stream yields a degraded engine whose Err reports
// domain.ErrUnsupportedPlatform.
func NewRTC(opts RTCOptions) (*RTC, error) {
	if opts.Surface == nil {
		return nil, errors.New("rtc transport: surface is required")
	}
	if opts.Signaling == nil || opts.Signaling.Endpoint == "" || opts.Signaling.ChannelID == "" {
		return nil, errors.New("rtc transport: signaling endpoint and channel are required")
	}
	if opts.Refetch == nil {
		return nil, errors.New("rtc transport: refetch function is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.PeerTimeout <= 0 {
		opts.PeerTimeout = DefaultPeerTimeout
	}
	if opts.NewPeer == nil {
		opts.NewPeer = defaultPeerFactory
	}
	if opts.NewSignaler == nil {
		opts.NewSignaler = defaultSignalerFactory
	}

	r := &RTC{opts: opts, keeper: timekeeper.New(opts.Clock)}

	sink, ok := opts.Surface.(domain.StreamSink)
	if !ok {
		r.err = domain.ErrUnsupportedPlatform
		r.state = stateDisposed
		log.Printf("[rtc] %s: %v", opts.Name, r.err)
		return r, nil
	}
	r.sink = sink

	r.policy = reconnect.New(reconnect.Config{
		Name:          opts.Name,
		Clock:         opts.Clock,
		Visibility:    opts.Visibility,
		RetryInterval: opts.RetryInterval,
		OnTrigger:     r.onReloadTriggered,
		OnRefetchFailure: func(error) {
			opts.Metrics.IncRefetchFailures()
		},
	})

	peer, err := opts.NewPeer(opts.Signaling.ICEServers, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("rtc transport: create peer: %w", err)
	}
	r.peer = peer

	peer.SetOnICECandidate(r.onLocalCandidate)
	peer.SetOnTrack(r.onTrack)
	peer.SetOnConnectionStateChange(r.onPeerState)

	if err := peer.InjectWarmup(); err != nil {
		log.Printf("[rtc] %s: warm-up failed, falling back to receive-only: %v", opts.Name, err)
		if err := peer.AddTransceivers(); err != nil {
			peer.Close()
			return nil, fmt.Errorf("rtc transport: add transceivers: %w", err)
		}
	}

	r.removers = append(r.removers,
		opts.Surface.OnPlay(r.onPlay),
		opts.Surface.OnPause(r.onPause),
	)
	opts.Metrics.engineStarted()

	r.signal = opts.NewSignaler(opts.Signaling, opts.Name, r)
	if err := r.signal.Connect(); err != nil {
		// The stall guard recovers from a channel that never opened.
		log.Printf("[rtc] %s: %v", opts.Name, err)
		r.mu.Lock()
		r.armPeerTimeoutLocked()
		r.mu.Unlock()
	}
	return r, nil
}

func (r *RTC) Name() string         { return r.opts.Name }
func (r *RTC) Transport() Transport { return TransportRTC }
func (r *RTC) Err() error           { return r.err }

// State returns the current session state, for diagnostics.
func (r *RTC) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.String()
}

func (r *RTC) disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateDisposed
}

func (r *RTC) onPlay() {
	if !r.disposed() {
		r.opts.Hooks.StartedPlay()
	}
}

func (r *RTC) onPause() {
	if !r.disposed() {
		r.opts.Hooks.Paused()
	}
}

// OnOpen sends the offer once the signaling channel is up.
func (r *RTC) OnOpen() {
	r.mu.Lock()
	if r.state != stateInit {
		r.mu.Unlock()
		return
	}
	r.state = stateSignalingOpen
	r.mu.Unlock()

	log.Printf("[rtc] %s: signaling open, creating offer", r.opts.Name)
	sdp, err := r.peer.CreateOffer()
	if err != nil {
		// Left to the stall guard, like any other unanswered session.
		log.Printf("[rtc] %s: create offer: %v", r.opts.Name, err)
		r.mu.Lock()
		if r.state == stateSignalingOpen {
			r.armPeerTimeoutLocked()
		}
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	if r.state != stateSignalingOpen {
		r.mu.Unlock()
		return
	}
	r.state = stateOfferSent
	r.armPeerTimeoutLocked()
	r.mu.Unlock()

	r.signal.SendSDPOffer(sdp)
}

// armPeerTimeoutLocked must be called with r.mu held.
func (r *RTC) armPeerTimeoutLocked() {
	if r.peerTimer != nil {
		r.peerTimer.Stop()
	}
	r.peerTimer = r.opts.Clock.AfterFunc(r.opts.PeerTimeout, r.onPeerTimeout)
}

func (r *RTC) onPeerTimeout() {
	r.mu.Lock()
	if r.state == stateDisposed || r.responded {
		r.mu.Unlock()
		return
	}
	r.peerTimer = nil
	r.mu.Unlock()

	r.reconnect(domain.ErrNegotiationTimeout)
}

// markResponded disarms the stall guard. It reports false once disposed.
func (r *RTC) markResponded(next rtcState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateDisposed {
		return false
	}
	r.responded = true
	if r.peerTimer != nil {
		r.peerTimer.Stop()
		r.peerTimer = nil
	}
	if r.state == stateOfferSent || r.state == stateAnswered || r.state == stateICEExchanged {
		r.state = next
	}
	return true
}

func (r *RTC) OnSDPAnswer(sdp domain.SDPPayload) {
	if r.disposed() {
		return
	}
	if err := r.peer.SetRemoteDescription(sdp); err != nil {
		log.Printf("[rtc] %s: %v", r.opts.Name, &domain.SignalingError{Op: "answer", Err: err})
		return
	}
	if r.markResponded(stateAnswered) {
		log.Printf("[rtc] %s: answer applied", r.opts.Name)
	}
}

func (r *RTC) OnRemoteICECandidate(candidate domain.ICECandidatePayload) {
	if !r.markResponded(stateICEExchanged) {
		return
	}
	if err := r.peer.AddRemoteICECandidate(candidate); err != nil {
		log.Printf("[rtc] %s: add remote candidate: %v", r.opts.Name, err)
	}
}

func (r *RTC) OnSignalingError(err error) {
	if r.disposed() {
		return
	}
	log.Printf("[rtc] %s: %v", r.opts.Name, err)
}

func (r *RTC) OnClose() {
	if r.disposed() {
		return
	}
	log.Printf("[rtc] %s: signaling closed", r.opts.Name)
}

func (r *RTC) onLocalCandidate(candidate domain.ICECandidatePayload) {
	if r.disposed() {
		return
	}
	r.signal.SendICECandidate(candidate)
}

// onTrack binds the first stream of the session. Later track events are
// ignored, and so is a track that arrives while the engine is disposed.
func (r *RTC) onTrack(ev domain.TrackEvent) {
	r.mu.Lock()
	if r.state == stateDisposed || r.bound || len(ev.Streams) == 0 {
		r.mu.Unlock()
		return
	}
	r.bound = true
	r.mu.Unlock()

	stream := ev.Streams[0]
	r.keeper.Attach(r.sink)

	r.bindMu.Lock()
	if r.disposed() {
		r.bindMu.Unlock()
		r.keeper.Detach()
		return
	}
	log.Printf("[rtc] %s: binding %s stream %s", r.opts.Name, ev.Kind, stream.ID())
	r.sink.AttachStream(stream)
	r.attached = true
	r.bindMu.Unlock()

	r.mu.Lock()
	if r.state == stateDisposed {
		r.mu.Unlock()
		return
	}
	r.state = statePlaying
	r.mu.Unlock()

	r.opts.Metrics.IncSourcesLoaded(TransportRTC)
	r.opts.Hooks.SourceLoaded()
}

func (r *RTC) onPeerState(st domain.PeerState) {
	r.mu.Lock()
	if r.state == stateDisposed {
		r.mu.Unlock()
		return
	}
	switch st {
	case domain.PeerStateDisconnected:
		r.state = stateDisconnected
	case domain.PeerStateFailed:
		r.state = stateFailed
	default:
		r.mu.Unlock()
		log.Printf("[rtc] %s: peer %s", r.opts.Name, st)
		return
	}
	r.mu.Unlock()

	r.reconnect(fmt.Errorf("%w: peer %s", domain.ErrConnectionLost, st))
}

func (r *RTC) onReloadTriggered(error) {
	r.mu.Lock()
	if r.state != stateDisposed {
		r.state = stateReloading
	}
	r.mu.Unlock()

	r.opts.Metrics.IncReloads(TransportRTC)
	r.opts.Hooks.Reload()
}

// reconnect funnels every failure into the policy. Only the first caller
// while a reload is in flight has any effect.
func (r *RTC) reconnect(reason error) {
	r.mu.Lock()
	if r.state == stateDisposed {
		r.mu.Unlock()
		return
	}
	if r.peerTimer != nil {
		r.peerTimer.Stop()
		r.peerTimer = nil
	}
	r.mu.Unlock()

	if !r.policy.Refetch(reason, r.opts.Refetch) {
		log.Printf("[rtc] %s: reload in flight, ignoring: %v", r.opts.Name, reason)
	}
}

// CurrentPresentationTime is derived from presented frames.
func (r *RTC) CurrentPresentationTime() (time.Time, bool) {
	if r.disposed() {
		return time.Time{}, false
	}
	return r.keeper.CurrentTime()
}

// PresentedFrames reports the frames shown since the stream was bound.
func (r *RTC) PresentedFrames() (uint64, bool) {
	if r.disposed() {
		return 0, false
	}
	return r.keeper.Frames(), true
}

// JumpToLiveEdge is a no-op: a real-time session has no backlog.
func (r *RTC) JumpToLiveEdge() {}

// Reload starts a new session via a descriptor refetch.
func (r *RTC) Reload() {
	if r.err != nil {
		return
	}
	r.reconnect(errors.New("reload requested"))
}

// Dispose closes the session. Safe to call more than once and from any
// callback.
func (r *RTC) Dispose() {
	r.mu.Lock()
	if r.state == stateDisposed {
		r.mu.Unlock()
		return
	}
	r.state = stateDisposed
	if r.peerTimer != nil {
		r.peerTimer.Stop()
		r.peerTimer = nil
	}
	removers := r.removers
	r.removers = nil
	r.mu.Unlock()

	r.policy.Stop()
	for _, remove := range removers {
		remove()
	}
	if r.signal != nil {
		r.signal.Close()
	}
	r.bindMu.Lock()
	if r.attached {
		r.sink.DetachStream()
		r.attached = false
	}
	r.bindMu.Unlock()
	r.keeper.Detach()
	r.peer.Close()
	r.opts.Metrics.engineDisposed()
	log.Printf("[rtc] %s: disposed", r.opts.Name)
}
