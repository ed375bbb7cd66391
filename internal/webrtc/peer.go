package webrtc

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"fleetview/playback/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	pion "github.com/pion/webrtc/v4"
)

// Peer wraps a Pion PeerConnection for one viewer session.
type Peer struct {
	pc   *pion.PeerConnection
	name string

	mu            sync.Mutex
	remoteDescSet bool
	pending       []pion.ICECandidateInit
	streams       map[string]*RemoteStream
	closed        bool
}

// NewPeer creates a receive-oriented PeerConnection with H264 video and
// PCMU/Opus audio.
func NewPeer(iceServers []domain.ICEServer, name string) (*Peer, error) {
	m := &pion.MediaEngine{}

	h264Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:     pion.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []pion.RTCPFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}},
		},
		PayloadType: 102,
	}
	if err := m.RegisterCodec(h264Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	pcmuCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: 0,
	}
	if err := m.RegisterCodec(pcmuCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}

	i := &interceptor.Registry{}
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   toPionServers(iceServers),
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:      pc,
		name:    name,
		streams: make(map[string]*RemoteStream),
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Printf("[webrtc] %s: ICE connection state: %s", name, state.String())
	})
	pc.OnICEGatheringStateChange(func(state pion.ICEGatheringState) {
		log.Printf("[webrtc] %s: ICE gathering state: %s", name, state.String())
	})

	return p, nil
}

func toPionServers(iceServers []domain.ICEServer) []pion.ICEServer {
	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// AddTransceivers adds receive-only audio and video transceivers. Used when
// warm-up injection is unavailable.
func (p *Peer) AddTransceivers() error {
	_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	_, err = p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}

	return nil
}

// SetOnTrack registers fn for every inbound track. Tracks sharing a stream
// id are grouped into the same RemoteStream.
func (p *Peer) SetOnTrack(fn func(domain.TrackEvent)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		log.Printf("[webrtc] %s: got track: kind=%s codec=%s stream=%q", p.name, track.Kind(), codec.MimeType, track.StreamID())

		ev := domain.TrackEvent{Kind: track.Kind().String()}
		if id := track.StreamID(); id != "" {
			ev.Streams = []domain.MediaStream{p.streamFor(id, track)}
		} else {
			go drain(track)
		}
		fn(ev)
	})
}

func (p *Peer) streamFor(id string, track *pion.TrackRemote) *RemoteStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[id]
	if !ok {
		s = NewRemoteStream(id, p.requestKeyFrame)
		p.streams[id] = s
	}
	s.AddTrack(track)
	return s
}

func (p *Peer) requestKeyFrame(ssrc uint32) {
	err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	if err != nil {
		log.Printf("[webrtc] %s: send PLI: %v", p.name, err)
	}
}

// SetOnICECandidate registers the callback for locally discovered ICE candidates.
func (p *Peer) SetOnICECandidate(send func(domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Printf("[webrtc] %s: ICE gathering complete", p.name)
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			return
		}

		payload := domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		send(payload)
	})
}

// SetOnConnectionStateChange registers fn for peer connection state changes.
func (p *Peer) SetOnConnectionStateChange(fn func(domain.PeerState)) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Printf("[webrtc] %s: peer connection state: %s", p.name, state.String())
		fn(domain.PeerState(state.String()))
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	log.Printf("[webrtc] %s: local SDP offer set", p.name)
	return offer.SDP, nil
}

// SetRemoteDescription applies the SDP answer and flushes remote candidates
// that arrived before it.
func (p *Peer) SetRemoteDescription(answer domain.SDPPayload) error {
	if err := validateAnswer(answer.SDP); err != nil {
		return err
	}

	if err := p.pc.SetRemoteDescription(pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteDescSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	log.Printf("[webrtc] %s: remote SDP answer set, flushing %d candidates", p.name, len(pending))
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Printf("[webrtc] %s: add queued ICE candidate: %v", p.name, err)
		}
	}
	return nil
}

// validateAnswer rejects answers that negotiate no media at all.
func validateAnswer(raw string) error {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("parse answer: %w", err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return fmt.Errorf("answer carries no media sections")
	}
	return nil
}

// AddRemoteICECandidate adds the candidate, or queues it until the remote
// description is set.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &candidate.SDPMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	p.mu.Lock()
	if !p.remoteDescSet {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Close shuts down the PeerConnection. Safe to call more than once.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.pc.Close(); err != nil {
		log.Printf("[webrtc] %s: close: %v", p.name, err)
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
