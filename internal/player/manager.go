package player

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/reconnect"
	"fleetview/playback/internal/visibility"
)

// Provisioner issues stream descriptors. It is the stream-provisioning API
// as seen by the engine.
type Provisioner interface {
	Describe(ctx context.Context, req domain.StreamRequest) (*domain.StreamDescriptor, error)
}

// ManagerOptions configures a Manager. Every engine it builds shares them.
type ManagerOptions struct {
	Surface     domain.Surface
	Provisioner Provisioner
	Native      bool
	Hooks       domain.Hooks

	// SeekOffset is the initial seek of clip requests.
	SeekOffset time.Duration

	Clock         clock.Clock
	Visibility    visibility.Observer
	ReloadDelay   time.Duration
	PeerTimeout   time.Duration
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Metrics       *Metrics

	NewPeer     PeerFactory
	NewSignaler SignalerFactory
}

// Manager selects the transport for a request and keeps one engine bound to
// the surface, replacing it whenever a descriptor is refetched. It is itself
// an Engine delegating to the current one.
type Manager struct {
	opts ManagerOptions

	// policy retries a rebuild that failed after the previous engine was
	// already disposed.
	policy *reconnect.Policy

	mu       sync.Mutex
	req      domain.StreamRequest
	engine   Engine
	bound    bool
	disposed bool
}

// NewManager creates a Manager. Call Open to start playback.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Surface == nil {
		return nil, errors.New("manager: surface is required")
	}
	if opts.Provisioner == nil {
		return nil, errors.New("manager: provisioner is required")
	}
	m := &Manager{opts: opts}
	m.policy = reconnect.New(reconnect.Config{
		Name:          "manager",
		Clock:         opts.Clock,
		Visibility:    opts.Visibility,
		RetryInterval: opts.RetryInterval,
		OnRefetchFailure: func(error) {
			opts.Metrics.IncRefetchFailures()
		},
	})
	return m, nil
}

// Open provisions req and binds a new engine for it, disposing any engine
// already bound.
func (m *Manager) Open(ctx context.Context, req domain.StreamRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return domain.ErrDisposed
	}
	m.req = req
	m.mu.Unlock()

	return m.refetch(ctx)
}

// refetch is the Refetcher handed to RTC engines.
func (m *Manager) refetch(ctx context.Context) error {
	m.mu.Lock()
	req := m.req
	m.mu.Unlock()

	desc, err := m.opts.Provisioner.Describe(ctx, req)
	if err != nil {
		return err
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return domain.ErrDisposed
	}
	old := m.engine
	m.engine = nil
	rebinding := m.bound
	m.mu.Unlock()

	// Only one engine may be bound to the surface at a time.
	if old != nil {
		old.Dispose()
	}

	engine, err := m.build(req, desc)
	if err != nil {
		log.Printf("[manager] %s: %v", desc.CameraID, err)
		// The old engine and its retry loop are gone; keep retrying here.
		if rebinding {
			m.policy.Refetch(err, m.refetch)
		}
		return err
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		engine.Dispose()
		return domain.ErrDisposed
	}
	m.engine = engine
	m.bound = true
	m.mu.Unlock()

	log.Printf("[manager] %s: bound %s engine", engine.Name(), engine.Transport())
	return nil
}

// useRTC reports whether a request is served by the real-time transport.
func useRTC(req domain.StreamRequest, desc *domain.StreamDescriptor) bool {
	return req.Kind == domain.KindLive && req.WebRTC && desc.Signaling != nil
}

func (m *Manager) build(req domain.StreamRequest, desc *domain.StreamDescriptor) (Engine, error) {
	name := streamName(desc)
	if useRTC(req, desc) {
		return NewRTC(RTCOptions{
			Surface:       m.opts.Surface,
			Signaling:     desc.Signaling,
			Name:          name,
			Refetch:       m.refetch,
			Hooks:         m.opts.Hooks,
			Clock:         m.opts.Clock,
			Visibility:    m.opts.Visibility,
			PeerTimeout:   m.opts.PeerTimeout,
			RetryInterval: m.opts.RetryInterval,
			Metrics:       m.opts.Metrics,
			NewPeer:       m.opts.NewPeer,
			NewSignaler:   m.opts.NewSignaler,
		})
	}
	if desc.URL == "" {
		return nil, fmt.Errorf("descriptor for %s has no playlist url", name)
	}
	return NewSegment(SegmentOptions{
		Surface:     m.opts.Surface,
		Native:      m.opts.Native,
		Kind:        desc.Kind,
		URL:         desc.URL,
		Name:        name,
		Resolution:  desc.Resolution,
		Hooks:       m.opts.Hooks,
		SeekOffset:  m.opts.SeekOffset,
		Clock:       m.opts.Clock,
		ReloadDelay: m.opts.ReloadDelay,
		HTTPClient:  m.opts.HTTPClient,
		Metrics:     m.opts.Metrics,
	})
}

func streamName(desc *domain.StreamDescriptor) string {
	if desc.Kind == domain.KindClip {
		return fmt.Sprintf("%s/clip/%s", desc.CameraID, desc.Start.UTC().Format("20060102T150405Z"))
	}
	return desc.CameraID + "/live"
}

// Current returns the bound engine, or nil.
func (m *Manager) Current() Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}

func (m *Manager) Name() string {
	if e := m.Current(); e != nil {
		return e.Name()
	}
	return ""
}

func (m *Manager) Transport() Transport {
	if e := m.Current(); e != nil {
		return e.Transport()
	}
	return ""
}

func (m *Manager) CurrentPresentationTime() (time.Time, bool) {
	if e := m.Current(); e != nil {
		return e.CurrentPresentationTime()
	}
	return time.Time{}, false
}

func (m *Manager) PresentedFrames() (uint64, bool) {
	if fc, ok := m.Current().(FrameCounter); ok {
		return fc.PresentedFrames()
	}
	return 0, false
}

func (m *Manager) JumpToLiveEdge() {
	if e := m.Current(); e != nil {
		e.JumpToLiveEdge()
	}
}

// Reload reloads the bound engine. With no engine bound, for example after a
// failed Open, it provisions the last request again and keeps retrying until
// an engine is bound.
func (m *Manager) Reload() {
	if e := m.Current(); e != nil {
		e.Reload()
		return
	}
	m.mu.Lock()
	opened := m.req.CameraID != "" && !m.disposed
	m.mu.Unlock()
	if !opened {
		return
	}
	if !m.policy.Refetch(errors.New("reload requested"), m.refetch) {
		log.Printf("[manager] reload already in flight")
	}
}

func (m *Manager) Err() error {
	if e := m.Current(); e != nil {
		return e.Err()
	}
	return nil
}

// Dispose disposes the bound engine. No engine is bound afterwards.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	e := m.engine
	m.engine = nil
	m.mu.Unlock()

	m.policy.Stop()
	if e != nil {
		e.Dispose()
	}
}
