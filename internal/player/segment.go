package player

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/hls"
	"fleetview/playback/internal/reconnect"
)

// LiveEdgeSafety is how far behind the end of the seekable range
// JumpToLiveEdge lands, so the playhead does not sit on unbuffered media.
const LiveEdgeSafety = 0.25

type decoder int

const (
	decoderUnsupported decoder = iota
	decoderNative
	decoderSoftware
)

func (d decoder) String() string {
	switch d {
	case decoderNative:
		return "native"
	case decoderSoftware:
		return "software"
	default:
		return "unsupported"
	}
}

// segmentClient is the part of hls.Client the transport drives.
type segmentClient interface {
	AttachMedia(m hls.Media)
	LoadSource(src string)
	RecoverMediaError()
	Destroy()
	ProgramDateTime(t float64) (time.Time, bool)
}

// SegmentOptions configures a Segment transport.
type SegmentOptions struct {
	Surface domain.Surface

	// Native selects the platform decoder when the surface supports it.
	Native bool

	Kind       domain.Kind
	URL        string
	Name       string
	Resolution domain.Resolution
	Hooks      domain.Hooks

	// SeekOffset is applied once the first fragment has loaded. Clip only.
	SeekOffset time.Duration

	Clock       clock.Clock
	ReloadDelay time.Duration
	HTTPClient  *http.Client
	Metrics     *Metrics

	newClient func(hls.Config, hls.Events) segmentClient
}

// Segment plays a segmented stream into a surface.
type Segment struct {
	opts    SegmentOptions
	decoder decoder
	policy  *reconnect.Policy
	client  segmentClient

	mu       sync.Mutex
	disposed bool
	seeked   bool
	err      error
	removers []func()
}

// NewSegment creates a Segment transport and starts loading the source. A
// surface with no usable decoder yields a permanently degraded engine whose
// Err reports domain.ErrUnsupportedPlatform.
func NewSegment(opts SegmentOptions) (*Segment, error) {
	if opts.Surface == nil {
		return nil, errors.New("segment transport: surface is required")
	}
	if opts.URL == "" {
		return nil, errors.New("segment transport: source url is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.newClient == nil {
		opts.newClient = func(cfg hls.Config, ev hls.Events) segmentClient { return hls.New(cfg, ev) }
	}

	s := &Segment{opts: opts, decoder: pickDecoder(opts.Surface, opts.Native)}
	s.policy = reconnect.New(reconnect.Config{
		Name:        opts.Name,
		Clock:       opts.Clock,
		ReloadDelay: opts.ReloadDelay,
		OnTrigger:   func(error) { opts.Metrics.IncReloads(TransportSegment) },
	})

	if s.decoder == decoderUnsupported {
		s.err = domain.ErrUnsupportedPlatform
		log.Printf("[segment] %s: %v", opts.Name, s.err)
		return s, nil
	}

	opts.Metrics.engineStarted()
	s.removers = append(s.removers,
		opts.Surface.OnPlay(s.onPlay),
		opts.Surface.OnPause(s.onPause),
	)
	log.Printf("[segment] %s: %s %s decoder", opts.Name, opts.Kind, s.decoder)

	switch s.decoder {
	case decoderNative:
		if err := s.loadNative(); err != nil {
			s.onFatal(err)
		}
	case decoderSoftware:
		s.client = opts.newClient(hls.Config{
			Name:       opts.Name,
			Kind:       opts.Kind,
			Profile:    hls.ProfileFor(opts.Kind),
			Resolution: opts.Resolution,
			HTTPClient: opts.HTTPClient,
		}, hls.Events{
			OnFirstFragment: s.onFirstFragment,
			OnError:         s.onFatal,
		})
		s.client.AttachMedia(opts.Surface.(hls.Media))
		s.client.LoadSource(opts.URL)
	}
	return s, nil
}

func pickDecoder(surface domain.Surface, native bool) decoder {
	if _, ok := surface.(domain.NativeSource); ok && native {
		return decoderNative
	}
	if _, ok := surface.(hls.Media); ok {
		return decoderSoftware
	}
	return decoderUnsupported
}

func (s *Segment) Name() string         { return s.opts.Name }
func (s *Segment) Transport() Transport { return TransportSegment }

func (s *Segment) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Segment) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Segment) onPlay() {
	if !s.isDisposed() {
		s.opts.Hooks.StartedPlay()
	}
}

func (s *Segment) onPause() {
	if !s.isDisposed() {
		s.opts.Hooks.Paused()
	}
}

func (s *Segment) loadNative() error {
	src := s.opts.Surface.(domain.NativeSource)
	if err := src.SetSource(s.opts.URL); err != nil {
		return &domain.FatalTransportError{Kind: domain.FatalMedia, Details: "nativeSourceError", Err: err}
	}
	s.sourceLoaded()
	return nil
}

func (s *Segment) onFirstFragment(hls.Fragment) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	seek := s.opts.Kind == domain.KindClip && s.opts.SeekOffset > 0 && !s.seeked
	if seek {
		s.seeked = true
	}
	s.mu.Unlock()

	if seek {
		s.opts.Surface.Seek(s.opts.SeekOffset.Seconds())
	}
	s.sourceLoaded()
}

func (s *Segment) sourceLoaded() {
	s.opts.Metrics.IncSourcesLoaded(TransportSegment)
	s.opts.Hooks.SourceLoaded()
}

// onFatal splits fatal errors by request kind: clips are terminal, live
// streams reload after the policy's fixed delay.
func (s *Segment) onFatal(err error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	terminal := !reconnect.ShouldRetry(s.opts.Kind)
	if terminal {
		s.err = err
	}
	s.mu.Unlock()

	s.opts.Metrics.IncFatalErrors(TransportSegment, terminal)
	if terminal {
		log.Printf("[segment] %s: terminal: %v", s.opts.Name, err)
		return
	}
	if !s.policy.ScheduleReload(err, s.reload) {
		log.Printf("[segment] %s: reload already pending, ignoring: %v", s.opts.Name, err)
	}
}

// Reload discards buffered media and loads the same source again. It is a
// no-op while a reload is already pending.
func (s *Segment) Reload() {
	if s.decoder == decoderUnsupported {
		return
	}
	if !s.policy.ReloadNow(errors.New("reload requested"), s.reload) {
		log.Printf("[segment] %s: reload already pending, ignoring request", s.opts.Name)
	}
}

// reload runs under the policy guard. A live failure is returned so the
// policy reloads again; a clip failure degrades the engine.
func (s *Segment) reload() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.err = nil
	s.mu.Unlock()

	log.Printf("[segment] %s: reloading %s", s.opts.Name, s.opts.URL)
	s.opts.Hooks.Reload()

	switch s.decoder {
	case decoderNative:
		s.opts.Surface.(domain.NativeSource).ClearSource()
		if err := s.loadNative(); err != nil {
			return s.failReload(err)
		}
	case decoderSoftware:
		s.client.RecoverMediaError()
		s.client.LoadSource(s.opts.URL)
	}
	return nil
}

func (s *Segment) failReload(err error) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	terminal := !reconnect.ShouldRetry(s.opts.Kind)
	if terminal {
		s.err = err
	}
	s.mu.Unlock()

	s.opts.Metrics.IncFatalErrors(TransportSegment, terminal)
	log.Printf("[segment] %s: reload failed: %v", s.opts.Name, err)
	if terminal {
		return nil
	}
	return err
}

// CurrentPresentationTime maps the playhead to the wall-clock time carried
// by the stream.
func (s *Segment) CurrentPresentationTime() (time.Time, bool) {
	if s.isDisposed() {
		return time.Time{}, false
	}
	pos := s.opts.Surface.CurrentTime()

	switch s.decoder {
	case decoderSoftware:
		return s.client.ProgramDateTime(pos)
	case decoderNative:
		sd, ok := s.opts.Surface.(domain.NativeStartDate)
		if !ok {
			return time.Time{}, false
		}
		start, ok := sd.StartDate()
		if !ok {
			return time.Time{}, false
		}
		return start.Add(time.Duration(pos * float64(time.Second))), true
	}
	return time.Time{}, false
}

// JumpToLiveEdge moves the playhead just behind the end of the seekable
// range. It never moves backwards.
func (s *Segment) JumpToLiveEdge() {
	if s.isDisposed() {
		return
	}

	switch s.decoder {
	case decoderNative:
		if ls, ok := s.opts.Surface.(domain.NativeLiveSeeker); ok {
			ls.SeekToLive()
		}
	case decoderSoftware:
		target, ok := liveEdge(s.opts.Surface.Seekable())
		if !ok {
			return
		}
		if cur := s.opts.Surface.CurrentTime(); cur < target {
			log.Printf("[segment] %s: jumping to live edge %.2f from %.2f", s.opts.Name, target, cur)
			s.opts.Surface.Seek(target)
		}
	}
}

func liveEdge(ranges []domain.TimeRange) (float64, bool) {
	if len(ranges) == 0 {
		return 0, false
	}
	last := ranges[len(ranges)-1]
	target := last.End - LiveEdgeSafety
	if target < last.Start {
		target = last.Start
	}
	return target, true
}

// Dispose detaches from the surface and releases the decoder.
func (s *Segment) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	removers := s.removers
	s.removers = nil
	s.mu.Unlock()

	s.policy.Stop()
	for _, remove := range removers {
		remove()
	}

	switch s.decoder {
	case decoderNative:
		s.opts.Surface.(domain.NativeSource).ClearSource()
	case decoderSoftware:
		s.client.Destroy()
	}
	if s.decoder != decoderUnsupported {
		s.opts.Metrics.engineDisposed()
	}
	log.Printf("[segment] %s: disposed", s.opts.Name)
}
