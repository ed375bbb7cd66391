// Package hls is the software segmented-stream client: it resolves a
// playlist, fetches media segments in order and appends them to a surface.
package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fleetview/playback/internal/domain"

	"github.com/grafov/m3u8"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second

	// holeTolerance ignores gaps caused by rounding in segment durations.
	holeTolerance = 0.05
)

// Media is the surface the client plays into.
type Media interface {
	domain.Surface
	domain.SegmentSink
}

// Config configures a Client.
type Config struct {
	Name       string
	Kind       domain.Kind
	Profile    Profile
	Resolution domain.Resolution
	HTTPClient *http.Client

	// MaxRetries is the number of attempts per playlist or fragment load
	// before the error becomes fatal.
	MaxRetries int
	RetryDelay time.Duration

	// PollInterval overrides the live playlist refresh interval, which is
	// otherwise the playlist's target duration.
	PollInterval time.Duration
}

// Events are the client's notifications. They run on the load goroutine and
// may stop or destroy the client.
type Events struct {
	OnFirstFragment func(f Fragment)
	OnError         func(err error)
}

// Client fetches one segmented stream at a time.
type Client struct {
	cfg    Config
	events Events
	tl     *timeline

	mu     sync.Mutex
	media  Media
	cancel context.CancelFunc
	done   chan struct{}

	// emitting is the done channel of the load goroutine currently running
	// an event callback.
	emitting chan struct{}
}

// New creates a Client. Call AttachMedia and LoadSource to start playback.
func New(cfg Config, events Events) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Client{cfg: cfg, events: events, tl: newTimeline()}
}

// AttachMedia binds the client to a surface.
func (c *Client) AttachMedia(m Media) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media = m
}

// LoadSource starts loading src, stopping any load in progress.
func (c *Client) LoadSource(src string) {
	c.stopLoading()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.media == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		c.run(ctx, src, c.media, done)
	}()
}

// RecoverMediaError stops loading and discards every buffered fragment so
// the next LoadSource starts clean.
func (c *Client) RecoverMediaError() {
	c.stopLoading()
	c.tl.reset()

	c.mu.Lock()
	m := c.media
	c.mu.Unlock()
	if m != nil {
		m.ResetBuffer()
	}
}

// Destroy stops loading and detaches from the surface.
func (c *Client) Destroy() {
	c.stopLoading()
	c.mu.Lock()
	c.media = nil
	c.mu.Unlock()
}

// stopLoading cancels the load goroutine and waits for it to return, unless
// it is called from one of that goroutine's event callbacks.
func (c *Client) stopLoading() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	reentrant := done != nil && done == c.emitting
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if !reentrant {
		<-done
	}
}

// emit runs an event callback on the load goroutine identified by done.
func (c *Client) emit(done chan struct{}, fn func()) {
	c.mu.Lock()
	c.emitting = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.emitting == done {
			c.emitting = nil
		}
		c.mu.Unlock()
	}()
	fn()
}

// ProgramDateTime maps media time t to the wall-clock time carried by the
// playlist, if any.
func (c *Client) ProgramDateTime(t float64) (time.Time, bool) {
	f, ok := c.tl.at(t)
	if !ok || f.ProgramDateTime.IsZero() {
		return time.Time{}, false
	}
	return f.ProgramDateTime.Add(time.Duration((t - f.Start) * float64(time.Second))), true
}

func (c *Client) fatal(ctx context.Context, done chan struct{}, err error) {
	if ctx.Err() != nil {
		return
	}
	log.Printf("[hls] %s: %v", c.cfg.Name, err)
	if c.events.OnError != nil {
		c.emit(done, func() { c.events.OnError(err) })
	}
}

func (c *Client) run(ctx context.Context, src string, m Media, done chan struct{}) {
	mediaURL, err := c.resolve(ctx, src)
	if err != nil {
		c.fatal(ctx, done, err)
		return
	}

	var next uint64
	started := false
	appendedEnd := -1.0

	for {
		pl, err := c.loadMediaPlaylist(ctx, mediaURL)
		if err != nil {
			c.fatal(ctx, done, err)
			return
		}

		frags := c.tl.update(pl)
		if len(frags) > 0 {
			m.SetSeekable([]domain.TimeRange{{Start: frags[0].Start, End: frags[len(frags)-1].End()}})
		}
		if !started && len(frags) > 0 {
			next = c.startSequence(frags)
		}

		for _, f := range frags {
			if f.Seq < next {
				continue
			}
			data, err := c.loadFragment(ctx, mediaURL, f)
			if err != nil {
				c.fatal(ctx, done, err)
				return
			}
			if err := m.AppendSegment(f.Start, f.Duration, data); err != nil {
				c.fatal(ctx, done, &domain.FatalTransportError{Kind: domain.FatalMedia, Details: "bufferAppendError", Err: err})
				return
			}
			next = f.Seq + 1

			if !started {
				started = true
				m.Seek(c.startPosition(f, frags))
				if c.events.OnFirstFragment != nil {
					c.emit(done, func() { c.events.OnFirstFragment(f) })
				}
				if ctx.Err() != nil {
					return
				}
			} else if f.Start-appendedEnd > holeTolerance {
				c.skipHole(m, appendedEnd, f.Start)
			}
			appendedEnd = f.End()
			c.evictBackBuffer(m)
		}

		if pl.Closed {
			log.Printf("[hls] %s: end of stream", c.cfg.Name)
			return
		}
		if !sleep(ctx, c.pollInterval(pl)) {
			return
		}
	}
}

// startSequence picks the first fragment to load: the fragment containing
// live edge - LiveSyncOffset for live streams, the first one otherwise.
func (c *Client) startSequence(frags []Fragment) uint64 {
	if c.cfg.Kind != domain.KindLive {
		return frags[0].Seq
	}
	target := frags[len(frags)-1].End() - c.cfg.Profile.LiveSyncOffset
	for _, f := range frags {
		if target >= f.Start && target < f.End() {
			return f.Seq
		}
	}
	return frags[len(frags)-1].Seq
}

func (c *Client) startPosition(first Fragment, frags []Fragment) float64 {
	if c.cfg.Kind != domain.KindLive {
		return first.Start
	}
	return math.Max(first.Start, frags[len(frags)-1].End()-c.cfg.Profile.LiveSyncOffset)
}

// skipHole moves a playhead stalled in a small hole past it.
func (c *Client) skipHole(m Media, holeStart, holeEnd float64) {
	if holeEnd-holeStart > c.cfg.Profile.MaxBufferHole {
		log.Printf("[hls] %s: %.2fs hole at %.2f exceeds max buffer hole", c.cfg.Name, holeEnd-holeStart, holeStart)
		return
	}
	if cur := m.CurrentTime(); cur >= holeStart-c.cfg.Profile.NudgeOffset && cur < holeEnd {
		log.Printf("[hls] %s: nudging over %.2fs hole at %.2f", c.cfg.Name, holeEnd-holeStart, holeStart)
		m.Seek(holeEnd + c.cfg.Profile.NudgeOffset)
	}
}

func (c *Client) evictBackBuffer(m Media) {
	if c.cfg.Profile.BackBufferRetention < 0 {
		return
	}
	cutoff := m.CurrentTime() - c.cfg.Profile.BackBufferRetention
	if cutoff <= 0 {
		return
	}
	m.EvictBefore(cutoff)
	c.tl.forget(cutoff)
}

func (c *Client) pollInterval(pl *m3u8.MediaPlaylist) time.Duration {
	if c.cfg.PollInterval > 0 {
		return c.cfg.PollInterval
	}
	if pl.TargetDuration > 0 {
		return time.Duration(pl.TargetDuration * float64(time.Second))
	}
	return time.Second
}

// resolve returns the media playlist URL for src, choosing the variant
// closest to the requested resolution when src is a master playlist.
func (c *Client) resolve(ctx context.Context, src string) (string, error) {
	body, err := c.fetch(ctx, src, "manifestLoadError")
	if err != nil {
		return "", err
	}
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return "", &domain.FatalTransportError{Kind: domain.FatalNetwork, Details: "manifestParsingError", Err: err}
	}
	if listType != m3u8.MASTER {
		return src, nil
	}

	master := pl.(*m3u8.MasterPlaylist)
	v := chooseVariant(master.Variants, c.cfg.Resolution.Height())
	if v == nil {
		return "", &domain.FatalTransportError{Kind: domain.FatalNetwork, Details: "manifestParsingError", Err: errors.New("master playlist has no variants")}
	}
	return resolveRef(src, v.URI)
}

func chooseVariant(variants []*m3u8.Variant, height int) *m3u8.Variant {
	var best *m3u8.Variant
	bestDist := math.MaxInt
	for _, v := range variants {
		if v == nil {
			continue
		}
		dist := height
		if h := variantHeight(v.Resolution); h > 0 {
			dist = abs(h - height)
		}
		if best == nil || dist < bestDist || (dist == bestDist && v.Bandwidth > best.Bandwidth) {
			best = v
			bestDist = dist
		}
	}
	return best
}

func variantHeight(resolution string) int {
	_, h, ok := strings.Cut(resolution, "x")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(h)
	if err != nil {
		return 0
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse segment url: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

func (c *Client) loadMediaPlaylist(ctx context.Context, src string) (*m3u8.MediaPlaylist, error) {
	body, err := c.fetch(ctx, src, "levelLoadError")
	if err != nil {
		return nil, err
	}
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, &domain.FatalTransportError{Kind: domain.FatalNetwork, Details: "levelParsingError", Err: err}
	}
	if listType != m3u8.MEDIA {
		return nil, &domain.FatalTransportError{Kind: domain.FatalNetwork, Details: "levelParsingError", Err: errors.New("expected a media playlist")}
	}
	return pl.(*m3u8.MediaPlaylist), nil
}

func (c *Client) loadFragment(ctx context.Context, playlistURL string, f Fragment) ([]byte, error) {
	u, err := resolveRef(playlistURL, f.URI)
	if err != nil {
		return nil, &domain.FatalTransportError{Kind: domain.FatalNetwork, Details: "fragLoadError", Err: err}
	}
	data, err := c.fetch(ctx, u, "fragLoadError")
	if err != nil {
		return nil, err
	}
	if !looksLikeMedia(data) {
		return nil, &domain.FatalTransportError{Kind: domain.FatalMedia, Details: "fragParsingError", Err: fmt.Errorf("fragment %d is neither MPEG-TS nor fMP4", f.Seq)}
	}
	return data, nil
}

// looksLikeMedia accepts MPEG-TS (sync byte) and fragmented MP4 (box type).
func looksLikeMedia(data []byte) bool {
	if len(data) >= 1 && data[0] == 0x47 {
		return true
	}
	if len(data) >= 8 {
		switch string(data[4:8]) {
		case "ftyp", "styp", "moof", "sidx":
			return true
		}
	}
	return false
}

// fetch GETs u, retrying MaxRetries times before returning a fatal network
// error tagged with details.
func (c *Client) fetch(ctx context.Context, u, details string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 && !sleep(ctx, c.cfg.RetryDelay) {
			return nil, ctx.Err()
		}
		body, err := c.get(ctx, u)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Printf("[hls] %s: %s attempt %d/%d: %v", c.cfg.Name, details, attempt+1, c.cfg.MaxRetries, err)
	}
	return nil, &domain.FatalTransportError{Kind: domain.FatalNetwork, Details: details, Err: lastErr}
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
