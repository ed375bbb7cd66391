// Package reconnect implements the shared recovery routine used by both
// transports: a single in-flight guard, a fixed reload delay for segment
// playback and a fixed retry interval for descriptor refetches.
package reconnect

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/visibility"
)

const (
	DefaultReloadDelay   = 500 * time.Millisecond
	DefaultRetryInterval = time.Second
)

// Config configures a Policy. Zero durations fall back to the defaults.
type Config struct {
	Name          string
	Clock         clock.Clock
	Visibility    visibility.Observer
	ReloadDelay   time.Duration
	RetryInterval time.Duration

	// OnTrigger runs once each time the guard is acquired.
	OnTrigger func(reason error)

	// OnRefetchFailure runs after every failed refetch attempt.
	OnRefetchFailure func(err error)
}

// Policy is owned by exactly one playback engine.
type Policy struct {
	cfg Config

	mu       sync.Mutex
	inFlight bool
	stopped  bool
	timer    clock.Timer
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a Policy.
func New(cfg Config) *Policy {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Visibility == nil {
		cfg.Visibility = visibility.AlwaysVisible()
	}
	if cfg.ReloadDelay <= 0 {
		cfg.ReloadDelay = DefaultReloadDelay
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Policy{cfg: cfg, ctx: ctx, cancel: cancel}
}

// ShouldRetry reports whether a fatal segment transport error is recovered
// for the given request kind. Clips have a fixed source and are terminal.
func ShouldRetry(kind domain.Kind) bool {
	return kind == domain.KindLive
}

// InFlight reports whether a reload is currently pending or running.
func (p *Policy) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

func (p *Policy) acquire(reason error) bool {
	p.mu.Lock()
	if p.stopped || p.inFlight {
		p.mu.Unlock()
		return false
	}
	p.inFlight = true
	p.mu.Unlock()

	log.Printf("[reconnect] %s: reloading: %v", p.cfg.Name, reason)
	if p.cfg.OnTrigger != nil {
		p.cfg.OnTrigger(reason)
	}
	return true
}

// ScheduleReload runs reload once after the reload delay. A reload that
// returns an error is scheduled again. It returns false when a reload is
// already in flight or the policy is stopped.
func (p *Policy) ScheduleReload(reason error, reload func() error) bool {
	if !p.acquire(reason) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.timer = p.cfg.Clock.AfterFunc(p.cfg.ReloadDelay, func() {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}
		p.timer = nil
		p.mu.Unlock()

		p.finish(reload(), reload)
	})
	return true
}

// ReloadNow runs reload on the calling goroutine under the same guard as
// ScheduleReload. It returns false when a reload is already in flight or the
// policy is stopped.
func (p *Policy) ReloadNow(reason error, reload func() error) bool {
	if !p.acquire(reason) {
		return false
	}
	p.finish(reload(), reload)
	return true
}

// finish releases the guard and schedules another reload after a failure.
func (p *Policy) finish(err error, reload func() error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.inFlight = false
	p.mu.Unlock()

	if err != nil {
		p.ScheduleReload(err, reload)
	}
}

// Refetch calls refetch until it succeeds or the policy is stopped, waiting
// the retry interval between attempts. While the viewer is hidden attempts
// are deferred rather than made. The first attempt runs on the calling
// goroutine. It returns false when a reload is already in flight.
func (p *Policy) Refetch(reason error, refetch domain.Refetcher) bool {
	if !p.acquire(reason) {
		return false
	}
	p.attempt(refetch)
	return true
}

func (p *Policy) attempt(refetch domain.Refetcher) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	if !p.cfg.Visibility.Visible() {
		log.Printf("[reconnect] %s: viewer hidden, deferring reload", p.cfg.Name)
		p.rearm(refetch)
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.mu.Unlock()

	err := refetch(ctx)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if err == nil {
		p.inFlight = false
		p.mu.Unlock()
		return
	}
	p.rearm(refetch)
	p.mu.Unlock()

	var rf *domain.RefetchFailure
	if !errors.As(err, &rf) {
		err = &domain.RefetchFailure{Err: err}
	}
	log.Printf("[reconnect] %s: %v, retrying in %s", p.cfg.Name, err, p.cfg.RetryInterval)
	if p.cfg.OnRefetchFailure != nil {
		p.cfg.OnRefetchFailure(err)
	}
}

// rearm must be called with p.mu held.
func (p *Policy) rearm(refetch domain.Refetcher) {
	p.timer = p.cfg.Clock.AfterFunc(p.cfg.RetryInterval, func() {
		p.attempt(refetch)
	})
}

// Stop cancels any pending timer and in-flight refetch. Safe to call more
// than once.
func (p *Policy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.inFlight = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.cancel()
}
