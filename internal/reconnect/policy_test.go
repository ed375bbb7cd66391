package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetview/playback/internal/clock"
	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/visibility"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPolicy(c *clock.Fake, vis visibility.Observer, triggers *int) *Policy {
	return New(Config{
		Name:       "test",
		Clock:      c,
		Visibility: vis,
		OnTrigger:  func(error) { *triggers++ },
	})
}

func TestShouldRetry(t *testing.T) {
	if !ShouldRetry(domain.KindLive) {
		t.Error("expected live to be retried")
	}
	if ShouldRetry(domain.KindClip) {
		t.Error("expected clip to be terminal")
	}
}

func TestScheduleReload_FiresOnceAfterDelay(t *testing.T) {
	c := clock.NewFake(epoch)
	triggers := 0
	p := newPolicy(c, nil, &triggers)

	reloads := 0
	if !p.ScheduleReload(errors.New("boom"), func() error { reloads++; return nil }) {
		t.Fatal("expected first ScheduleReload to acquire the guard")
	}
	if p.ScheduleReload(errors.New("again"), func() error { reloads++; return nil }) {
		t.Error("expected overlapping ScheduleReload to be rejected")
	}

	c.Advance(499 * time.Millisecond)
	if reloads != 0 {
		t.Fatalf("reload fired before delay elapsed")
	}
	c.Advance(time.Millisecond)
	if reloads != 1 {
		t.Fatalf("expected 1 reload, got %d", reloads)
	}
	if triggers != 1 {
		t.Errorf("expected 1 trigger, got %d", triggers)
	}
	if p.InFlight() {
		t.Error("expected guard released after reload")
	}

	if !p.ScheduleReload(errors.New("later"), func() error { reloads++; return nil }) {
		t.Error("expected guard to be reusable after reload completed")
	}
}

func TestRefetch_AtMostOneInFlight(t *testing.T) {
	c := clock.NewFake(epoch)
	triggers := 0
	p := newPolicy(c, nil, &triggers)

	calls := 0
	failing := func(context.Context) error {
		calls++
		return errors.New("provisioning unavailable")
	}

	p.Refetch(domain.ErrNegotiationTimeout, failing)
	p.Refetch(domain.ErrConnectionLost, failing)
	p.Refetch(domain.ErrConnectionLost, failing)

	if calls != 1 {
		t.Fatalf("expected 1 refetch call, got %d", calls)
	}
	if triggers != 1 {
		t.Fatalf("expected 1 trigger, got %d", triggers)
	}

	c.Advance(3 * time.Second)
	if calls != 4 {
		t.Errorf("expected retries every interval (4 calls), got %d", calls)
	}
}

func TestRefetch_StopsRetryingAfterSuccess(t *testing.T) {
	c := clock.NewFake(epoch)
	triggers := 0
	p := newPolicy(c, nil, &triggers)

	calls := 0
	refetch := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}

	var failures []error
	p.cfg.OnRefetchFailure = func(err error) { failures = append(failures, err) }

	p.Refetch(domain.ErrConnectionLost, refetch)
	c.Advance(10 * time.Second)

	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	var rf *domain.RefetchFailure
	if !errors.As(failures[0], &rf) {
		t.Errorf("expected RefetchFailure, got %T", failures[0])
	}
	if p.InFlight() {
		t.Error("expected guard released after success")
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
}

func TestRefetch_DeferredWhileHidden(t *testing.T) {
	c := clock.NewFake(epoch)
	vis := visibility.NewToggle(false)
	triggers := 0
	p := newPolicy(c, vis, &triggers)

	calls := 0
	p.Refetch(domain.ErrConnectionLost, func(context.Context) error {
		calls++
		return nil
	})

	c.Advance(5 * time.Second)
	if calls != 0 {
		t.Fatalf("expected no refetch while hidden, got %d", calls)
	}

	vis.Set(true)
	c.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("expected exactly 1 refetch after visible, got %d", calls)
	}
	c.Advance(5 * time.Second)
	if calls != 1 {
		t.Errorf("expected no further refetches, got %d", calls)
	}
}

func TestStop_CancelsPendingTimers(t *testing.T) {
	c := clock.NewFake(epoch)
	triggers := 0
	p := newPolicy(c, nil, &triggers)

	reloads := 0
	p.ScheduleReload(errors.New("boom"), func() error { reloads++; return nil })
	p.Stop()
	p.Stop()

	c.Advance(time.Minute)
	if reloads != 0 {
		t.Errorf("reload fired after Stop")
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
	if p.ScheduleReload(errors.New("after stop"), func() error { reloads++; return nil }) {
		t.Error("expected ScheduleReload to be rejected after Stop")
	}
}

func TestStop_DuringRefetchPreventsRetry(t *testing.T) {
	c := clock.NewFake(epoch)
	triggers := 0
	p := newPolicy(c, nil, &triggers)

	calls := 0
	p.Refetch(domain.ErrConnectionLost, func(ctx context.Context) error {
		calls++
		p.Stop()
		if ctx.Err() == nil {
			t.Error("expected context cancelled by Stop")
		}
		return errors.New("cancelled")
	})

	c.Advance(10 * time.Second)
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
}

func TestReloadNow_SharesGuardWithScheduledReload(t *testing.T) {
	c := clock.NewFake(epoch)
	triggers := 0
	p := newPolicy(c, nil, &triggers)

	reloads := 0
	reload := func() error { reloads++; return nil }
	p.ScheduleReload(errors.New("boom"), reload)
	if p.ReloadNow(errors.New("requested"), reload) {
		t.Error("expected ReloadNow rejected while a reload is pending")
	}

	c.Advance(time.Second)
	if reloads != 1 || triggers != 1 {
		t.Fatalf("expected one reload and one trigger, got %d/%d", reloads, triggers)
	}

	if !p.ReloadNow(errors.New("requested"), reload) {
		t.Fatal("expected ReloadNow to run once the guard is free")
	}
	if reloads != 2 || p.InFlight() {
		t.Errorf("expected an immediate reload and a released guard, got %d (in flight %v)", reloads, p.InFlight())
	}
}

func TestReloadNow_FailureIsRescheduled(t *testing.T) {
	c := clock.NewFake(epoch)
	triggers := 0
	p := newPolicy(c, nil, &triggers)

	attempts := 0
	reload := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("source rejected")
		}
		return nil
	}
	p.ReloadNow(errors.New("requested"), reload)
	if !p.InFlight() {
		t.Fatal("expected a follow-up reload pending after a failure")
	}

	c.Advance(500 * time.Millisecond)
	c.Advance(500 * time.Millisecond)
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if p.InFlight() || c.Pending() != 0 {
		t.Error("expected the guard released after a successful reload")
	}
}
