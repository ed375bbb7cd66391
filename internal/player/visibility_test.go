package player

import (
	"testing"

	"fleetview/playback/internal/surface"
	"fleetview/playback/internal/visibility"
)

type countingReloader struct{ n int }

func (r *countingReloader) Reload() { r.n++ }

func TestPauseWhenHidden(t *testing.T) {
	s := surface.New(nil, nil)
	vis := visibility.NewToggle(true)
	r := &countingReloader{}

	detach := PauseWhenHidden(r, s, vis)
	s.Play()

	vis.Set(false)
	if !s.Paused() {
		t.Error("expected the surface paused when hidden")
	}
	if r.n != 0 {
		t.Error("hiding must not reload")
	}

	vis.Set(true)
	if r.n != 1 {
		t.Errorf("expected one reload when visible again, got %d", r.n)
	}

	detach()
	vis.Set(false)
	vis.Set(true)
	if r.n != 1 {
		t.Error("expected no effect after detach")
	}
}
