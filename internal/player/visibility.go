package player

import (
	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/visibility"
)

// Reloader is anything that can restart its playback.
type Reloader interface {
	Reload()
}

// PauseWhenHidden pauses the surface when the viewer is hidden and reloads
// when it becomes visible again. It returns a function that detaches it.
func PauseWhenHidden(r Reloader, surface domain.Surface, obs visibility.Observer) func() {
	return obs.OnChange(func(visible bool) {
		if !visible {
			surface.Pause()
			return
		}
		r.Reload()
	})
}
