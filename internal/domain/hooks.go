package domain

// Hooks are consumer-supplied lifecycle notifications. Nil fields are
// skipped.
type Hooks struct {
	OnSourceLoaded     func()
	OnVideoStartedPlay func()
	OnVideoPaused      func()
	OnVideoReload      func()
}

func (h Hooks) SourceLoaded() {
	if h.OnSourceLoaded != nil {
		h.OnSourceLoaded()
	}
}

func (h Hooks) StartedPlay() {
	if h.OnVideoStartedPlay != nil {
		h.OnVideoStartedPlay()
	}
}

func (h Hooks) Paused() {
	if h.OnVideoPaused != nil {
		h.OnVideoPaused()
	}
}

func (h Hooks) Reload() {
	if h.OnVideoReload != nil {
		h.OnVideoReload()
	}
}
