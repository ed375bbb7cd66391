// Package visibility reports whether the viewer is currently being watched.
package visibility

import "sync"

// Observer reports the visibility of the hosting document.
type Observer interface {
	Visible() bool
	OnChange(fn func(visible bool)) (remove func())
}

// Toggle is an Observer whose state is set explicitly, e.g. from OS signals.
type Toggle struct {
	mu        sync.Mutex
	visible   bool
	nextID    int
	listeners map[int]func(bool)
}

// NewToggle creates a Toggle with the given initial state.
func NewToggle(visible bool) *Toggle {
	return &Toggle{
		visible:   visible,
		listeners: make(map[int]func(bool)),
	}
}

// AlwaysVisible returns an Observer that never reports hidden.
func AlwaysVisible() Observer {
	return NewToggle(true)
}

func (t *Toggle) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Set updates the state and notifies listeners if it changed.
func (t *Toggle) Set(visible bool) {
	t.mu.Lock()
	if t.visible == visible {
		t.mu.Unlock()
		return
	}
	t.visible = visible
	fns := make([]func(bool), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(visible)
	}
}

func (t *Toggle) OnChange(fn func(visible bool)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}
