// Package status serves a small HTTP surface for inspecting and steering
// the running playback engine.
package status

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"fleetview/playback/internal/domain"
	"fleetview/playback/internal/player"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Report is the body of GET /status.
type Report struct {
	Name             string     `json:"name"`
	Transport        string     `json:"transport"`
	PresentationTime *time.Time `json:"presentationTime,omitempty"`
	PresentedFrames  *uint64    `json:"presentedFrames,omitempty"`
	Unsupported      bool       `json:"unsupported"`
	Error            string     `json:"error,omitempty"`
}

// Handler exposes engine endpoints using go-chi.
type Handler struct {
	engine player.Engine
}

// NewHandler returns a Handler steering engine.
func NewHandler(engine player.Engine) *Handler {
	return &Handler{engine: engine}
}

// NewRouter mounts the status endpoints, plus /metrics when metrics is set.
func NewRouter(h *Handler, metrics *player.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", h.Status)
	r.Post("/live", h.JumpToLive)
	r.Post("/reload", h.Reload)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	return r
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rep := Report{
		Name:      h.engine.Name(),
		Transport: string(h.engine.Transport()),
	}
	if t, ok := h.engine.CurrentPresentationTime(); ok {
		rep.PresentationTime = &t
	}
	if fc, ok := h.engine.(player.FrameCounter); ok {
		if n, ok := fc.PresentedFrames(); ok {
			rep.PresentedFrames = &n
		}
	}
	if err := h.engine.Err(); err != nil {
		rep.Unsupported = errors.Is(err, domain.ErrUnsupportedPlatform)
		rep.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		log.Printf("[status] encode report: %v", err)
	}
}

// JumpToLive handles POST /live.
func (h *Handler) JumpToLive(w http.ResponseWriter, r *http.Request) {
	h.engine.JumpToLiveEdge()
	w.WriteHeader(http.StatusNoContent)
}

// Reload handles POST /reload. The reload runs in the background.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	go h.engine.Reload()
	w.WriteHeader(http.StatusAccepted)
}
