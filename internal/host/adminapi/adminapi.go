// Package adminapi wires the loopback-only debug surface: registry and
// pending-subscription introspection for operators.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atriumhq/atrium/internal/host/bus"
	"github.com/atriumhq/atrium/internal/host/loader"
	"github.com/atriumhq/atrium/internal/host/tokens"
)

// Handler serves host introspection endpoints.
type Handler struct {
	bus     *bus.Bus
	mgr     *loader.Manager
	tracker *tokens.Tracker
}

// New constructs a router backed by the live bus and loader.
func New(eventBus *bus.Bus, mgr *loader.Manager, tracker *tokens.Tracker) http.Handler {
	h := &Handler{bus: eventBus, mgr: mgr, tracker: tracker}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Get("/admin/v1/registry", h.handleRegistry)
		r.Get("/admin/v1/pending", h.handlePending)
		r.Get("/admin/v1/status", h.handleStatus)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleRegistry dumps the active event names and their subscriber counts.
func (h *Handler) handleRegistry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"names": h.bus.Names(),
		"stats": h.bus.Stats(),
	})
}

// handlePending dumps the instance ids with parked subscriptions.
func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": h.bus.PendingInstances(),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"apps":    len(h.mgr.Manifests()),
		"loaded":  len(h.mgr.Instances()),
		"loading": len(h.mgr.LoadingInstances()),
		"tokens":  h.tracker.Count(),
		"events":  len(h.bus.Names()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
