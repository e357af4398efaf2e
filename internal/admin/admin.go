// Package admin provides the /admin/* control plane shared by the proxy and
// the webhook twin: health, runtime config, state inspection, fault injection
// and the request log.
package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smoldrop/redeem/internal/server"
)

// StateStore is implemented by whatever owns the server's live state.
type StateStore interface {
	// Snapshot returns the state as a JSON-serializable value.
	Snapshot() any
	// Reset clears all state.
	Reset()
}

// StateLoader is optionally implemented by stores that accept a full state
// replacement through POST /admin/state.
type StateLoader interface {
	LoadState(data []byte) error
}

// Handler serves the admin endpoints.
type Handler struct {
	name    string
	state   StateStore
	mw      *server.Middleware
	config  func() any
	started time.Time
}

// NewHandler creates an admin handler. config may be nil.
func NewHandler(name string, state StateStore, mw *server.Middleware, config func() any) *Handler {
	return &Handler{
		name:    name,
		state:   state,
		mw:      mw,
		config:  config,
		started: time.Now(),
	}
}

// Routes mounts the admin endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/config", h.handleConfig)
		r.Post("/reset", h.handleReset)
		r.Get("/state", h.handleGetState)
		r.Post("/state", h.handleLoadState)
		r.Get("/faults", h.handleListFaults)
		r.Post("/fault/*", h.handleInjectFault)
		r.Delete("/fault/*", h.handleRemoveFault)
		r.Get("/requests", h.handleGetRequests)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"name":   h.name,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		server.JSON(w, http.StatusOK, map[string]any{})
		return
	}
	server.JSON(w, http.StatusOK, h.config())
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.state.Reset()
	h.mw.ReqLog.Clear()
	h.mw.Faults.Reset()
	server.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *Handler) handleLoadState(w http.ResponseWriter, r *http.Request) {
	loader, ok := h.state.(StateLoader)
	if !ok {
		server.Error(w, http.StatusMethodNotAllowed, "state is read-only")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if err := loader.LoadState(body); err != nil {
		server.Error(w, http.StatusBadRequest, "failed to load state: "+err.Error())
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

// faultPath maps /admin/fault/webhook/redeem to /webhook/redeem.
func faultPath(r *http.Request) string {
	return "/" + chi.URLParam(r, "*")
}

func (h *Handler) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	path := faultPath(r)
	var fault server.FaultConfig
	if err := json.NewDecoder(r.Body).Decode(&fault); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid fault config: "+err.Error())
		return
	}
	if fault.Rate < 0 || fault.Rate > 1 {
		server.Error(w, http.StatusBadRequest, "rate must be between 0 and 1")
		return
	}
	h.mw.Faults.Set(path, fault)
	server.JSON(w, http.StatusOK, map[string]any{
		"status":   "injected",
		"endpoint": path,
		"fault":    fault,
	})
}

func (h *Handler) handleRemoveFault(w http.ResponseWriter, r *http.Request) {
	path := faultPath(r)
	if !h.mw.Faults.Remove(path) {
		server.Error(w, http.StatusNotFound, "no fault registered for "+path)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"status": "removed", "endpoint": path})
}

func (h *Handler) handleListFaults(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.mw.Faults.All())
}

func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.mw.ReqLog.Entries())
}
