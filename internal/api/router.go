// Package api implements the proxy's HTTP surface: the redemption relay,
// the ticket status lookup, server-side hold sessions and the ticket page.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smoldrop/redeem/internal/clock"
	"github.com/smoldrop/redeem/internal/redeem"
	"github.com/smoldrop/redeem/internal/server"
	"github.com/smoldrop/redeem/internal/session"
	"github.com/smoldrop/redeem/internal/store"
)

// Options configures server-side sessions.
type Options struct {
	Threshold  time.Duration // hold needed to confirm, default 800ms
	Timeout    time.Duration // bound on one redemption, default 8s
	SessionTTL time.Duration // idle lifetime of a session, default 15m
	Clock      clock.Clock
}

// Handler holds all API handler state.
type Handler struct {
	proxy    *redeem.Proxy
	mw       *server.Middleware
	logger   *slog.Logger
	opts     Options
	sessions *store.Store[*session.Machine]
}

// NewHandler creates the API handler.
func NewHandler(proxy *redeem.Proxy, mw *server.Middleware, logger *slog.Logger, opts Options) *Handler {
	if opts.Threshold <= 0 {
		opts.Threshold = session.DefaultThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = session.DefaultTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 15 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		proxy:  proxy,
		mw:     mw,
		logger: logger,
		opts:   opts,
		sessions: store.New[*session.Machine](
			store.WithTTL(opts.SessionTTL),
			store.WithClock(opts.Clock),
		),
	}
}

// Routes mounts the API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.FaultInjection)

		r.Post("/redeem", h.Redeem)
		r.Get("/ticket/status", h.TicketStatus)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/press", h.PressSession)
			r.Post("/release", h.ReleaseSession)
			r.Post("/reset", h.ResetSession)
			r.Get("/wait", h.WaitSession)
		})
	})

	r.Get("/ticket", h.TicketPage)
}

// SweepSessions closes and drops every expired session and returns how
// many there were.
func (h *Handler) SweepSessions() int {
	expired := h.sessions.Sweep()
	for _, m := range expired {
		m.Close()
	}
	if len(expired) > 0 {
		h.logger.Debug("swept sessions", "count", len(expired))
	}
	return len(expired)
}

// RunSweeper calls SweepSessions every interval until ctx is done.
func (h *Handler) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SweepSessions()
		}
	}
}

// State exposes the sessions to the admin control plane.
func (h *Handler) State() *SessionState {
	return &SessionState{h: h}
}

// SessionState adapts the session table to admin.StateStore.
type SessionState struct {
	h *Handler
}

// Snapshot returns every live session's surface.
func (s *SessionState) Snapshot() any {
	machines := s.h.sessions.List()
	surfaces := make([]session.Surface, 0, len(machines))
	for _, m := range machines {
		surfaces = append(surfaces, m.Surface())
	}
	return map[string]any{"sessions": surfaces}
}

// Reset closes and drops every session.
func (s *SessionState) Reset() {
	for _, m := range s.h.sessions.Reset() {
		m.Close()
	}
}
