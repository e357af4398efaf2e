package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smoldrop/redeem/internal/redeem"
	"github.com/smoldrop/redeem/internal/server"
	"github.com/smoldrop/redeem/internal/session"
)

// maxWait bounds GET /sessions/{id}/wait.
const maxWait = 30 * time.Second

// SessionResponse is a surface plus, for input endpoints, whether the
// input changed the state.
type SessionResponse struct {
	session.Surface
	Accepted *bool `json:"accepted,omitempty"`
	Stale    bool  `json:"stale,omitempty"`
}

type createSessionRequest struct {
	UUID string `json:"uuid"`
}

// CreateSession handles POST /sessions. When the info webhook reports the
// ticket as already used, the session starts in success.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		server.Error(w, http.StatusBadRequest, string(redeem.ReasonInvalidReference))
		return
	}

	alreadyRedeemed := false
	if redeem.ValidReference(req.UUID) {
		report := h.proxy.Status(r.Context(), req.UUID)
		alreadyRedeemed = report.OK && report.Status == redeem.TicketRedeemed
	}

	m := session.New(session.Config{
		Ref:             req.UUID,
		Redeemer:        h.proxy,
		Clock:           h.opts.Clock,
		Threshold:       h.opts.Threshold,
		Timeout:         h.opts.Timeout,
		Logger:          h.logger,
		AlreadyRedeemed: alreadyRedeemed,
	})
	h.sessions.Set(m.ID(), m)
	h.logger.Info("session opened", "session", m.ID(), "ticket", req.UUID, "state", m.State())

	server.JSON(w, http.StatusCreated, SessionResponse{Surface: m.Surface()})
}

// machine looks up the session named in the URL and refreshes its TTL in
// the same step, so a concurrent DELETE cannot be undone. It writes the 404
// itself.
func (h *Handler) machine(w http.ResponseWriter, r *http.Request) (*session.Machine, bool) {
	m, ok := h.sessions.Touch(chi.URLParam(r, "id"))
	if !ok {
		server.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND")
		return nil, false
	}
	return m, true
}

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	server.JSON(w, http.StatusOK, SessionResponse{Surface: m.Surface()})
}

// input applies a press, release or reset. With ?seq=N the input is ordered
// against the session's other sequenced inputs and dropped when stale; the
// response then says so in "stale".
func (h *Handler) input(w http.ResponseWriter, r *http.Request, fn func(*session.Machine) bool) {
	var seq uint64
	if v := r.URL.Query().Get("seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			server.Error(w, http.StatusBadRequest, "invalid seq")
			return
		}
		seq = n
	}

	m, ok := h.machine(w, r)
	if !ok {
		return
	}

	resp := SessionResponse{}
	var accepted bool
	if seq == 0 {
		accepted = fn(m)
	} else {
		var applied bool
		applied, accepted = m.Sequenced(seq, fn)
		if !applied {
			resp.Stale = true
		}
	}
	resp.Surface = m.Surface()
	resp.Accepted = &accepted
	server.JSON(w, http.StatusOK, resp)
}

// PressSession handles POST /sessions/{id}/press.
func (h *Handler) PressSession(w http.ResponseWriter, r *http.Request) {
	h.input(w, r, (*session.Machine).Press)
}

// ReleaseSession handles POST /sessions/{id}/release.
func (h *Handler) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	h.input(w, r, (*session.Machine).Release)
}

// ResetSession handles POST /sessions/{id}/reset.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	h.input(w, r, (*session.Machine).Reset)
}

// WaitSession handles GET /sessions/{id}/wait?timeout=5s. It answers once
// the session settles or the timeout passes, with the surface at that time.
func (h *Handler) WaitSession(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	timeout := 10 * time.Second
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			server.Error(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = min(d, maxWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	surface, _ := m.Wait(ctx)
	server.JSON(w, http.StatusOK, SessionResponse{Surface: surface})
}

// DeleteSession handles DELETE /sessions/{id}: the session is closed and
// any in-flight redemption is abandoned.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, ok := h.sessions.Delete(id)
	if !ok {
		server.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND")
		return
	}
	m.Close()
	h.logger.Info("session closed", "session", id, "state", m.State())
	w.WriteHeader(http.StatusNoContent)
}
