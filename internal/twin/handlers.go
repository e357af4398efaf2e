package twin

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smoldrop/redeem/internal/server"
)

// ticketBody never carries the ticket status so that a bare success, with
// result removed, has no outcome indicator at all.
func ticketBody(t Ticket, result string) map[string]any {
	body := map[string]any{
		"result": result,
		"uuid":   t.UUID,
	}
	if t.Label != "" {
		body["label"] = t.Label
	}
	if t.RedeemedAt != nil {
		body["redeemed_at"] = t.RedeemedAt.Format(time.RFC3339)
	}
	return body
}

// reference reads the ticket UUID from a JSON body, falling back to the
// query parameter.
func (h *Handler) reference(r *http.Request) string {
	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err == nil && len(strings.TrimSpace(string(data))) > 0 {
		var req struct {
			UUID string `json:"uuid"`
		}
		if json.Unmarshal(data, &req) == nil && req.UUID != "" {
			return strings.TrimSpace(req.UUID)
		}
	}
	if v := r.URL.Query().Get(h.opts.QueryParam); v != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(r.URL.Query().Get("uuid"))
}

// Redeem handles POST /webhook/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	shape := h.Shape()
	ref := h.reference(r)
	if ref == "" {
		shape.write(w, http.StatusBadRequest, map[string]any{
			"result": "invalid",
			"error":  "MISSING_UUID",
		})
		return
	}
	if !tokenSubjectMatches(r, ref) {
		h.unauthorized(w, "TOKEN_SUBJECT_MISMATCH")
		return
	}

	t, result := h.store.Redeem(ref)
	h.logger.Info("webhook redeem", "ticket", ref, "result", result)

	switch result {
	case ResultNotFound:
		shape.write(w, http.StatusNotFound, map[string]any{
			"result": ResultNotFound,
			"error":  ErrTicketNotFound,
		})
	default:
		shape.write(w, http.StatusOK, ticketBody(t, result))
	}
}

// Info handles GET /webhook/info.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	shape := h.Shape()
	ref := strings.TrimSpace(r.URL.Query().Get(h.opts.QueryParam))
	if ref == "" {
		ref = strings.TrimSpace(r.URL.Query().Get("uuid"))
	}
	if ref == "" {
		shape.write(w, http.StatusBadRequest, map[string]any{
			"result": "invalid",
			"error":  "MISSING_UUID",
		})
		return
	}
	if !tokenSubjectMatches(r, ref) {
		h.unauthorized(w, "TOKEN_SUBJECT_MISMATCH")
		return
	}

	t, ok := h.store.Lookup(ref)
	if !ok {
		shape.write(w, http.StatusNotFound, map[string]any{
			"result": ResultNotFound,
			"error":  ErrTicketNotFound,
		})
		return
	}
	body := ticketBody(t, "")
	delete(body, "result")
	body["status"] = t.Status
	shape.write(w, http.StatusOK, body)
}

// AdminListTickets handles GET /admin/tickets.
func (h *Handler) AdminListTickets(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.store.Tickets.List())
}

// AdminCreateTicket handles POST /admin/tickets. An empty body creates an
// active ticket with a fresh UUID.
func (h *Handler) AdminCreateTicket(w http.ResponseWriter, r *http.Request) {
	var t Ticket
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil && err != io.EOF {
			server.Error(w, http.StatusBadRequest, "invalid ticket: "+err.Error())
			return
		}
	}
	if t.Status != "" && t.Status != StatusActive && t.Status != StatusRedeemed {
		server.Error(w, http.StatusBadRequest, "status must be active or redeemed")
		return
	}
	if t.UUID != "" {
		if _, exists := h.store.Lookup(t.UUID); exists {
			server.Error(w, http.StatusConflict, "ticket already exists")
			return
		}
	}
	server.JSON(w, http.StatusCreated, h.store.Add(t))
}

// AdminGetShape handles GET /admin/shape.
func (h *Handler) AdminGetShape(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, map[string]string{"shape": string(h.Shape())})
}

// AdminSetShape handles POST /admin/shape.
func (h *Handler) AdminSetShape(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shape string `json:"shape"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	shape, err := ParseShape(req.Shape)
	if err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.SetShape(shape)
	server.JSON(w, http.StatusOK, map[string]string{"shape": string(shape)})
}
