package api

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/smoldrop/redeem/internal/redeem"
	"github.com/smoldrop/redeem/internal/session"
)

//go:embed templates/ticket.html
var templateFS embed.FS

var ticketPage = template.Must(template.ParseFS(templateFS, "templates/ticket.html"))

type pageData struct {
	Ref         string
	ThresholdMS int64
	State       session.State
	Affordance  session.Affordance
	Message     string
	Invalid     bool
}

// TicketPage handles GET /ticket?uuid=. The page opens a session and maps
// pointer events onto press and release. Without a usable reference it is
// rendered blocked and opens nothing.
func (h *Handler) TicketPage(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Ref:         r.URL.Query().Get("uuid"),
		ThresholdMS: h.opts.Threshold.Milliseconds(),
		State:       session.Idle,
		Affordance:  session.AffordanceHold,
		Message:     session.MessageIdle,
	}
	if !redeem.ValidReference(data.Ref) {
		data.Invalid = true
		data.State = session.Invalid
		data.Affordance = session.AffordanceBlocked
		data.Message = session.MessageInvalid
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := ticketPage.Execute(w, data); err != nil {
		h.logger.Error("render ticket page", "err", err)
	}
}
