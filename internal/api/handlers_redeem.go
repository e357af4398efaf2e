package api

import (
	"encoding/json"
	"net/http"

	"github.com/smoldrop/redeem/internal/redeem"
	"github.com/smoldrop/redeem/internal/server"
)

const maxRequestBody = 64 << 10

// RedeemResponse is the body of POST /redeem.
type RedeemResponse struct {
	OK     bool          `json:"ok"`
	Code   redeem.Code   `json:"code"`
	Result string        `json:"result,omitempty"`
	Reason redeem.Reason `json:"reason,omitempty"`
	Data   any           `json:"data,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// NewRedeemResponse renders an outcome for the wire.
func NewRedeemResponse(out redeem.Outcome) RedeemResponse {
	resp := RedeemResponse{
		OK:     out.OK,
		Code:   out.Code,
		Result: out.Result,
		Reason: out.Reason,
		Data:   out.Payload,
	}
	if !out.OK {
		resp.Error = out.Message
	}
	return resp
}

// decodeReference reads {"uuid": "..."} from the request body. A
// non-string uuid or malformed JSON yields "".
func decodeReference(r *http.Request) string {
	var req struct {
		UUID json.RawMessage `json:"uuid"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody)).Decode(&req); err != nil {
		return ""
	}
	var ref string
	if err := json.Unmarshal(req.UUID, &ref); err != nil {
		return ""
	}
	return ref
}

// Redeem handles POST /redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	out := h.proxy.Redeem(r.Context(), decodeReference(r))
	status := out.Status
	if status == 0 {
		status = out.Reason.HTTPStatus()
	}
	server.JSON(w, status, NewRedeemResponse(out))
}

// TicketStatus handles GET /ticket/status?uuid=.
func (h *Handler) TicketStatus(w http.ResponseWriter, r *http.Request) {
	report := h.proxy.Status(r.Context(), r.URL.Query().Get("uuid"))
	server.JSON(w, report.HTTPStatus, report)
}
