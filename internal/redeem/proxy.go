package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/smoldrop/redeem/internal/upstream"
)

// MaxReferenceLen bounds the accepted ticket reference length.
const MaxReferenceLen = 256

// Proxy relays redemptions to the upstream webhook. It keeps no state
// between calls and is safe for concurrent use.
type Proxy struct {
	webhook *upstream.Client
	logger  *slog.Logger
}

// NewProxy creates a Proxy. A nil logger uses slog.Default.
func NewProxy(webhook *upstream.Client, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{webhook: webhook, logger: logger}
}

// ValidReference reports whether ref is usable as a ticket reference.
func ValidReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || len(ref) > MaxReferenceLen {
		return false
	}
	for _, r := range ref {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Redeem performs one redemption attempt for ref. Expected failures never
// surface as errors or panics; they are encoded in the returned Outcome.
func (p *Proxy) Redeem(ctx context.Context, ref string) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("redeem panic", "ticket", ref, "panic", fmt.Sprint(r))
			out = Failure(ReasonServerError, string(CodeServerError))
		}
		p.logger.Info("redeem",
			"ticket", ref,
			"ok", out.OK,
			"code", out.Code,
			"reason", out.Reason,
			"duration", time.Since(start),
		)
	}()

	if !ValidReference(ref) {
		return Failure(ReasonInvalidReference, string(ReasonInvalidReference))
	}
	ref = strings.TrimSpace(ref)
	if p.webhook == nil || !p.webhook.Configured() {
		p.logger.Error("redeem webhook not configured")
		return Failure(ReasonNotConfigured, string(ReasonNotConfigured))
	}

	resp, err := p.webhook.Post(ctx, ref)
	if err != nil {
		return p.transportFailure(ref, err)
	}

	out = Normalize(resp.StatusCode, resp.Body)
	p.logger.Debug("upstream answered",
		"ticket", ref,
		"status", resp.StatusCode,
		"correlation_id", resp.CorrelationID,
		"upstream_duration", resp.Duration,
	)
	return out
}

func (p *Proxy) transportFailure(ref string, err error) Outcome {
	if errors.Is(err, upstream.ErrNotConfigured) {
		return Failure(ReasonNotConfigured, string(ReasonNotConfigured))
	}
	p.logger.Warn("upstream unreachable", "ticket", ref, "err", err)
	out := Failure(ReasonUpstreamUnreachable, string(CodeServerError))
	if errors.Is(err, context.DeadlineExceeded) {
		out.Message = "UPSTREAM_TIMEOUT"
	}
	return out
}

// Ticket status values reported by Status.
const (
	TicketActive   = "active"
	TicketRedeemed = "redeemed"
	TicketUnknown  = "unknown"
)

// StatusReport is the answer of the optional info lookup.
type StatusReport struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"error,omitempty"`
	Payload any    `json:"data,omitempty"`
	// HTTPStatus is the status the proxy answers with.
	HTTPStatus int `json:"-"`
}

// Status looks up ref on the info webhook. Without an info webhook the
// report is "unknown" and OK so clients go straight to the hold surface.
func (p *Proxy) Status(ctx context.Context, ref string) StatusReport {
	if !ValidReference(ref) {
		return StatusReport{
			Status:     TicketUnknown,
			Reason:     ReasonInvalidReference,
			Message:    string(ReasonInvalidReference),
			HTTPStatus: ReasonInvalidReference.HTTPStatus(),
		}
	}
	if p.webhook == nil || !p.webhook.InfoConfigured() {
		return StatusReport{OK: true, Status: TicketUnknown, HTTPStatus: 200}
	}

	resp, err := p.webhook.Get(ctx, strings.TrimSpace(ref))
	if err != nil {
		p.logger.Warn("info webhook unreachable", "ticket", ref, "err", err)
		return StatusReport{
			Status:     TicketUnknown,
			Reason:     ReasonUpstreamUnreachable,
			Message:    string(CodeServerError),
			HTTPStatus: ReasonUpstreamUnreachable.HTTPStatus(),
		}
	}

	d := decode(resp.Body)
	report := StatusReport{Payload: d.payload}
	switch strings.ToLower(strings.TrimSpace(d.indicator)) {
	case TicketRedeemed, ResultAlreadyRedeemed:
		report.Status = TicketRedeemed
	case TicketActive, ResultSuccess, "":
		report.Status = TicketActive
	default:
		report.Status = TicketUnknown
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		report.OK = true
		report.HTTPStatus = 200
		return report
	}

	out := Normalize(resp.StatusCode, resp.Body)
	report.Status = TicketUnknown
	report.Reason = out.Reason
	report.Message = out.Message
	report.HTTPStatus = out.Status
	return report
}
