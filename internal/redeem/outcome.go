// Package redeem relays ticket redemptions to the upstream workflow webhook
// and reduces its loosely-shaped answers to a stable Outcome.
package redeem

import (
	"errors"
	"net/http"
)

// Code classifies a normalized outcome.
type Code string

const (
	CodeSuccess         Code = "SUCCESS"
	CodeAlreadyRedeemed Code = "ALREADY_REDEEMED"
	CodeFailed          Code = "FAILED"
	CodeServerError     Code = "SERVER_ERROR"
)

// Reason is the error taxonomy entry behind a failed outcome.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonInvalidReference    Reason = "INVALID_REFERENCE"
	ReasonNotConfigured       Reason = "NOT_CONFIGURED"
	ReasonDenied              Reason = "REDEEM_DENIED"
	ReasonUpstreamUnreachable Reason = "UPSTREAM_UNREACHABLE"
	ReasonServerError         Reason = "SERVER_ERROR"
)

var (
	ErrInvalidReference = errors.New("invalid ticket reference")
	ErrNotConfigured    = errors.New("redeem webhook not configured")
	ErrDenied           = errors.New("redemption denied by upstream")
	ErrUnreachable      = errors.New("upstream unreachable")
	ErrServer           = errors.New("server error")
)

// HTTPStatus is the status the proxy answers with for a reason.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonInvalidReference, ReasonDenied:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Outcome is the uniform result of one redemption attempt.
type Outcome struct {
	OK      bool   `json:"ok"`
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	// Result is the upstream's literal outcome indicator, empty when absent.
	Result string `json:"result,omitempty"`
	// Status is the HTTP status the proxy returns to its caller.
	Status int `json:"-"`
	// Payload is the parsed upstream body, or its raw text when it was not
	// JSON. Kept for diagnostics only.
	Payload any `json:"data,omitempty"`
}

// Err returns the sentinel error matching the outcome's reason, or nil.
func (o Outcome) Err() error {
	switch o.Reason {
	case ReasonNone:
		return nil
	case ReasonInvalidReference:
		return ErrInvalidReference
	case ReasonNotConfigured:
		return ErrNotConfigured
	case ReasonDenied:
		return ErrDenied
	case ReasonUpstreamUnreachable:
		return ErrUnreachable
	default:
		return ErrServer
	}
}

// Failure builds a failed outcome for a local (non-upstream) reason.
func Failure(reason Reason, message string) Outcome {
	code := CodeServerError
	if reason == ReasonInvalidReference || reason == ReasonDenied {
		code = CodeFailed
	}
	return Outcome{
		OK:      false,
		Code:    code,
		Reason:  reason,
		Message: message,
		Status:  reason.HTTPStatus(),
	}
}
