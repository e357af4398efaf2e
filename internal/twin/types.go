// Package twin is an in-memory stand-in for the workflow-automation webhook
// that owns ticket state. It redeems tickets, answers info lookups and can be
// told to reply in any of the payload shapes the real workflow produces.
package twin

import "time"

// Ticket status values.
const (
	StatusActive   = "active"
	StatusRedeemed = "redeemed"
)

// Outcome indicators written to the "result" field.
const (
	ResultSuccess         = "success"
	ResultAlreadyRedeemed = "already_redeemed"
	ResultNotFound        = "not_found"
)

// ErrTicketNotFound is the error literal for unknown tickets.
const ErrTicketNotFound = "TICKET_NOT_FOUND"

// Ticket is one redeemable ticket.
type Ticket struct {
	UUID        string     `json:"uuid" yaml:"uuid"`
	Label       string     `json:"label,omitempty" yaml:"label,omitempty"`
	Status      string     `json:"status" yaml:"status"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at,omitempty"`
	RedeemedAt  *time.Time `json:"redeemed_at,omitempty" yaml:"redeemed_at,omitempty"`
	Redemptions int        `json:"redemptions" yaml:"-"` // attempts against this ticket, including repeats
}
