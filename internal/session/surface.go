package session

import "github.com/smoldrop/redeem/internal/redeem"

// Affordance names the interactive element a renderer should show.
type Affordance string

const (
	AffordanceHold    Affordance = "hold"
	AffordanceHolding Affordance = "holding"
	AffordanceBusy    Affordance = "busy"
	AffordanceDone    Affordance = "done"
	AffordanceRetry   Affordance = "retry"
	AffordanceBlocked Affordance = "blocked"
)

// Surface is everything a renderer needs to draw one session. It is a
// value snapshot; later transitions do not modify it.
type Surface struct {
	SessionID    string          `json:"session_id"`
	Ref          string          `json:"uuid,omitempty"`
	State        State           `json:"state"`
	InputEnabled bool            `json:"input_enabled"`
	Message      string          `json:"message"`
	Affordance   Affordance      `json:"affordance"`
	Progress     float64         `json:"progress"`
	Attempts     int             `json:"attempts"`
	Outcome      *redeem.Outcome `json:"outcome,omitempty"`
}

// Display texts.
const (
	MessageIdle            = "Press and hold to redeem the ticket"
	MessageHolding         = "Keep holding…"
	MessagePending         = "Redeeming ticket…"
	MessageSuccess         = "Ticket redeemed. Enjoy your meal!"
	MessageAlreadyRedeemed = "This ticket has already been redeemed."
	MessageDenied          = "Redemption failed. Please ask staff for help."
	MessageConnection      = "Connection error. Please try again."
	MessageInvalid         = "Ticket not found."
)

func affordanceFor(s State) Affordance {
	switch s {
	case Idle:
		return AffordanceHold
	case Holding:
		return AffordanceHolding
	case Pending:
		return AffordanceBusy
	case Success:
		return AffordanceDone
	case Error:
		return AffordanceRetry
	default:
		return AffordanceBlocked
	}
}

func messageFor(s State, out *redeem.Outcome) string {
	switch s {
	case Idle:
		return MessageIdle
	case Holding:
		return MessageHolding
	case Pending:
		return MessagePending
	case Success:
		if out != nil && out.Code == redeem.CodeAlreadyRedeemed {
			return MessageAlreadyRedeemed
		}
		return MessageSuccess
	case Error:
		if out != nil && out.Reason == redeem.ReasonDenied {
			return MessageDenied
		}
		return MessageConnection
	default:
		return MessageInvalid
	}
}
