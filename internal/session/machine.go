// Package session implements the hold-to-confirm ticket lifecycle:
//
//	idle --press--> holding --threshold--> pending --ok--> success
//	                   |                      |
//	                   +--release--> idle     +--fail--> error --press--> holding
//
// A Machine owns one ticket session. It dispatches at most one redemption
// per completed hold and never retries on its own.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smoldrop/redeem/internal/clock"
	"github.com/smoldrop/redeem/internal/redeem"
)

// State is the lifecycle position of a session.
type State string

const (
	Idle    State = "idle"
	Holding State = "holding"
	Pending State = "pending"
	Success State = "success"
	Error   State = "error"
	// Invalid is entered only at construction, when there is no usable
	// ticket reference.
	Invalid State = "invalid"
)

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	return s == Success || s == Invalid
}

// Settled reports whether s is a resting state after an attempt.
func (s State) Settled() bool {
	return s.Terminal() || s == Error
}

const (
	DefaultThreshold = 800 * time.Millisecond
	DefaultTimeout   = 8 * time.Second
)

// ErrClosed is returned by Wait once the machine has been closed.
var ErrClosed = errors.New("session closed")

// Redeemer performs a redemption. *redeem.Proxy and *client.Client both
// satisfy it. A call that outlives its context's deadline keeps the session
// guarded until it returns.
type Redeemer interface {
	Redeem(ctx context.Context, ref string) redeem.Outcome
}

// Config configures a Machine.
type Config struct {
	Ref       string
	Redeemer  Redeemer
	Clock     clock.Clock
	Threshold time.Duration // continuous hold needed to confirm
	Timeout   time.Duration // bound on one redemption call
	Logger    *slog.Logger
	// OnChange receives every new surface, in transition order. It runs
	// with the machine locked and must not call back into the Machine.
	OnChange func(Surface)
	// AlreadyRedeemed starts the session in Success, for tickets an info
	// lookup reported as used.
	AlreadyRedeemed bool
}

// Machine is the state machine for one ticket session. All methods are safe
// for concurrent use.
type Machine struct {
	mu sync.Mutex

	// seqMu orders sequenced inputs; lastSeq is the newest one applied.
	seqMu   sync.Mutex
	lastSeq uint64

	id        string
	ref       string
	redeemer  Redeemer
	clock     clock.Clock
	threshold time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	onChange  func(Surface)

	state State
	// inFlight is set when the hold threshold is crossed and cleared only
	// on the transition to Error. It is independent of state so a stale
	// timer callback can never dispatch a second call.
	inFlight  bool
	holdGen   uint64
	timer     clock.Timer
	holdStart time.Time
	attempts  int
	outcome   *redeem.Outcome
	cancel    context.CancelFunc
	changed   chan struct{}
	closed    bool
}

// New creates a Machine in Idle, Success (AlreadyRedeemed) or Invalid (no
// usable reference).
func New(cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Machine{
		id:        uuid.NewString(),
		ref:       cfg.Ref,
		redeemer:  cfg.Redeemer,
		clock:     cfg.Clock,
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		onChange:  cfg.OnChange,
		state:     Idle,
		changed:   make(chan struct{}),
	}
	m.logger = m.logger.With("session", m.id)

	switch {
	case !redeem.ValidReference(cfg.Ref):
		m.state = Invalid
		out := redeem.Failure(redeem.ReasonInvalidReference, string(redeem.ReasonInvalidReference))
		m.outcome = &out
		m.inFlight = true
	case cfg.AlreadyRedeemed:
		m.state = Success
		m.outcome = &redeem.Outcome{OK: true, Code: redeem.CodeAlreadyRedeemed, Status: 200}
		m.inFlight = true
	}
	return m
}

// ID returns the session identifier.
func (m *Machine) ID() string { return m.id }

// Ref returns the ticket reference the session was opened with.
func (m *Machine) Ref() string { return m.ref }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many redemption calls have been dispatched.
func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Surface returns a snapshot for rendering.
func (m *Machine) Surface() Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surfaceLocked()
}

// Press starts a hold. It is accepted only in Idle and Error and reports
// whether it was.
func (m *Machine) Press() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acceptsInputLocked() {
		return false
	}

	m.holdGen++
	gen := m.holdGen
	m.holdStart = m.clock.Now()
	m.state = Holding
	m.timer = m.clock.AfterFunc(m.threshold, func() { m.thresholdReached(gen) })
	m.notifyLocked()
	return true
}

// Release ends a hold. Before the threshold it aborts back to Idle with no
// side effect; in any other state it is ignored. Pointer up, cancel and
// leave all map here.
func (m *Machine) Release() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != Holding {
		return false
	}
	m.abortHoldLocked()
	m.state = Idle
	m.notifyLocked()
	return true
}

// Reset returns Holding or Error to Idle. It has no effect while a
// redemption is pending or after a terminal state.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	switch m.state {
	case Holding:
		m.abortHoldLocked()
	case Error:
		if m.inFlight {
			return false
		}
	default:
		return false
	}
	m.state = Idle
	m.notifyLocked()
	return true
}

// Sequenced applies input only when seq is newer than every sequenced
// input before it, and reports whether it was applied and whether the input
// itself was accepted. A client numbers its gestures so that a release
// overtaken in transit by its own press is dropped rather than leaving a
// hold running. Sequence numbers start at 1.
func (m *Machine) Sequenced(seq uint64, input func(*Machine) bool) (applied, accepted bool) {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	if seq <= m.lastSeq {
		m.logger.Debug("stale input dropped", "seq", seq, "last_seq", m.lastSeq)
		return false, false
	}
	m.lastSeq = seq
	return true, input(m)
}

// Close tears the session down: the hold timer is stopped and an in-flight
// call is cancelled without a further transition.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.abortHoldLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	close(m.changed)
}

// Wait blocks until the session is in Success, Error or Invalid, the
// context ends, or the machine is closed.
func (m *Machine) Wait(ctx context.Context) (Surface, error) {
	for {
		m.mu.Lock()
		if m.state.Settled() {
			s := m.surfaceLocked()
			m.mu.Unlock()
			return s, nil
		}
		if m.closed {
			s := m.surfaceLocked()
			m.mu.Unlock()
			return s, ErrClosed
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return m.Surface(), ctx.Err()
		}
	}
}

// rejectedLocked reports an Error caused by the reference itself, which is
// final for the session.
func (m *Machine) rejectedLocked() bool {
	return m.state == Error && m.outcome != nil && m.outcome.Reason == redeem.ReasonInvalidReference
}

// acceptsInputLocked is false while the guard is set, which includes an
// Error whose timed-out call has not returned yet.
func (m *Machine) acceptsInputLocked() bool {
	if m.closed || m.inFlight {
		return false
	}
	return m.state == Idle || (m.state == Error && !m.rejectedLocked())
}

func (m *Machine) abortHoldLocked() {
	m.holdGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// thresholdReached runs from the hold timer. Crossing the threshold and
// setting the guard happen under one lock acquisition.
func (m *Machine) thresholdReached(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.holdGen || m.state != Holding || m.inFlight {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.timer = nil
	m.state = Pending
	m.attempts++
	attempt := m.attempts

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	m.cancel = cancel
	m.notifyLocked()
	m.mu.Unlock()

	m.logger.Info("redemption dispatched", "ticket", m.ref, "attempt", attempt)
	go m.dispatch(ctx, cancel, attempt)
}

func (m *Machine) dispatch(ctx context.Context, cancel context.CancelFunc, attempt int) {
	defer cancel()

	result := make(chan redeem.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- redeem.Failure(redeem.ReasonServerError, fmt.Sprint(r))
			}
		}()
		result <- m.redeemer.Redeem(ctx, m.ref)
	}()

	select {
	case out := <-result:
		m.resolve(attempt, out, false)
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		// The Redeemer did not honor the deadline. Show the error now but
		// keep the guard until the call really returns, so a retry can
		// never overlap it.
		m.resolve(attempt, redeem.Failure(redeem.ReasonUpstreamUnreachable, "REDEEM_TIMEOUT"), true)
		<-result
		m.releaseGuard(attempt)
	}
}

func (m *Machine) resolve(attempt int, out redeem.Outcome, callRunning bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != Pending || attempt != m.attempts {
		return
	}
	m.cancel = nil
	m.outcome = &out

	switch {
	case out.OK:
		m.state = Success
	case out.Reason == redeem.ReasonInvalidReference:
		// The reference itself was refused: Error, but no retry. The
		// guard stays set.
		m.state = Error
	default:
		m.state = Error
		m.inFlight = callRunning
	}
	m.logger.Info("redemption resolved",
		"ticket", m.ref,
		"attempt", attempt,
		"state", m.state,
		"code", out.Code,
		"reason", out.Reason,
	)
	m.notifyLocked()
}

// releaseGuard clears the guard once an abandoned call has returned.
func (m *Machine) releaseGuard(attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != Error || attempt != m.attempts || m.rejectedLocked() {
		return
	}
	m.inFlight = false
	m.logger.Info("abandoned redemption returned", "ticket", m.ref, "attempt", attempt)
	m.notifyLocked()
}

func (m *Machine) notifyLocked() {
	if m.onChange != nil {
		m.onChange(m.surfaceLocked())
	}
	if !m.closed {
		close(m.changed)
		m.changed = make(chan struct{})
	}
}

func (m *Machine) surfaceLocked() Surface {
	s := Surface{
		SessionID:    m.id,
		Ref:          m.ref,
		State:        m.state,
		InputEnabled: m.acceptsInputLocked() || (!m.closed && m.state == Holding),
		Message:      messageFor(m.state, m.outcome),
		Affordance:   affordanceFor(m.state),
		Attempts:     m.attempts,
	}
	if m.rejectedLocked() {
		s.Message = MessageInvalid
		s.Affordance = AffordanceBlocked
	}
	switch m.state {
	case Holding:
		elapsed := m.clock.Now().Sub(m.holdStart)
		s.Progress = min(1, float64(elapsed)/float64(m.threshold))
	case Pending, Success:
		s.Progress = 1
	}
	if m.outcome != nil && m.state != Idle && m.state != Holding && m.state != Pending {
		out := *m.outcome
		s.Outcome = &out
	}
	return s
}
