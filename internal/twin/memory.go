package twin

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/smoldrop/redeem/internal/clock"
	"github.com/smoldrop/redeem/internal/store"
)

// MemoryStore holds the twin's tickets.
type MemoryStore struct {
	// mu makes redeem's read-check-write a single step.
	mu      sync.Mutex
	Tickets *store.Store[Ticket]
	clock   clock.Clock
	seed    []Ticket
}

// NewMemoryStore creates an empty store. A nil clock uses real time.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryStore{
		Tickets: store.New[Ticket](store.WithClock(c)),
		clock:   c,
	}
}

type seedFile struct {
	Tickets []Ticket `yaml:"tickets" json:"tickets"`
}

// ParseSeed reads a seed document. YAML is a superset of JSON, so both
// formats go through the YAML decoder:
//
//	tickets:
//	  - uuid: 7f1c...
//	    label: Lunch
func ParseSeed(data []byte) ([]Ticket, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	for i, t := range f.Tickets {
		if t.UUID == "" {
			return nil, fmt.Errorf("parsing seed: ticket %d has no uuid", i)
		}
		if !knownStatus(t.Status) {
			return nil, fmt.Errorf("parsing seed: ticket %s has unknown status %q", t.UUID, t.Status)
		}
	}
	return f.Tickets, nil
}

// Seed adds tickets and remembers them so Reset restores them.
func (s *MemoryStore) Seed(tickets []Ticket) {
	s.mu.Lock()
	s.seed = append(s.seed, tickets...)
	s.mu.Unlock()
	for _, t := range tickets {
		s.Add(t)
	}
}

// knownStatus accepts the two ticket statuses and empty, which means active.
func knownStatus(status string) bool {
	return status == "" || status == StatusActive || status == StatusRedeemed
}

// Add stores a ticket, filling in a UUID, the active status and the creation
// time when missing.
func (s *MemoryStore) Add(t Ticket) Ticket {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	t = s.fill(t)
	s.Tickets.Set(t.UUID, t)
	return t
}

func (s *MemoryStore) fill(t Ticket) Ticket {
	if t.Status == "" {
		t.Status = StatusActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock.Now().UTC()
	}
	if t.Status == StatusRedeemed && t.RedeemedAt == nil {
		at := t.CreatedAt
		t.RedeemedAt = &at
	}
	return t
}

// Lookup returns the ticket with the given UUID.
func (s *MemoryStore) Lookup(id string) (Ticket, bool) {
	return s.Tickets.Get(id)
}

// Redeem marks an active ticket redeemed. It returns the ticket as it is
// afterwards and the outcome indicator: success, already_redeemed or
// not_found.
func (s *MemoryStore) Redeem(id string) (Ticket, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.Tickets.Get(id)
	if !ok {
		return Ticket{}, ResultNotFound
	}
	t.Redemptions++
	result := ResultAlreadyRedeemed
	if t.Status == StatusActive {
		now := s.clock.Now().UTC()
		t.Status = StatusRedeemed
		t.RedeemedAt = &now
		result = ResultSuccess
	}
	s.Tickets.Set(id, t)
	return t, result
}

type stateSnapshot struct {
	Tickets map[string]Ticket `json:"tickets"`
}

// Snapshot returns the full state for GET /admin/state.
func (s *MemoryStore) Snapshot() any {
	return stateSnapshot{Tickets: s.Tickets.Snapshot()}
}

// LoadState replaces all tickets from a POST /admin/state body. Tickets get
// the same defaults as Add; an unknown status rejects the whole body and
// leaves the current tickets in place.
func (s *MemoryStore) LoadState(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	for id, t := range snap.Tickets {
		if !knownStatus(t.Status) {
			return fmt.Errorf("ticket %s has unknown status %q", id, t.Status)
		}
		if t.UUID == "" {
			t.UUID = id
		}
		snap.Tickets[id] = s.fill(t)
	}
	s.Tickets.LoadSnapshot(snap.Tickets)
	return nil
}

// Reset drops every ticket and re-adds the seed set.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	seed := append([]Ticket(nil), s.seed...)
	s.mu.Unlock()

	s.Tickets.Reset()
	for _, t := range seed {
		s.Add(t)
	}
}
