package testutil

import (
	"context"

	"github.com/flexprice/billsync/internal/domain/ticket"
	ierr "github.com/flexprice/billsync/internal/errors"
)

// TicketCalls counts repository calls and affected records
type TicketCalls struct {
	CreateCalls  int
	UpdateCalls  int
	ArchiveCalls int
	Created      int
	Updated      int
	Archived     int
}

// InMemoryTicketStore implements ticket.Repository. Batches fail as a whole
// when they contain a record registered with FailKey or FailUpdate.
type InMemoryTicketStore struct {
	*crmStore
	calls      TicketCalls
	failKeys   map[string]bool
	failUpdate map[string]bool
}

func NewInMemoryTicketStore() *InMemoryTicketStore {
	return &InMemoryTicketStore{
		crmStore:   newCRMStore("t"),
		failKeys:   make(map[string]bool),
		failUpdate: make(map[string]bool),
	}
}

// Put stores a ticket of a deal and returns its id. The deal id property is not
// set automatically so legacy, unstamped tickets can be modelled.
func (s *InMemoryTicketStore) Put(dealID string, props map[string]string) string {
	return s.put("", dealID, props)
}

// FailKey makes creation of a ticket with the given key fail
func (s *InMemoryTicketStore) FailKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKeys[key] = true
}

// FailUpdate makes updates of the given ticket fail
func (s *InMemoryTicketStore) FailUpdate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdate[id] = true
}

func (s *InMemoryTicketStore) ListByDeal(ctx context.Context, dealID string) ([]*ticket.Ticket, error) {
	recs := s.List(ctx, func(ctx context.Context, r *crmRecord) bool {
		return r.DealID == dealID
	}, func(a, b *crmRecord) bool { return a.ID < b.ID })

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ticket.Ticket, 0, len(recs))
	for _, r := range recs {
		t := ticket.FromProperties(r.ID, r.copyProps())
		if t.DealID == "" {
			t.DealID = dealID
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *InMemoryTicketStore) Create(ctx context.Context, tickets []*ticket.Ticket) ([]*ticket.Ticket, error) {
	s.mu.Lock()
	s.calls.CreateCalls++
	for _, t := range tickets {
		if s.failKeys[t.Key] {
			s.mu.Unlock()
			return nil, ierr.NewErrorf("batch create rejected ticket %s", t.Key).
				WithHint("invalid ticket").
				Mark(ierr.ErrValidation)
		}
	}
	s.calls.Created += len(tickets)
	s.mu.Unlock()

	created := make([]*ticket.Ticket, 0, len(tickets))
	for _, t := range tickets {
		id := s.put("", t.DealID, t.ToProperties())
		c := *t
		c.ID = id
		created = append(created, &c)
	}
	return created, nil
}

func (s *InMemoryTicketStore) Update(ctx context.Context, updates []ticket.Update) error {
	s.mu.Lock()
	s.calls.UpdateCalls++
	for _, u := range updates {
		if s.failUpdate[u.ID] {
			s.mu.Unlock()
			return ierr.NewErrorf("batch update rejected ticket %s", u.ID).Mark(ierr.ErrValidation)
		}
	}
	s.calls.Updated += len(updates)
	s.mu.Unlock()

	for _, u := range updates {
		if err := s.patch(ctx, u.ID, u.Properties); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryTicketStore) Archive(ctx context.Context, ids []string) error {
	s.mu.Lock()
	s.calls.ArchiveCalls++
	s.calls.Archived += len(ids)
	s.mu.Unlock()

	for _, id := range ids {
		// archiving twice is not an error in the CRM
		_ = s.Delete(ctx, id)
	}
	return nil
}

// Calls returns the call counters
func (s *InMemoryTicketStore) Calls() TicketCalls {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// ResetCalls zeroes the call counters
func (s *InMemoryTicketStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = TicketCalls{}
}

// All returns every stored ticket of a deal
func (s *InMemoryTicketStore) All(dealID string) []*ticket.Ticket {
	tickets, _ := s.ListByDeal(context.Background(), dealID)
	return tickets
}

// Clear removes all tickets
func (s *InMemoryTicketStore) Clear() {
	s.InMemoryStore.Clear()
	s.mu.Lock()
	s.calls = TicketCalls{}
	s.failKeys = make(map[string]bool)
	s.failUpdate = make(map[string]bool)
	s.mu.Unlock()
}
