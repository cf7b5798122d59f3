package testutil

import (
	"context"

	"github.com/flexprice/billsync/internal/domain/lineitem"
)

// LineItemUpdate records one Update call
type LineItemUpdate struct {
	ID    string
	Patch lineitem.Patch
}

// InMemoryLineItemStore implements lineitem.Repository
type InMemoryLineItemStore struct {
	*crmStore
	updates    []LineItemUpdate
	failUpdate map[string]error
}

func NewInMemoryLineItemStore() *InMemoryLineItemStore {
	return &InMemoryLineItemStore{
		crmStore:   newCRMStore(""),
		failUpdate: make(map[string]error),
	}
}

// Put stores a line item of a deal and returns its id
func (s *InMemoryLineItemStore) Put(dealID, id string, props map[string]string) string {
	return s.put(id, dealID, props)
}

// Move re-parents a line item, the way a deal clone copies line items
func (s *InMemoryLineItemStore) Move(id, dealID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.items[id]; ok {
		rec.DealID = dealID
	}
}

// FailUpdates makes every Update of the line item fail with err
func (s *InMemoryLineItemStore) FailUpdates(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdate[id] = err
}

func (s *InMemoryLineItemStore) ListByDeal(ctx context.Context, dealID string) ([]*lineitem.LineItem, error) {
	recs := s.List(ctx, func(ctx context.Context, r *crmRecord) bool {
		return r.DealID == dealID
	}, func(a, b *crmRecord) bool { return a.ID < b.ID })

	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*lineitem.LineItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, lineitem.FromProperties(r.ID, r.DealID, r.copyProps()))
	}
	return items, nil
}

func (s *InMemoryLineItemStore) Update(ctx context.Context, id string, patch lineitem.Patch) error {
	s.mu.RLock()
	failErr := s.failUpdate[id]
	s.mu.RUnlock()
	if failErr != nil {
		return failErr
	}

	if err := s.patch(ctx, id, patch); err != nil {
		return err
	}

	s.mu.Lock()
	s.updates = append(s.updates, LineItemUpdate{ID: id, Patch: patch})
	s.mu.Unlock()
	return nil
}

// Updates returns every successful Update call
func (s *InMemoryLineItemStore) Updates() []LineItemUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LineItemUpdate(nil), s.updates...)
}

// Clear removes all line items
func (s *InMemoryLineItemStore) Clear() {
	s.InMemoryStore.Clear()
	s.mu.Lock()
	s.updates = nil
	s.failUpdate = make(map[string]error)
	s.mu.Unlock()
}
