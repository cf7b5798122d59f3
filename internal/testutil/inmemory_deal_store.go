package testutil

import (
	"context"

	"github.com/flexprice/billsync/internal/domain/deal"
	"github.com/flexprice/billsync/internal/types"
)

// InMemoryDealStore implements deal.Repository
type InMemoryDealStore struct {
	*crmStore
	summaries []deal.Summary
}

func NewInMemoryDealStore() *InMemoryDealStore {
	return &InMemoryDealStore{crmStore: newCRMStore("")}
}

// Put stores a deal with the given properties
func (s *InMemoryDealStore) Put(id string, props map[string]string) {
	s.put(id, id, props)
}

func (s *InMemoryDealStore) Get(ctx context.Context, id string) (*deal.Deal, error) {
	rec, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deal.FromProperties(rec.ID, rec.copyProps()), nil
}

func (s *InMemoryDealStore) ListIDs(ctx context.Context, pipeline string) ([]string, error) {
	recs := s.List(ctx, func(ctx context.Context, r *crmRecord) bool {
		if !types.ParseBool(r.Props[deal.PropertyActive]) {
			return false
		}
		return pipeline == "" || r.Props[deal.PropertyPipeline] == pipeline
	}, func(a, b *crmRecord) bool { return a.ID < b.ID })

	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *InMemoryDealStore) UpdateSummary(ctx context.Context, id string, summary deal.Summary) error {
	if err := s.patch(ctx, id, summary.ToProperties()); err != nil {
		return err
	}
	s.mu.Lock()
	s.summaries = append(s.summaries, summary)
	s.mu.Unlock()
	return nil
}

// Summaries returns every summary written so far
func (s *InMemoryDealStore) Summaries() []deal.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]deal.Summary(nil), s.summaries...)
}

// Clear removes all deals
func (s *InMemoryDealStore) Clear() {
	s.InMemoryStore.Clear()
	s.mu.Lock()
	s.summaries = nil
	s.mu.Unlock()
}
