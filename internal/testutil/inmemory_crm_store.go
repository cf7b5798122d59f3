package testutil

import (
	"context"
	"fmt"
	"sync/atomic"

	ierr "github.com/flexprice/billsync/internal/errors"
)

// crmRecord mirrors a CRM object: an id, its owning deal and raw string properties
type crmRecord struct {
	ID     string
	DealID string
	Props  map[string]string
}

func (r *crmRecord) copyProps() map[string]string {
	out := make(map[string]string, len(r.Props))
	for k, v := range r.Props {
		out[k] = v
	}
	return out
}

func (r *crmRecord) apply(patch map[string]string) {
	if r.Props == nil {
		r.Props = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		r.Props[k] = v
	}
}

// crmStore is the property-map store shared by the CRM object stores
type crmStore struct {
	*InMemoryStore[*crmRecord]
	prefix string
	seq    atomic.Int64
}

func newCRMStore(prefix string) *crmStore {
	return &crmStore{
		InMemoryStore: NewInMemoryStore[*crmRecord](),
		prefix:        prefix,
	}
}

func (s *crmStore) nextID() string {
	return fmt.Sprintf("%s%d", s.prefix, 1000+s.seq.Add(1))
}

func (s *crmStore) put(id, dealID string, props map[string]string) string {
	if id == "" {
		id = s.nextID()
	}
	rec := &crmRecord{ID: id, DealID: dealID}
	rec.apply(props)
	s.mu.Lock()
	s.items[id] = rec
	s.mu.Unlock()
	return id
}

func (s *crmStore) patch(ctx context.Context, id string, patch map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[id]
	if !ok {
		return ierr.NewErrorf("record %s not found", id).Mark(ierr.ErrNotFound)
	}
	rec.apply(patch)
	return nil
}

// Props returns a copy of a record's properties, nil when absent
func (s *crmStore) Props(id string) map[string]string {
	rec, err := s.Get(context.Background(), id)
	if err != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rec.copyProps()
}
