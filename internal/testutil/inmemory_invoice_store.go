package testutil

import (
	"context"

	"github.com/flexprice/billsync/internal/domain/invoice"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	*crmStore
	failErr error
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{crmStore: newCRMStore("inv")}
}

// Put stores an invoice carrying the given key
func (s *InMemoryInvoiceStore) Put(id, key string) {
	s.put(id, "", map[string]string{invoice.PropertyKey: key})
}

// FailWith makes every Get fail with err; nil restores normal behaviour
func (s *InMemoryInvoiceStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	s.mu.RLock()
	failErr := s.failErr
	s.mu.RUnlock()
	if failErr != nil {
		return nil, failErr
	}

	rec, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &invoice.Invoice{ID: rec.ID, Key: rec.Props[invoice.PropertyKey]}, nil
}

// Clear removes all invoices
func (s *InMemoryInvoiceStore) Clear() {
	s.InMemoryStore.Clear()
	s.mu.Lock()
	s.failErr = nil
	s.mu.Unlock()
}
