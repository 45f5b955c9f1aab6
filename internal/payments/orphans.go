package payments

import (
	"context"
	"sort"
	"sync"
)

// OrphanStore keeps succeeded payments whose payer had no owner yet, one row
// per external payment id.
type OrphanStore interface {
	// Park stores p unless its payment id is already parked. It reports whether a row was added.
	Park(ctx context.Context, p OrphanPayment) (bool, error)
	// Record aggregates the parked payments of identity. ok is false when there are none.
	Record(ctx context.Context, identity string) (rec OrphanRecord, ok bool, err error)
	// Remove drops a payment once it has been credited. Removing a missing id is not an error.
	Remove(ctx context.Context, externalPaymentID string) error
	// Identities lists identities with parked payments, oldest first.
	Identities(ctx context.Context, limit int) ([]string, error)
}

// MemoryOrphanStore is an in-memory OrphanStore for tests and local runs.
type MemoryOrphanStore struct {
	mu       sync.Mutex
	payments map[string]OrphanPayment
}

func NewMemoryOrphanStore() *MemoryOrphanStore {
	return &MemoryOrphanStore{payments: map[string]OrphanPayment{}}
}

func (s *MemoryOrphanStore) Park(_ context.Context, p OrphanPayment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ExternalPaymentID]; ok {
		return false, nil
	}
	p.PayerIdentity = NormalizeIdentity(p.PayerIdentity)
	s.payments[p.ExternalPaymentID] = p
	return true, nil
}

func (s *MemoryOrphanStore) Record(_ context.Context, identity string) (OrphanRecord, bool, error) {
	identity = NormalizeIdentity(identity)

	s.mu.Lock()
	var ps []OrphanPayment
	for _, p := range s.payments {
		if p.PayerIdentity == identity {
			ps = append(ps, p)
		}
	}
	s.mu.Unlock()

	if len(ps) == 0 {
		return OrphanRecord{}, false, nil
	}
	sortPayments(ps)
	return newOrphanRecord(identity, ps), true, nil
}

func (s *MemoryOrphanStore) Remove(_ context.Context, externalPaymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payments, externalPaymentID)
	return nil
}

func (s *MemoryOrphanStore) Identities(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	ps := make([]OrphanPayment, 0, len(s.payments))
	for _, p := range s.payments {
		ps = append(ps, p)
	}
	s.mu.Unlock()

	sortPayments(ps)
	seen := map[string]bool{}
	var out []string
	for _, p := range ps {
		if seen[p.PayerIdentity] {
			continue
		}
		seen[p.PayerIdentity] = true
		out = append(out, p.PayerIdentity)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func sortPayments(ps []OrphanPayment) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].ParkedAt.Equal(ps[j].ParkedAt) {
			return ps[i].ParkedAt.Before(ps[j].ParkedAt)
		}
		return ps[i].ExternalPaymentID < ps[j].ExternalPaymentID
	})
}
