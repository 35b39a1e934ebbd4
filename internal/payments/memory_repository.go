package payments

import (
	"context"
	"sync"
	"time"

	"github.com/ars-cashier/cashier/internal/ledger"
)

type memoryRepository struct {
	mu       sync.RWMutex
	payments []Payment // insertion order = creation order
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Create(_ context.Context, payment Payment) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.Authority == payment.Authority && p.Amount.Equal(payment.Amount) {
			return Payment{}, ErrDuplicateAuthority
		}
	}

	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	payment.Transaction.CreatedAt = now
	payment.Transaction.UpdatedAt = now
	payment.Transaction.Meta = payment.Transaction.Meta.Clone()
	r.payments = append(r.payments, payment)
	return payment, nil
}

func (r *memoryRepository) FindByAuthority(_ context.Context, authority string) (Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, err := r.indexByAuthority(authority)
	if err != nil {
		return Payment{}, err
	}
	return r.payments[idx], nil
}

// indexByAuthority must be called with at least the read lock held. The
// oldest match wins: authority alone is not guaranteed unique.
func (r *memoryRepository) indexByAuthority(authority string) (int, error) {
	for i, p := range r.payments {
		if p.Authority == authority {
			return i, nil
		}
	}
	return 0, ErrAuthorityNotFound
}

func (r *memoryRepository) Confirm(_ context.Context, authority, refID, statusCode string, paidAt time.Time) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.indexByAuthority(authority)
	if err != nil {
		return Payment{}, err
	}

	p := r.payments[idx]
	if p.IsPayed() {
		return p, nil
	}

	p.RefID = refID
	p.StatusCode = statusCode
	p.PayedAt = &paidAt
	p.Transaction.Accepted = true
	p.Transaction.UpdatedAt = paidAt
	p.UpdatedAt = paidAt
	r.payments[idx] = p
	return p, nil
}

func (r *memoryRepository) RecordFailure(_ context.Context, authority, statusCode, message string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.indexByAuthority(authority)
	if err != nil {
		return Payment{}, err
	}

	p := r.payments[idx]
	p.StatusCode = statusCode
	if message != "" {
		p.Transaction.Meta = p.Transaction.Meta.Merge(ledger.Meta{"message": message})
	}
	p.UpdatedAt = time.Now().UTC()
	p.Transaction.UpdatedAt = p.UpdatedAt
	r.payments[idx] = p
	return p, nil
}

func (r *memoryRepository) MergeMeta(_ context.Context, authority string, newMeta ledger.Meta) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.indexByAuthority(authority)
	if err != nil {
		return Payment{}, err
	}

	p := r.payments[idx]
	p.Transaction.Meta = p.Transaction.Meta.Merge(newMeta)
	p.Transaction.UpdatedAt = time.Now().UTC()
	r.payments[idx] = p
	return p, nil
}

func (r *memoryRepository) ResetMeta(_ context.Context, authority string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.indexByAuthority(authority)
	if err != nil {
		return Payment{}, err
	}

	p := r.payments[idx]
	p.Transaction.Meta = ledger.Meta{}
	p.Transaction.UpdatedAt = time.Now().UTC()
	r.payments[idx] = p
	return p, nil
}
