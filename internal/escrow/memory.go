package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps the ledger in process memory with the same version-checked
// semantics as the Postgres repository.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[string]*Account
	entries  map[string][]Entry
	balances map[string]int64
	nextID   int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]*Account),
		entries:  make(map[string][]Entry),
		balances: make(map[string]int64),
	}
}

func (r *MemoryRepository) Insert(_ context.Context, a *Account) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[a.BookingID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	cp := *a
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.accounts[a.BookingID] = &cp
	return true, nil
}

func (r *MemoryRepository) Get(_ context.Context, bookingID string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) apply(_ context.Context, m mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.accounts[m.account.BookingID]
	if !ok || cur.Version != m.expectedVersion || cur.Broken {
		return errStaleVersion
	}

	next := m.account
	next.Version = cur.Version + 1
	next.Broken = false
	next.UpdatedAt = time.Now().UTC()
	r.accounts[next.BookingID] = &next

	r.nextID++
	e := m.entry
	e.ID = r.nextID
	e.BookingID = next.BookingID
	e.CreatedAt = next.UpdatedAt
	r.entries[next.BookingID] = append(r.entries[next.BookingID], e)

	if m.credit > 0 {
		r.balances[next.ProviderID] += m.credit
	}
	return nil
}

func (r *MemoryRepository) MarkBroken(_ context.Context, bookingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.accounts[bookingID]; ok {
		a.Broken = true
		a.Version++
	}
	return nil
}

func (r *MemoryRepository) Entries(_ context.Context, bookingID string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Entry(nil), r.entries[bookingID]...), nil
}

func (r *MemoryRepository) Balance(_ context.Context, providerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.balances[providerID], nil
}
