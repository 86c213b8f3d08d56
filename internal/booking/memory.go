package booking

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps bookings in process memory and enforces the same unique
// and exclusion constraints as the Postgres schema.
type MemoryRepository struct {
	mu       sync.Mutex
	bookings map[string]*Booking
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bookings: make(map[string]*Booking),
		now:      time.Now,
	}
}

func clone(b *Booking) *Booking {
	cp := *b
	if b.SlotID != nil {
		id := *b.SlotID
		cp.SlotID = &id
	}
	if b.OrderCode != nil {
		code := *b.OrderCode
		cp.OrderCode = &code
	}
	if b.CancelledAt != nil {
		at := *b.CancelledAt
		cp.CancelledAt = &at
	}
	return &cp
}

func overlaps(b *Booking, start, end time.Time) bool {
	return start.Before(b.EndTime) && end.After(b.StartTime)
}

func (r *MemoryRepository) Create(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.create(b)
}

func (r *MemoryRepository) CreateWithinLimit(_ context.Context, b *Booking, maxPending int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := 0
	for _, existing := range r.bookings {
		if existing.RequesterID == b.RequesterID && existing.Status == StatusPending {
			pending++
		}
	}
	if pending >= maxPending {
		return ErrTooManyPending
	}
	return r.create(b)
}

// create must be called with r.mu held.
func (r *MemoryRepository) create(b *Booking) error {
	for _, existing := range r.bookings {
		if b.OrderCode != nil && existing.OrderCode != nil && *existing.OrderCode == *b.OrderCode {
			return ErrDuplicate
		}
		if !existing.Status.Active() || !b.Status.Active() {
			continue
		}
		if b.SlotID != nil && existing.SlotID != nil && *existing.SlotID == *b.SlotID {
			return ErrDuplicate
		}
		if existing.ProviderID == b.ProviderID && overlaps(existing, b.StartTime, b.EndTime) {
			return ErrTimeConflict
		}
	}

	b.ID = uuid.NewString()
	b.CreatedAt = r.now().UTC()
	b.UpdatedAt = b.CreatedAt
	r.bookings[b.ID] = clone(b)
	return nil
}

func (r *MemoryRepository) find(match func(*Booking) bool) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bookings {
		if match(b) {
			return clone(b), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Booking, error) {
	return r.find(func(b *Booking) bool { return b.ID == id })
}

func (r *MemoryRepository) GetByOrderCode(_ context.Context, orderCode int64) (*Booking, error) {
	return r.find(func(b *Booking) bool { return b.OrderCode != nil && *b.OrderCode == orderCode })
}

func (r *MemoryRepository) FindActiveBySlot(_ context.Context, slotID string) (*Booking, error) {
	return r.find(func(b *Booking) bool {
		return b.SlotID != nil && *b.SlotID == slotID && b.Status.Active()
	})
}

func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]*Booking, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Booking
	for _, b := range r.bookings {
		if filter.ProviderID != "" && b.ProviderID != filter.ProviderID {
			continue
		}
		if filter.RequesterID != "" && b.RequesterID != filter.RequesterID {
			continue
		}
		if filter.ParticipantID != "" && !b.IsParticipant(filter.ParticipantID) {
			continue
		}
		if filter.Status != "" && string(b.Status) != filter.Status {
			continue
		}
		if filter.StartTime != nil && b.EndTime.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && b.StartTime.After(*filter.EndTime) {
			continue
		}
		matched = append(matched, clone(b))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartTime.After(matched[j].StartTime) })

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	total := len(matched)
	from := (filter.Page - 1) * filter.PageSize
	if from >= total {
		return nil, total, nil
	}
	return matched[from:min(from+filter.PageSize, total)], total, nil
}

func (r *MemoryRepository) ListDue(_ context.Context, q DueQuery) ([]*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*Booking
	for _, b := range r.bookings {
		if b.Status != q.Status {
			continue
		}
		if q.StartAfter != nil && !b.StartTime.After(*q.StartAfter) {
			continue
		}
		if q.StartBefore != nil && b.StartTime.After(*q.StartBefore) {
			continue
		}
		if q.EndAfter != nil && !b.EndTime.After(*q.EndAfter) {
			continue
		}
		if q.EndBefore != nil && b.EndTime.After(*q.EndBefore) {
			continue
		}
		if q.CancelledAfter != nil && (b.CancelledAt == nil || !b.CancelledAt.After(*q.CancelledAfter)) {
			continue
		}
		due = append(due, clone(b))
	}
	sort.Slice(due, func(i, j int) bool { return due[i].StartTime.Before(due[j].StartTime) })
	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}
	return due, nil
}

func (r *MemoryRepository) HasActiveOverlap(_ context.Context, providerID string, start, end time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bookings {
		if b.ProviderID == providerID && b.Status.Active() && overlaps(b, start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CountPending(_ context.Context, requesterID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, b := range r.bookings {
		if b.RequesterID == requesterID && b.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CompareAndSwapStatus(_ context.Context, id string, from, to Status, patch Patch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	if patch.CancelReason != "" {
		b.CancelReason = patch.CancelReason
	}
	if patch.DisputeReason != "" {
		b.DisputeReason = patch.DisputeReason
	}
	if patch.ContractNumber != "" {
		b.ContractNumber = patch.ContractNumber
	}
	if !patch.CancelledAt.IsZero() {
		at := patch.CancelledAt.UTC()
		b.CancelledAt = &at
	}
	b.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepository) MarkPaid(_ context.Context, id string, orderCode int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.Status != StatusPending || b.PaymentStatus != PaymentNone {
		return false, nil
	}
	for _, other := range r.bookings {
		if other.ID != id && other.OrderCode != nil && *other.OrderCode == orderCode {
			return false, ErrDuplicate
		}
	}
	b.PaymentStatus = PaymentPaid
	b.OrderCode = &orderCode
	b.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepository) SetSignature(_ context.Context, id string, party Party, signature string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || !slices.Contains([]Status{StatusPending, StatusAccepted}, b.Status) {
		return false, nil
	}
	if party == PartyProvider {
		b.ProviderSignature = signature
	} else {
		b.RequesterSignature = signature
	}
	b.ContractSigned = b.RequesterSignature != "" && b.ProviderSignature != ""
	b.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepository) SetSessionID(_ context.Context, id, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.SessionID = sessionID
	return nil
}
