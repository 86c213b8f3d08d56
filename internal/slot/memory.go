package slot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps slots in process memory. Every method holds the lock for
// its whole duration, which gives it the same atomicity as the conditional
// statements of the Postgres repository.
type MemoryRepository struct {
	mu    sync.Mutex
	slots map[string]*Slot
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots: make(map[string]*Slot),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, s *Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.slots {
		if existing.ProviderID == s.ProviderID && existing.Status != StatusClosed && existing.Overlaps(s.StartTime, s.EndTime) {
			return ErrConflict
		}
	}

	s.ID = uuid.NewString()
	s.CreatedAt = r.now().UTC()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.slots[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]*Slot, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Slot
	for _, s := range r.slots {
		if filter.ProviderID != "" && s.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Status != "" && string(s.Status) != filter.Status {
			continue
		}
		if filter.StartTime != nil && s.EndTime.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && s.StartTime.After(*filter.EndTime) {
			continue
		}
		cp := *s
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartTime.Before(matched[j].StartTime) })

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
	to := min(from+filter.PageSize, total)
	return matched[from:to], total, nil
}

func (r *MemoryRepository) HasOverlap(_ context.Context, providerID string, start, end time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if s.ProviderID == providerID && s.Status != StatusClosed && s.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CompareAndSwapStatus(_ context.Context, id string, from, to Status, bookedBy string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.Status != from {
		return false, nil
	}
	if from == StatusBooked && bookedBy != "" && s.BookedBy != bookedBy {
		return false, nil
	}
	s.Status = to
	switch to {
	case StatusBooked:
		s.BookedBy = bookedBy
	case StatusOpen:
		s.BookedBy = ""
	}
	s.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepository) DeleteIfOpen(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.Status != StatusOpen {
		return false, nil
	}
	delete(r.slots, id)
	return true, nil
}
