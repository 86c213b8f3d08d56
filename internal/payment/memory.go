package payment

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps orders in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[int64]*Order
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[int64]*Order),
		now:    time.Now,
	}
}

func cloneOrder(o *Order) *Order {
	cp := *o
	if o.SlotID != nil {
		v := *o.SlotID
		cp.SlotID = &v
	}
	if o.BookingID != nil {
		v := *o.BookingID
		cp.BookingID = &v
	}
	cp.RawPayload = slices.Clone(o.RawPayload)
	return &cp
}

func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.OrderCode]; ok {
		return errDuplicateCode
	}
	o.CreatedAt = r.now().UTC()
	o.UpdatedAt = o.CreatedAt
	r.orders[o.OrderCode] = cloneOrder(o)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, orderCode int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderCode]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepository) update(orderCode int64, change func(*Order) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderCode]
	if !ok {
		return false, ErrNotFound
	}
	if !change(o) {
		return false, nil
	}
	o.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *MemoryRepository) CompareAndSwapStatus(_ context.Context, orderCode int64, from, to Status) (bool, error) {
	ok, err := r.update(orderCode, func(o *Order) bool {
		if o.Status != from {
			return false
		}
		o.Status = to
		return true
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return ok, err
}

func (r *MemoryRepository) SetCheckout(_ context.Context, orderCode int64, ref, url string) error {
	_, err := r.update(orderCode, func(o *Order) bool {
		o.GatewayRef, o.CheckoutURL = ref, url
		return true
	})
	return err
}

func (r *MemoryRepository) RecordSignal(_ context.Context, orderCode int64, raw []byte, succeeded bool) error {
	_, err := r.update(orderCode, func(o *Order) bool {
		o.RawPayload = slices.Clone(raw)
		o.SignalSucceeded = o.SignalSucceeded || succeeded
		return true
	})
	return err
}

func (r *MemoryRepository) SetBooking(_ context.Context, orderCode int64, bookingID string) error {
	_, err := r.update(orderCode, func(o *Order) bool {
		o.BookingID = &bookingID
		return true
	})
	return err
}

func (r *MemoryRepository) ListStale(_ context.Context, before time.Time, limit int) ([]*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*Order
	for _, o := range r.orders {
		if o.Status == StatusPending && o.CreatedAt.Before(before) {
			stale = append(stale, cloneOrder(o))
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}
