package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wb-go/wbf/logger"

	"github.com/hien22444/WDP-LM-sub000/internal/provider"
)

// BookingCalendar reports whether a provider already has an active booking in a window.
// It is implemented by the booking repository.
type BookingCalendar interface {
	HasActiveOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error)
}

type CreateRequest struct {
	ProviderID string
	StartTime  time.Time
	EndTime    time.Time
	Mode       provider.Mode
	Price      int64
	Capacity   int
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Slot, error)
	GetByID(ctx context.Context, id string) (*Slot, error)
	List(ctx context.Context, filter Filter) ([]*Slot, int, error)

	// Book atomically consumes an open slot for the requester.
	// It fails with ErrSlotUnavailable when the slot is not open anymore.
	Book(ctx context.Context, slotID, requesterID string) (*Slot, error)
	// Unbook returns a slot consumed by requesterID to open. It compensates a
	// booking that could not be recorded after the slot was taken.
	Unbook(ctx context.Context, slotID, requesterID string) error
	Close(ctx context.Context, slotID, actorID string) error
	Delete(ctx context.Context, slotID, actorID string) error

	// HasOverlap reports whether the provider has an open or booked slot in [start, end).
	HasOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error)
}

type service struct {
	repo      Repository
	providers provider.Directory
	calendar  BookingCalendar
	prices    PriceBounds
	log       logger.Logger
	now       func() time.Time
}

type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(
	repo Repository,
	providers provider.Directory,
	calendar BookingCalendar,
	prices PriceBounds,
	log logger.Logger,
	opts ...Option,
) Service {
	s := &service{
		repo:      repo,
		providers: providers,
		calendar:  calendar,
		prices:    prices,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Slot, error) {
	// 1. Validate shape
	if err := ValidateWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if req.StartTime.Before(s.now()) {
		return nil, ErrStartTimePast
	}
	if !req.Mode.Valid() {
		return nil, ErrInvalidMode
	}
	if req.Capacity == 0 {
		req.Capacity = 1
	}
	if req.Capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if err := s.prices.Check(req.Price); err != nil {
		return nil, err
	}

	// 2. Provider must teach in the requested mode
	p, err := s.providers.GetByID(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	if !p.Supports(req.Mode) {
		return nil, ErrModeUnsupported
	}

	// 3. Check for overlaps with active bookings. Slot-on-slot overlaps are also
	// enforced by the repository so that concurrent creates cannot both succeed.
	busy, err := s.calendar.HasActiveOverlap(ctx, req.ProviderID, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrConflict
	}
	overlap, err := s.repo.HasOverlap(ctx, req.ProviderID, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if overlap {
		return nil, ErrConflict
	}

	// 4. Create slot
	sl := &Slot{
		ProviderID: req.ProviderID,
		StartTime:  req.StartTime.UTC(),
		EndTime:    req.EndTime.UTC(),
		Mode:       req.Mode,
		Price:      req.Price,
		Capacity:   req.Capacity,
		Status:     StatusOpen,
	}
	if err := s.repo.Create(ctx, sl); err != nil {
		return nil, err
	}

	s.log.Info("slot opened",
		logger.String("slot_id", sl.ID),
		logger.String("provider_id", sl.ProviderID),
	)
	return sl, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*Slot, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, filter Filter) ([]*Slot, int, error) {
	if filter.Status != "" && !Status(filter.Status).Valid() {
		return nil, 0, ErrInvalidStatusParam
	}
	return s.repo.List(ctx, filter)
}

func (s *service) Book(ctx context.Context, slotID, requesterID string) (*Slot, error) {
	swapped, err := s.repo.CompareAndSwapStatus(ctx, slotID, StatusOpen, StatusBooked, requesterID)
	if err != nil {
		return nil, fmt.Errorf("book slot: %w", err)
	}
	if !swapped {
		// Distinguish a missing slot from a lost race
		if _, err := s.repo.GetByID(ctx, slotID); err != nil {
			return nil, err
		}
		return nil, ErrSlotUnavailable
	}

	sl, err := s.repo.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	s.log.Info("slot booked",
		logger.String("slot_id", sl.ID),
		logger.String("requester_id", requesterID),
	)
	return sl, nil
}

func (s *service) Unbook(ctx context.Context, slotID, requesterID string) error {
	swapped, err := s.repo.CompareAndSwapStatus(ctx, slotID, StatusBooked, StatusOpen, requesterID)
	if err != nil {
		return fmt.Errorf("unbook slot: %w", err)
	}
	if !swapped {
		return ErrSlotUnavailable
	}
	s.log.Warn("slot returned to open",
		logger.String("slot_id", slotID),
		logger.String("requester_id", requesterID),
	)
	return nil
}

func (s *service) Close(ctx context.Context, slotID, actorID string) error {
	sl, err := s.repo.GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	if sl.ProviderID != actorID {
		return ErrPermissionDenied
	}
	swapped, err := s.repo.CompareAndSwapStatus(ctx, slotID, StatusOpen, StatusClosed, "")
	if err != nil {
		return fmt.Errorf("close slot: %w", err)
	}
	if !swapped {
		return ErrNotOpen
	}
	return nil
}

func (s *service) Delete(ctx context.Context, slotID, actorID string) error {
	sl, err := s.repo.GetByID(ctx, slotID)
	if err != nil {
		return err
	}
	if sl.ProviderID != actorID {
		return ErrPermissionDenied
	}
	deleted, err := s.repo.DeleteIfOpen(ctx, slotID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotOpen
	}
	return nil
}

func (s *service) HasOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error) {
	return s.repo.HasOverlap(ctx, providerID, start, end)
}
