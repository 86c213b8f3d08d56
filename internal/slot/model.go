package slot

import (
	"net/http"
	"time"

	"github.com/hien22444/WDP-LM-sub000/internal/pkg/apperror"
	"github.com/hien22444/WDP-LM-sub000/internal/provider"
)

var (
	ErrNotFound           = apperror.New(http.StatusNotFound, "slot not found")
	ErrInvalidTimeRange   = apperror.New(http.StatusBadRequest, "start time must be before end time")
	ErrInvalidDuration    = apperror.New(http.StatusBadRequest, "duration must be between 1 and 8 hours")
	ErrStartTimePast      = apperror.New(http.StatusBadRequest, "cannot open a slot in the past")
	ErrInvalidCapacity    = apperror.New(http.StatusBadRequest, "capacity must be at least 1")
	ErrInvalidPrice       = apperror.New(http.StatusBadRequest, "price is outside the allowed range")
	ErrInvalidMode        = apperror.New(http.StatusBadRequest, "invalid mode")
	ErrModeUnsupported    = apperror.New(http.StatusBadRequest, "provider does not support this mode")
	ErrProviderNotFound   = apperror.New(http.StatusBadRequest, "provider not found")
	ErrConflict           = apperror.New(http.StatusConflict, "time range overlaps an existing slot or booking")
	ErrSlotUnavailable    = apperror.New(http.StatusConflict, "slot is no longer available")
	ErrNotOpen            = apperror.New(http.StatusConflict, "only open slots can be changed")
	ErrPermissionDenied   = apperror.New(http.StatusForbidden, "permission denied")
	ErrInvalidStatusParam = apperror.New(http.StatusBadRequest, "invalid slot status")
)

const (
	MinDuration = time.Hour
	MaxDuration = 8 * time.Hour
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusBooked Status = "booked"
	StatusClosed Status = "closed"
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusBooked || s == StatusClosed
}

type Slot struct {
	ID         string
	ProviderID string
	StartTime  time.Time
	EndTime    time.Time
	Mode       provider.Mode
	Price      int64
	Capacity   int
	Status     Status
	BookedBy   string // requester that consumed the slot, empty while open
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Overlaps reports whether [start, end) intersects the slot's window.
func (s *Slot) Overlaps(start, end time.Time) bool {
	return start.Before(s.EndTime) && end.After(s.StartTime)
}

type Filter struct {
	ProviderID string
	Status     string
	StartTime  *time.Time // Filter slots ending after this time
	EndTime    *time.Time // Filter slots starting before this time
	Page       int
	PageSize   int
}

// PriceBounds is the inclusive range a session price must fall into.
type PriceBounds struct {
	Min int64
	Max int64
}

func (b PriceBounds) Check(price int64) error {
	if price <= 0 || (b.Min > 0 && price < b.Min) || (b.Max > 0 && price > b.Max) {
		return ErrInvalidPrice
	}
	return nil
}

// ValidateWindow checks the shape of a session window: ordered, and 1 to 8 hours long.
func ValidateWindow(start, end time.Time) error {
	if !start.Before(end) {
		return ErrInvalidTimeRange
	}
	d := end.Sub(start)
	if d < MinDuration || d > MaxDuration {
		return ErrInvalidDuration
	}
	return nil
}
