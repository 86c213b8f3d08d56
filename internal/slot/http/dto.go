package http

import (
	"time"

	"github.com/hien22444/WDP-LM-sub000/internal/pkg/request"
	"github.com/hien22444/WDP-LM-sub000/internal/provider"
	"github.com/hien22444/WDP-LM-sub000/internal/slot"
)

// ListSlotsRequest defines query parameters for listing slots.
type ListSlotsRequest struct {
	request.ListParams
	ProviderID string     `form:"provider_id" binding:"omitempty,uuid"`
	Status     string     `form:"status" binding:"omitempty,oneof=open booked closed"`
	From       *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To         *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Validate performs custom validation for ListSlotsRequest.
func (r *ListSlotsRequest) Validate() error {
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return slot.ErrInvalidTimeRange
	}
	return nil
}

type CreateSlotRequest struct {
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
	Mode      string    `json:"mode" binding:"required,oneof=online offline"`
	Price     int64     `json:"price" binding:"required,min=1"`
	Capacity  int       `json:"capacity" binding:"omitempty,min=1"`
}

// Validate performs custom validation for CreateSlotRequest.
func (r *CreateSlotRequest) Validate() error {
	if !r.StartTime.Before(r.EndTime) {
		return slot.ErrInvalidTimeRange
	}
	return nil
}

type SlotResponse struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Mode       string    `json:"mode"`
	Price      int64     `json:"price"`
	Capacity   int       `json:"capacity"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewSlotResponse(s *slot.Slot) SlotResponse {
	return SlotResponse{
		ID:         s.ID,
		ProviderID: s.ProviderID,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Mode:       string(s.Mode),
		Price:      s.Price,
		Capacity:   s.Capacity,
		Status:     string(s.Status),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (r *CreateSlotRequest) toDomain(providerID string) slot.CreateRequest {
	return slot.CreateRequest{
		ProviderID: providerID,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Mode:       provider.Mode(r.Mode),
		Price:      r.Price,
		Capacity:   r.Capacity,
	}
}
