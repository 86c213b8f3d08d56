package http

import (
	"time"

	"github.com/hien22444/WDP-LM-sub000/internal/booking"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/request"
	"github.com/hien22444/WDP-LM-sub000/internal/provider"
	"github.com/hien22444/WDP-LM-sub000/internal/session"
	"github.com/hien22444/WDP-LM-sub000/internal/slot"
)

// ListBookingsRequest defines query parameters for listing bookings.
type ListBookingsRequest struct {
	request.ListParams
	ProviderID    string     `form:"provider_id" binding:"omitempty,uuid"`
	RequesterID   string     `form:"requester_id" binding:"omitempty,uuid"`
	Status        string     `form:"status" binding:"omitempty,oneof=pending accepted rejected in_progress completed cancelled disputed"`
	StartTimeFrom *time.Time `form:"start_time_from" time_format:"2006-01-02T15:04:05Z07:00"`
	StartTimeTo   *time.Time `form:"start_time_to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Validate performs custom validation for ListBookingsRequest.
func (r *ListBookingsRequest) Validate() error {
	if r.StartTimeFrom != nil && r.StartTimeTo != nil && r.StartTimeFrom.After(*r.StartTimeTo) {
		return slot.ErrInvalidTimeRange
	}
	return nil
}

// CreateBookingRequest books either a published slot or an ad-hoc window.
type CreateBookingRequest struct {
	SlotID     string     `json:"slot_id" binding:"omitempty,uuid"`
	ProviderID string     `json:"provider_id" binding:"omitempty,uuid"`
	StartTime  *time.Time `json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
	Mode       string     `json:"mode" binding:"omitempty,oneof=online offline"`
	Price      int64      `json:"price" binding:"omitempty,min=1"`
}

func (r *CreateBookingRequest) toDomain(requesterID string) booking.CreateRequest {
	req := booking.CreateRequest{
		RequesterID: requesterID,
		SlotID:      r.SlotID,
		ProviderID:  r.ProviderID,
		Mode:        provider.Mode(r.Mode),
		Price:       r.Price,
	}
	if r.StartTime != nil {
		req.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		req.EndTime = *r.EndTime
	}
	return req
}

type DecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=accept reject"`
}

type ReasonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type DisputeRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

type SignRequest struct {
	Signature string `json:"signature" binding:"required,max=2000"`
}

type ResolveRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=completed cancelled"`
}

type BookingResponse struct {
	ID             string    `json:"id"`
	SlotID         *string   `json:"slot_id"`
	OrderCode      *int64    `json:"order_code"`
	ProviderID     string    `json:"provider_id"`
	RequesterID    string    `json:"requester_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Mode           string    `json:"mode"`
	Price          int64     `json:"price"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status"`
	EscrowAmount   int64     `json:"escrow_amount"`
	ContractSigned bool      `json:"contract_signed"`
	ContractNumber string    `json:"contract_number,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	CancelReason   string    `json:"cancel_reason,omitempty"`
	DisputeReason  string    `json:"dispute_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:             b.ID,
		SlotID:         b.SlotID,
		OrderCode:      b.OrderCode,
		ProviderID:     b.ProviderID,
		RequesterID:    b.RequesterID,
		StartTime:      b.StartTime,
		EndTime:        b.EndTime,
		Mode:           string(b.Mode),
		Price:          b.Price,
		Status:         string(b.Status),
		PaymentStatus:  string(b.PaymentStatus),
		EscrowAmount:   b.EscrowAmount,
		ContractSigned: b.ContractSigned,
		ContractNumber: b.ContractNumber,
		SessionID:      b.SessionID,
		CancelReason:   b.CancelReason,
		DisputeReason:  b.DisputeReason,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

type SessionResponse struct {
	ID           string    `json:"id"`
	BookingID    string    `json:"booking_id"`
	Participants []string  `json:"participants"`
	Present      []string  `json:"present"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

func NewSessionResponse(s *session.Session) SessionResponse {
	present := make([]string, 0, len(s.Present))
	for _, p := range s.Participants {
		if _, ok := s.Present[p]; ok {
			present = append(present, p)
		}
	}
	return SessionResponse{
		ID:           s.ID,
		BookingID:    s.BookingID,
		Participants: s.Participants,
		Present:      present,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
	}
}

type EscrowEntryResponse struct {
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type EscrowResponse struct {
	BookingID string                `json:"booking_id"`
	Price     int64                 `json:"price"`
	Held      int64                 `json:"held"`
	Released  int64                 `json:"released"`
	Refunded  int64                 `json:"refunded"`
	Frozen    bool                  `json:"frozen"`
	Blocked   bool                  `json:"blocked"`
	Entries   []EscrowEntryResponse `json:"entries"`
}

func NewEscrowResponse(s *booking.EscrowStatement) EscrowResponse {
	entries := make([]EscrowEntryResponse, len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = EscrowEntryResponse{
			Kind:      string(e.Kind),
			Amount:    e.Amount,
			Reason:    e.Reason,
			Actor:     e.Actor,
			CreatedAt: e.CreatedAt,
		}
	}
	return EscrowResponse{
		BookingID: s.Account.BookingID,
		Price:     s.Account.Price,
		Held:      s.Account.Held,
		Released:  s.Account.Released,
		Refunded:  s.Account.Refunded,
		Frozen:    s.Account.Frozen,
		Blocked:   s.Account.Broken,
		Entries:   entries,
	}
}
