package http

import (
	"time"

	"github.com/hien22444/WDP-LM-sub000/internal/payment"
)

type CreateOrderRequest struct {
	SlotID      string `json:"slot_id" binding:"omitempty,uuid"`
	BookingID   string `json:"booking_id" binding:"omitempty,uuid"`
	Amount      int64  `json:"amount" binding:"omitempty,min=1"`
	Description string `json:"description" binding:"max=255"`
	ReturnURL   string `json:"return_url" binding:"omitempty,url"`
}

func (r *CreateOrderRequest) toDomain(requesterID string) payment.CreateOrderRequest {
	return payment.CreateOrderRequest{
		RequesterID: requesterID,
		SlotID:      r.SlotID,
		BookingID:   r.BookingID,
		Amount:      r.Amount,
		Description: r.Description,
		ReturnURL:   r.ReturnURL,
	}
}

type OrderResponse struct {
	OrderCode   int64     `json:"order_code"`
	RequesterID string    `json:"requester_id"`
	SlotID      *string   `json:"slot_id"`
	BookingID   *string   `json:"booking_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CheckoutURL string    `json:"checkout_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewOrderResponse(o *payment.Order) OrderResponse {
	return OrderResponse{
		OrderCode:   o.OrderCode,
		RequesterID: o.RequesterID,
		SlotID:      o.SlotID,
		BookingID:   o.BookingID,
		Amount:      o.Amount,
		Description: o.Description,
		Status:      string(o.Status),
		CheckoutURL: o.CheckoutURL,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}
