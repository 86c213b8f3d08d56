package payment

import (
	"net/http"
	"time"

	"github.com/hien22444/WDP-LM-sub000/internal/pkg/apperror"
)

var (
	ErrNotFound         = apperror.New(http.StatusNotFound, "payment order not found")
	ErrGateway          = apperror.New(http.StatusBadGateway, "payment gateway unavailable")
	ErrInvalidAmount    = apperror.New(http.StatusBadRequest, "amount does not match the price")
	ErrInvalidTarget    = apperror.New(http.StatusBadRequest, "an order pays for exactly one slot or booking")
	ErrNotPayable       = apperror.New(http.StatusConflict, "target cannot be paid for")
	ErrPermissionDenied = apperror.New(http.StatusForbidden, "permission denied")
	ErrInvalidSignature = apperror.New(http.StatusUnauthorized, "invalid webhook signature")
	ErrMalformedPayload = apperror.New(http.StatusBadRequest, "malformed webhook payload")

	errDuplicateCode = apperror.New(http.StatusConflict, "order code already in use")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Order is a local payment order. It is persisted before the gateway is called.
type Order struct {
	OrderCode       int64
	RequesterID     string
	SlotID          *string
	BookingID       *string
	Amount          int64
	Description     string
	Status          Status
	GatewayRef      string
	CheckoutURL     string
	RawPayload      []byte // last gateway signal, verbatim
	SignalSucceeded bool   // a success signal was received at least once
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Settlement is what reconciliation made of a paid order.
type Settlement struct {
	BookingID string
	Replayed  bool
}
