package booking

import (
	"net/http"
	"slices"
	"time"

	"github.com/hien22444/WDP-LM-sub000/internal/pkg/apperror"
	"github.com/hien22444/WDP-LM-sub000/internal/provider"
)

var (
	ErrNotFound             = apperror.New(http.StatusNotFound, "booking not found")
	ErrTimeConflict         = apperror.New(http.StatusConflict, "provider is not available in this time range")
	ErrDuplicate            = apperror.New(http.StatusConflict, "a booking already exists for this order or slot")
	ErrStartTimePast        = apperror.New(http.StatusBadRequest, "cannot create booking in the past")
	ErrStartTooFar          = apperror.New(http.StatusBadRequest, "bookings can be made at most 3 months ahead")
	ErrSelfBooking          = apperror.New(http.StatusBadRequest, "cannot book your own session")
	ErrTooManyPending       = apperror.New(http.StatusTooManyRequests, "too many pending bookings")
	ErrPermissionDenied     = apperror.New(http.StatusForbidden, "permission denied")
	ErrInvalidTransition    = apperror.New(http.StatusConflict, "booking cannot move to the requested status")
	ErrDecisionWindowClosed = apperror.New(http.StatusConflict, "decisions must be made at least 2 hours before the session starts")
	ErrPaymentRequired      = apperror.New(http.StatusPaymentRequired, "booking has not been paid")
	ErrAlreadyPaid          = apperror.New(http.StatusConflict, "booking is already paid")
	ErrInvalidDecision      = apperror.New(http.StatusBadRequest, "decision must be accept or reject")
	ErrInvalidOutcome       = apperror.New(http.StatusBadRequest, "outcome must be completed or cancelled")
	ErrInvalidSignature     = apperror.New(http.StatusBadRequest, "signature must not be empty")
	ErrNoSession            = apperror.New(http.StatusConflict, "booking has no session")
	ErrInvalidStatusParam   = apperror.New(http.StatusBadRequest, "invalid booking status")
)

const (
	// MaxAdvance bounds how far ahead a session can be booked.
	MaxAdvance = 3 // months
	// DecisionLead is the minimum time before start for a provider decision.
	DecisionLead = 2 * time.Hour
	// FullRefundLead is the minimum notice for a full refund on cancellation.
	FullRefundLead = 12 * time.Hour
	// ReminderLead is when the session reminder goes out.
	ReminderLead = 24 * time.Hour

	// SystemActor identifies transitions driven by the scheduler.
	SystemActor = "system"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusDisputed   Status = "disputed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCompleted, StatusCancelled, StatusDisputed},
	StatusInProgress: {StatusCompleted},
	// Only reachable through an administrative resolution.
	StatusDisputed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// Active statuses hold the provider's calendar and the slot.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress, StatusDisputed:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok || s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

// activeStatuses lists Active statuses for queries.
var activeStatuses = []Status{StatusPending, StatusAccepted, StatusInProgress, StatusDisputed}

type PaymentStatus string

const (
	PaymentNone PaymentStatus = "none"
	PaymentPaid PaymentStatus = "paid"
)

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

type Booking struct {
	ID                 string
	SlotID             *string
	OrderCode          *int64
	ProviderID         string
	RequesterID        string
	StartTime          time.Time
	EndTime            time.Time
	Mode               provider.Mode
	Price              int64
	Status             Status
	PaymentStatus      PaymentStatus
	EscrowAmount       int64 // read from the escrow ledger
	ContractSigned     bool
	ContractNumber     string
	RequesterSignature string
	ProviderSignature  string
	SessionID          string
	CancelReason       string
	DisputeReason      string
	CancelledAt        *time.Time // set when the booking is cancelled or rejected
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsParticipant reports whether the user is the requester or the provider.
func (b *Booking) IsParticipant(userID string) bool {
	return userID != "" && (userID == b.RequesterID || userID == b.ProviderID)
}

func (b *Booking) Paid() bool {
	return b.PaymentStatus == PaymentPaid
}

type Filter struct {
	ProviderID    string
	RequesterID   string
	ParticipantID string // either side
	Status        string
	StartTime     *time.Time // Filter bookings ending after this time
	EndTime       *time.Time // Filter bookings starting before this time
	Page          int
	PageSize      int
}

// DueQuery selects bookings for time-driven sweeps. Nil bounds are ignored.
type DueQuery struct {
	Status         Status
	StartAfter     *time.Time
	StartBefore    *time.Time
	EndAfter       *time.Time
	EndBefore      *time.Time
	CancelledAfter *time.Time
	Limit          int
}

// Patch carries the fields written together with a status transition. Empty fields are left untouched.
type Patch struct {
	CancelReason   string
	DisputeReason  string
	ContractNumber string
	CancelledAt    time.Time
}

// Party selects which signature is written.
type Party string

const (
	PartyRequester Party = "requester"
	PartyProvider  Party = "provider"
)
