package notify

import (
	"context"
	"strings"
	"time"

	"github.com/wb-go/wbf/logger"
)

type Event string

const (
	EventBookingCreated   Event = "booking_created"
	EventBookingDecided   Event = "booking_decided"
	EventPaymentSucceeded Event = "payment_succeeded"
	EventEscrowReleased   Event = "escrow_released"
	EventEscrowRefunded   Event = "escrow_refunded"
	EventSessionReminder  Event = "session_reminder"
)

// RoutingKey maps an event to its topic routing key, e.g. booking_created -> booking.created.
func (e Event) RoutingKey() string {
	return strings.Replace(string(e), "_", ".", 1)
}

// Message is the booking snapshot delivered with an event.
type Message struct {
	BookingID     string    `json:"booking_id"`
	OrderCode     int64     `json:"order_code,omitempty"`
	ProviderID    string    `json:"provider_id"`
	RequesterID   string    `json:"requester_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Amount        int64     `json:"amount,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Reason        string    `json:"reason,omitempty"`
}

// Dispatcher delivers notifications. Implementations do not deduplicate.
type Dispatcher interface {
	Notify(ctx context.Context, event Event, msg Message) error
}

// LogDispatcher only logs events. It is used when no broker is configured.
type LogDispatcher struct {
	log logger.Logger
}

func NewLogDispatcher(log logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Notify(_ context.Context, event Event, msg Message) error {
	d.log.Info("notification",
		logger.String("event", string(event)),
		logger.String("booking_id", msg.BookingID),
		logger.String("status", msg.Status),
	)
	return nil
}
