package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wb-go/wbf/logger"

	"github.com/hien22444/WDP-LM-sub000/internal/booking"
	"github.com/hien22444/WDP-LM-sub000/internal/notify"
	"github.com/hien22444/WDP-LM-sub000/internal/payment"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/apperror"
	"github.com/hien22444/WDP-LM-sub000/internal/slot"
)

var (
	ErrOrderCancelled = apperror.New(http.StatusConflict, "payment order was cancelled")
	ErrNoTarget       = apperror.New(http.StatusUnprocessableEntity, "payment order references neither a slot nor a booking")
	ErrSlotTaken      = apperror.New(http.StatusConflict, "slot was taken by another requester before payment settled")
	ErrDoublePayment  = apperror.New(http.StatusConflict, "slot is already held by a booking paid with another order")
)

// Orders is the part of the payment repository reconciliation writes to.
type Orders interface {
	Get(ctx context.Context, orderCode int64) (*payment.Order, error)
	CompareAndSwapStatus(ctx context.Context, orderCode int64, from, to payment.Status) (bool, error)
	SetBooking(ctx context.Context, orderCode int64, bookingID string) error
}

type Slots interface {
	GetByID(ctx context.Context, id string) (*slot.Slot, error)
	Book(ctx context.Context, slotID, requesterID string) (*slot.Slot, error)
}

type Bookings interface {
	CreatePaid(ctx context.Context, req booking.PaidRequest) (*booking.Booking, error)
	MarkPaid(ctx context.Context, bookingID string, orderCode int64) (*booking.Booking, error)
	GetByOrderCode(ctx context.Context, orderCode int64) (*booking.Booking, error)
	FindActiveBySlot(ctx context.Context, slotID string) (*booking.Booking, error)
}

// Alerter surfaces paid orders that need an administrator.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Engine converges duplicated payment signals into a single booking. Webhooks and
// verify calls for the same order may run it concurrently; every write it makes is
// a compare-and-swap or is guarded by a unique constraint.
type Engine struct {
	orders   Orders
	slots    Slots
	bookings Bookings
	notifier notify.Dispatcher
	alerter  Alerter
	log      logger.Logger
}

// NewEngine expects a notifier that deduplicates per (event, booking), such as notify.Once.
// A nil alerter only logs.
func NewEngine(orders Orders, slots Slots, bookings Bookings, notifier notify.Dispatcher, alerter Alerter, log logger.Logger) *Engine {
	return &Engine{
		orders:   orders,
		slots:    slots,
		bookings: bookings,
		notifier: notifier,
		alerter:  alerter,
		log:      log,
	}
}

func (e *Engine) EnsureBookingFromPaidOrder(ctx context.Context, orderCode int64) (payment.Settlement, error) {
	// 1. pending -> paid
	o, swapped, err := e.markPaid(ctx, orderCode)
	if err != nil {
		return payment.Settlement{}, err
	}

	// 2 and 3. consume the slot, then find or create the booking
	var b *booking.Booking
	var created bool
	switch {
	case o.BookingID != nil:
		b, err = e.bookings.MarkPaid(ctx, *o.BookingID, o.OrderCode)
	case o.SlotID != nil:
		b, created, err = e.bookingForSlot(ctx, o)
	default:
		err = ErrNoTarget
	}
	if err != nil {
		return payment.Settlement{}, err
	}

	if o.BookingID == nil || *o.BookingID != b.ID {
		if err := e.orders.SetBooking(ctx, o.OrderCode, b.ID); err != nil {
			return payment.Settlement{}, err
		}
	}

	e.notify(ctx, o, b)

	settled := payment.Settlement{BookingID: b.ID, Replayed: !swapped && !created}
	if settled.Replayed {
		e.log.Debug("reconciliation replayed",
			logger.Int64("order_code", o.OrderCode),
			logger.String("booking_id", b.ID),
		)
	} else {
		e.log.Info("order reconciled",
			logger.Int64("order_code", o.OrderCode),
			logger.String("booking_id", b.ID),
		)
	}
	return settled, nil
}

// markPaid swaps a pending order to paid. An order already paid is a replay.
// Cancelled is terminal: a success signal arriving afterwards is escalated to an
// administrator and never turned into a booking.
func (e *Engine) markPaid(ctx context.Context, orderCode int64) (*payment.Order, bool, error) {
	o, err := e.orders.Get(ctx, orderCode)
	if err != nil {
		return nil, false, err
	}
	if o.Status == payment.StatusPaid {
		return o, false, nil
	}

	if o.Status == payment.StatusPending {
		swapped, err := e.orders.CompareAndSwapStatus(ctx, orderCode, payment.StatusPending, payment.StatusPaid)
		if err != nil {
			return nil, false, fmt.Errorf("mark order %d paid: %w", orderCode, err)
		}
		if swapped {
			o.Status = payment.StatusPaid
			return o, true, nil
		}

		// Lost the race; reload to see who won.
		o, err = e.orders.Get(ctx, orderCode)
		if err != nil {
			return nil, false, err
		}
		if o.Status == payment.StatusPaid {
			return o, false, nil
		}
	}

	e.escalate(ctx, o, "success signal for cancelled order %d (requester %s, amount %d); refund manually")
	return nil, false, ErrOrderCancelled
}

func (e *Engine) bookingForSlot(ctx context.Context, o *payment.Order) (*booking.Booking, bool, error) {
	if b, err := e.bookings.GetByOrderCode(ctx, o.OrderCode); err == nil {
		return b, false, nil
	} else if !errors.Is(err, booking.ErrNotFound) {
		return nil, false, err
	}

	sl, err := e.slots.Book(ctx, *o.SlotID, o.RequesterID)
	if errors.Is(err, slot.ErrSlotUnavailable) {
		// Booked by a concurrent or earlier run for the same requester is a replay.
		sl, err = e.slots.GetByID(ctx, *o.SlotID)
		if err != nil {
			return nil, false, err
		}
		if sl.Status != slot.StatusBooked || sl.BookedBy != o.RequesterID {
			e.escalate(ctx, o, "paid order %d lost its slot (requester %s, amount %d); refund manually")
			return nil, false, ErrSlotTaken
		}
	} else if err != nil {
		return nil, false, err
	}

	existing, err := e.bookings.FindActiveBySlot(ctx, sl.ID)
	switch {
	case err == nil:
		if existing.OrderCode != nil && *existing.OrderCode == o.OrderCode {
			return existing, false, nil
		}
		// The requester booked the slot unpaid and then paid for the slot itself.
		if existing.RequesterID == o.RequesterID && !existing.Paid() && existing.OrderCode == nil {
			b, err := e.bookings.MarkPaid(ctx, existing.ID, o.OrderCode)
			if err != nil {
				return nil, false, err
			}
			return b, false, nil
		}
		e.escalate(ctx, o, "slot already paid by another order, order %d (requester %s, amount %d); refund manually")
		return nil, false, ErrDoublePayment
	case !errors.Is(err, booking.ErrNotFound):
		return nil, false, err
	}

	b, err := e.bookings.CreatePaid(ctx, booking.PaidRequest{
		OrderCode:   o.OrderCode,
		RequesterID: o.RequesterID,
		Slot:        sl,
	})
	if errors.Is(err, booking.ErrDuplicate) || errors.Is(err, booking.ErrTimeConflict) {
		// A concurrent run may have inserted first; either constraint can report it.
		if winner, gerr := e.bookings.GetByOrderCode(ctx, o.OrderCode); gerr == nil {
			return winner, false, nil
		}
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// escalate logs at Error and alerts admins about money taken for an order that
// cannot be settled. format receives the order code, requester and amount.
func (e *Engine) escalate(ctx context.Context, o *payment.Order, format string) {
	text := fmt.Sprintf(format, o.OrderCode, o.RequesterID, o.Amount)
	e.log.Error("paid order needs manual settlement",
		logger.Int64("order_code", o.OrderCode),
		logger.String("status", string(o.Status)),
		logger.String("reason", text),
	)
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Alert(context.WithoutCancel(ctx), text); err != nil {
		e.log.Warn("failed to alert admins", logger.String("error", err.Error()))
	}
}

func (e *Engine) notify(ctx context.Context, o *payment.Order, b *booking.Booking) {
	msg := notify.Message{
		BookingID:     b.ID,
		OrderCode:     o.OrderCode,
		ProviderID:    b.ProviderID,
		RequesterID:   b.RequesterID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		Amount:        o.Amount,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
	}
	if err := e.notifier.Notify(ctx, notify.EventPaymentSucceeded, msg); err != nil {
		e.log.Warn("failed to dispatch notification",
			logger.String("event", string(notify.EventPaymentSucceeded)),
			logger.String("booking_id", b.ID),
			logger.String("error", err.Error()),
		)
	}
}
