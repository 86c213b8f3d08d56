package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wb-go/wbf/logger"

	"github.com/hien22444/WDP-LM-sub000/internal/booking"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/apperror"
	"github.com/hien22444/WDP-LM-sub000/internal/slot"
)

const (
	maxCodeAttempts = 5
	staleBatch      = 200
)

// Reconciler turns a succeeded order into exactly one booking.
type Reconciler interface {
	EnsureBookingFromPaidOrder(ctx context.Context, orderCode int64) (Settlement, error)
}

type SlotLookup interface {
	GetByID(ctx context.Context, id string) (*slot.Slot, error)
}

type BookingLookup interface {
	GetByID(ctx context.Context, id string) (*booking.Booking, error)
}

type CreateOrderRequest struct {
	RequesterID string
	// Exactly one of SlotID and BookingID is set.
	SlotID      string
	BookingID   string
	Amount      int64 // optional; must match the price when set
	Description string
	ReturnURL   string
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderCode int64) (*Order, error)
	// HandleWebhook verifies and applies a gateway push. Malformed payloads are
	// logged and acknowledged; only infrastructure failures return an error.
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	VerifyOrder(ctx context.Context, orderCode int64) (*Order, error)
	ExpireStale(ctx context.Context) (int, error)
}

type Config struct {
	WebhookSecret string
	ReturnURL     string
	OrderTTL      time.Duration
}

type service struct {
	repo       Repository
	gateway    Gateway
	reconciler Reconciler
	slots      SlotLookup
	bookings   BookingLookup
	cfg        Config
	log        logger.Logger
	now        func() time.Time
	lastCode   atomic.Int64
}

type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(
	repo Repository,
	gateway Gateway,
	reconciler Reconciler,
	slots SlotLookup,
	bookings BookingLookup,
	cfg Config,
	log logger.Logger,
	opts ...Option,
) Service {
	s := &service{
		repo:       repo,
		gateway:    gateway,
		reconciler: reconciler,
		slots:      slots,
		bookings:   bookings,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextCode returns a process-wide unique, strictly increasing order code seeded from
// the wall clock in milliseconds, so codes from a restarted process keep increasing.
func (s *service) nextCode() int64 {
	for {
		last := s.lastCode.Load()
		next := max(last+1, s.now().UnixMilli())
		if s.lastCode.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (s *service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if (req.SlotID == "") == (req.BookingID == "") {
		return nil, ErrInvalidTarget
	}

	o := &Order{
		RequesterID: req.RequesterID,
		Description: req.Description,
		Status:      StatusPending,
	}
	price, err := s.target(ctx, req, o)
	if err != nil {
		return nil, err
	}
	if req.Amount != 0 && req.Amount != price {
		return nil, ErrInvalidAmount
	}
	o.Amount = price

	// 1. Persist before calling out
	for attempt := 1; ; attempt++ {
		o.OrderCode = s.nextCode()
		err = s.repo.Create(ctx, o)
		if err == nil {
			break
		}
		// Another instance took the code
		if !errors.Is(err, errDuplicateCode) || attempt == maxCodeAttempts {
			return nil, err
		}
	}

	// 2. Gateway
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}
	checkout, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		OrderCode:   o.OrderCode,
		Amount:      o.Amount,
		Description: o.Description,
		ReturnURL:   returnURL,
	})
	if err != nil {
		s.log.Warn("gateway rejected order",
			logger.Int64("order_code", o.OrderCode),
			logger.String("error", err.Error()),
		)
		if _, cerr := s.repo.CompareAndSwapStatus(context.WithoutCancel(ctx), o.OrderCode, StatusPending, StatusCancelled); cerr != nil {
			s.log.Error("failed to cancel order after gateway failure",
				logger.Int64("order_code", o.OrderCode),
				logger.String("error", cerr.Error()),
			)
		}
		return nil, ErrGateway
	}

	if err := s.repo.SetCheckout(ctx, o.OrderCode, checkout.Ref, checkout.URL); err != nil {
		return nil, err
	}
	o.GatewayRef, o.CheckoutURL = checkout.Ref, checkout.URL

	s.log.Info("payment order created",
		logger.Int64("order_code", o.OrderCode),
		logger.String("requester_id", o.RequesterID),
		logger.Int64("amount", o.Amount),
	)
	return o, nil
}

// target validates what the order pays for and returns its price.
func (s *service) target(ctx context.Context, req CreateOrderRequest, o *Order) (int64, error) {
	if req.SlotID != "" {
		sl, err := s.slots.GetByID(ctx, req.SlotID)
		if err != nil {
			return 0, err
		}
		if sl.Status != slot.StatusOpen {
			return 0, slot.ErrSlotUnavailable
		}
		if sl.ProviderID == req.RequesterID {
			return 0, booking.ErrSelfBooking
		}
		if !sl.StartTime.After(s.now()) {
			return 0, ErrNotPayable.WithDetail("slot has already started")
		}
		o.SlotID = &sl.ID
		return sl.Price, nil
	}

	b, err := s.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return 0, err
	}
	if b.RequesterID != req.RequesterID {
		return 0, ErrPermissionDenied
	}
	if b.Status != booking.StatusPending || b.Paid() {
		return 0, ErrNotPayable.WithDetail("only pending unpaid bookings can be paid")
	}
	o.BookingID = &b.ID
	return b.Price, nil
}

func (s *service) GetOrder(ctx context.Context, orderCode int64) (*Order, error) {
	return s.repo.Get(ctx, orderCode)
}

func (s *service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if s.cfg.WebhookSecret != "" && !validSignature(s.cfg.WebhookSecret, body, signature) {
		return ErrInvalidSignature
	}

	sig, err := ParseWebhook(body)
	if err != nil {
		s.log.Warn("malformed webhook acknowledged", logger.String("error", err.Error()))
		return nil
	}

	o, err := s.repo.Get(ctx, sig.OrderCode)
	if errors.Is(err, ErrNotFound) {
		s.log.Warn("webhook for unknown order acknowledged", logger.Int64("order_code", sig.OrderCode))
		return nil
	}
	if err != nil {
		return err
	}

	outcome := Classify(sig.Code)
	s.log.Info("webhook received",
		logger.Int64("order_code", o.OrderCode),
		logger.String("code", sig.Code),
		logger.String("outcome", outcome.String()),
	)
	if err := s.repo.RecordSignal(ctx, o.OrderCode, body, outcome == OutcomeSucceeded); err != nil {
		return err
	}
	return s.apply(ctx, o, outcome)
}

// apply drives the order toward the outcome. Business failures are logged rather than
// returned so the gateway does not retry a signal that can never succeed.
func (s *service) apply(ctx context.Context, o *Order, outcome Outcome) error {
	switch outcome {
	case OutcomeSucceeded:
		settled, err := s.reconciler.EnsureBookingFromPaidOrder(ctx, o.OrderCode)
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			s.log.Error("paid order could not be reconciled",
				logger.Int64("order_code", o.OrderCode),
				logger.String("error", err.Error()),
			)
			return nil
		}
		if err != nil {
			return err
		}
		if settled.Replayed {
			s.log.Debug("payment signal replayed", logger.Int64("order_code", o.OrderCode))
		}

	case OutcomeFailed:
		ok, err := s.repo.CompareAndSwapStatus(ctx, o.OrderCode, StatusPending, StatusCancelled)
		if err != nil {
			return err
		}
		if ok {
			s.log.Info("payment order cancelled by gateway", logger.Int64("order_code", o.OrderCode))
		}
	}
	return nil
}

func (s *service) VerifyOrder(ctx context.Context, orderCode int64) (*Order, error) {
	o, err := s.repo.Get(ctx, orderCode)
	if err != nil {
		return nil, err
	}

	code, err := s.gateway.QueryStatus(ctx, o.OrderCode, o.GatewayRef)
	if err != nil {
		s.log.Warn("gateway status query failed",
			logger.Int64("order_code", o.OrderCode),
			logger.String("error", err.Error()),
		)
		// Offline reconciliation from a success signal we already stored
		if !o.SignalSucceeded && o.Status != StatusPaid {
			return nil, ErrGateway
		}
		if err := s.apply(ctx, o, OutcomeSucceeded); err != nil {
			return nil, err
		}
		return s.repo.Get(ctx, orderCode)
	}

	outcome := Classify(code)
	if outcome == OutcomeSucceeded {
		raw, _ := json.Marshal(map[string]any{"orderCode": o.OrderCode, "statusCode": code, "source": "verify"})
		if err := s.repo.RecordSignal(ctx, o.OrderCode, raw, true); err != nil {
			return nil, err
		}
	}
	// A live pending answer does not override a stored success
	if outcome == OutcomePending && (o.SignalSucceeded || o.Status == StatusPaid) {
		outcome = OutcomeSucceeded
	}
	if err := s.apply(ctx, o, outcome); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, orderCode)
}

func (s *service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStale(ctx, s.now().Add(-s.cfg.OrderTTL), staleBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range stale {
		// A success we saw but could not reconcile must not be cancelled
		if o.SignalSucceeded {
			continue
		}
		ok, err := s.repo.CompareAndSwapStatus(ctx, o.OrderCode, StatusPending, StatusCancelled)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info("stale payment orders expired", logger.Int("count", expired))
	}
	return expired, nil
}

func validSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(want, got)
}

// Sign computes the webhook signature header for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
