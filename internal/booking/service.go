package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wb-go/wbf/logger"

	"github.com/hien22444/WDP-LM-sub000/internal/escrow"
	"github.com/hien22444/WDP-LM-sub000/internal/notify"
	"github.com/hien22444/WDP-LM-sub000/internal/provider"
	"github.com/hien22444/WDP-LM-sub000/internal/session"
	"github.com/hien22444/WDP-LM-sub000/internal/slot"
)

// SlotRegistry is the part of the slot service bookings depend on.
type SlotRegistry interface {
	GetByID(ctx context.Context, id string) (*slot.Slot, error)
	Book(ctx context.Context, slotID, requesterID string) (*slot.Slot, error)
	Unbook(ctx context.Context, slotID, requesterID string) error
	HasOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error)
}

// Ledger is the escrow ledger. Bookings never write escrow amounts themselves.
type Ledger interface {
	Open(ctx context.Context, bookingID, providerID string, price int64) (*escrow.Account, error)
	Hold(ctx context.Context, bookingID string, paid bool) (*escrow.Account, error)
	Release(ctx context.Context, bookingID, initiator string) (int64, error)
	RefundOnce(ctx context.Context, bookingID string, amount int64, reason string) (int64, error)
	ReleaseFee(ctx context.Context, bookingID, reason string) (int64, error)
	Void(ctx context.Context, bookingID, reason string) (*escrow.Account, error)
	OpenDispute(ctx context.Context, bookingID, reason, initiator string) (*escrow.Account, error)
	ClearDispute(ctx context.Context, bookingID, actor string) (*escrow.Account, error)
	Account(ctx context.Context, bookingID string) (*escrow.Account, error)
	Entries(ctx context.Context, bookingID string) ([]escrow.Entry, error)
}

// EscrowStatement is the escrow account of a booking with its journal, oldest first.
type EscrowStatement struct {
	Account *escrow.Account
	Entries []escrow.Entry
}

// Sessions is the room registry of accepted bookings.
type Sessions interface {
	Open(bookingID string, participants []string, start, end time.Time) *session.Session
	Join(id, userID string) (*session.Session, error)
	Close(bookingID string)
}

type Policy struct {
	Prices     slot.PriceBounds
	MaxPending int
}

type CreateRequest struct {
	RequesterID string
	SlotID      string // when set, window, provider, mode and price come from the slot

	ProviderID string
	StartTime  time.Time
	EndTime    time.Time
	Mode       provider.Mode
	Price      int64
}

// PaidRequest creates a booking for an order that was already paid for a slot.
type PaidRequest struct {
	OrderCode   int64
	RequesterID string
	Slot        *slot.Slot
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Booking, error)
	CreatePaid(ctx context.Context, req PaidRequest) (*Booking, error)
	MarkPaid(ctx context.Context, bookingID string, orderCode int64) (*Booking, error)

	GetByID(ctx context.Context, id string) (*Booking, error)
	GetByOrderCode(ctx context.Context, orderCode int64) (*Booking, error)
	FindActiveBySlot(ctx context.Context, slotID string) (*Booking, error)
	List(ctx context.Context, filter Filter) ([]*Booking, int, error)

	Decide(ctx context.Context, id, actorID string, decision Decision) (*Booking, error)
	Sign(ctx context.Context, id, actorID, signature string) (*Booking, error)
	Cancel(ctx context.Context, id, actorID, reason string) (*Booking, error)
	Complete(ctx context.Context, id, actorID string) (*Booking, error)
	Dispute(ctx context.Context, id, actorID, reason string) (*Booking, error)
	// Resolve settles a disputed booking. Callers must hold the admin capability.
	Resolve(ctx context.Context, id, adminID string, outcome Status) (*Booking, error)
	JoinSession(ctx context.Context, id, actorID string) (*session.Session, error)
	EscrowStatement(ctx context.Context, id string) (*EscrowStatement, error)

	// Time-driven sweeps. Each is idempotent and safe to run from several instances.
	Progress(ctx context.Context) (int, error)
	ExpireUndecided(ctx context.Context) (int, error)
	Remind(ctx context.Context) (int, error)
	ReleaseCompleted(ctx context.Context) (int, error)
	SettleCancelled(ctx context.Context) (int, error)
}

type service struct {
	repo      Repository
	slots     SlotRegistry
	providers provider.Directory
	ledger    Ledger
	sessions  Sessions
	notifier  notify.Dispatcher
	policy    Policy
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
	slots SlotRegistry,
	providers provider.Directory,
	ledger Ledger,
	sessions Sessions,
	notifier notify.Dispatcher,
	policy Policy,
	log logger.Logger,
	opts ...Option,
) Service {
	s := &service{
		repo:      repo,
		slots:     slots,
		providers: providers,
		ledger:    ledger,
		sessions:  sessions,
		notifier:  notifier,
		policy:    policy,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	b := &Booking{
		RequesterID:   req.RequesterID,
		Status:        StatusPending,
		PaymentStatus: PaymentNone,
	}

	// 1. Resolve the window
	if req.SlotID != "" {
		sl, err := s.slots.GetByID(ctx, req.SlotID)
		if err != nil {
			return nil, err
		}
		if sl.Status != slot.StatusOpen {
			return nil, slot.ErrSlotUnavailable
		}
		fromSlot(b, sl)
	} else {
		b.ProviderID = req.ProviderID
		b.StartTime = req.StartTime.UTC()
		b.EndTime = req.EndTime.UTC()
		b.Mode = req.Mode
		b.Price = req.Price
	}

	// 2. Validate
	if err := s.validate(ctx, b); err != nil {
		return nil, err
	}
	if b.SlotID == nil {
		busy, err := s.slots.HasOverlap(ctx, b.ProviderID, b.StartTime, b.EndTime)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, ErrTimeConflict
		}
	}

	// 3. Backpressure; checked again atomically on insert
	pending, err := s.repo.CountPending(ctx, b.RequesterID)
	if err != nil {
		return nil, err
	}
	if pending >= s.policy.MaxPending {
		return nil, ErrTooManyPending
	}

	// 4. Consume the slot, then record the booking
	if b.SlotID != nil {
		if _, err := s.slots.Book(ctx, *b.SlotID, b.RequesterID); err != nil {
			return nil, err
		}
	}
	if err := s.insert(ctx, b, s.policy.MaxPending); err != nil {
		if b.SlotID != nil {
			if uerr := s.slots.Unbook(ctx, *b.SlotID, b.RequesterID); uerr != nil {
				s.log.Error("failed to return slot after booking insert failed",
					logger.String("slot_id", *b.SlotID),
					logger.String("error", uerr.Error()),
				)
			}
		}
		return nil, err
	}

	s.notify(ctx, notify.EventBookingCreated, b, 0)
	return b, nil
}

func (s *service) CreatePaid(ctx context.Context, req PaidRequest) (*Booking, error) {
	if req.Slot == nil {
		return nil, fmt.Errorf("order %d: paid booking requires a slot", req.OrderCode)
	}

	code := req.OrderCode
	b := &Booking{
		OrderCode:     &code,
		RequesterID:   req.RequesterID,
		Status:        StatusPending,
		PaymentStatus: PaymentPaid,
	}
	fromSlot(b, req.Slot)

	if err := s.insert(ctx, b, 0); err != nil {
		return nil, err
	}

	s.notify(ctx, notify.EventBookingCreated, b, 0)
	return b, nil
}

func (s *service) MarkPaid(ctx context.Context, bookingID string, orderCode int64) (*Booking, error) {
	ok, err := s.repo.MarkPaid(ctx, bookingID, orderCode)
	if err != nil {
		return nil, err
	}

	b, err := s.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.log.Info("booking paid",
			logger.String("booking_id", b.ID),
			logger.Int64("order_code", orderCode),
		)
		return b, nil
	}

	// Replay of the same order is fine; anything else is a real conflict.
	if b.Paid() && b.OrderCode != nil && *b.OrderCode == orderCode {
		return b, nil
	}
	if b.Paid() {
		return nil, ErrAlreadyPaid
	}
	return nil, ErrInvalidTransition.WithDetail("only pending bookings can be paid")
}

func (s *service) GetByID(ctx context.Context, id string) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return b, s.withEscrow(ctx, b)
}

func (s *service) GetByOrderCode(ctx context.Context, orderCode int64) (*Booking, error) {
	return s.repo.GetByOrderCode(ctx, orderCode)
}

func (s *service) FindActiveBySlot(ctx context.Context, slotID string) (*Booking, error) {
	return s.repo.FindActiveBySlot(ctx, slotID)
}

func (s *service) List(ctx context.Context, filter Filter) ([]*Booking, int, error) {
	if filter.Status != "" && !Status(filter.Status).Valid() {
		return nil, 0, ErrInvalidStatusParam
	}
	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for _, b := range bookings {
		if err := s.withEscrow(ctx, b); err != nil {
			return nil, 0, err
		}
	}
	return bookings, total, nil
}

func (s *service) Decide(ctx context.Context, id, actorID string, decision Decision) (*Booking, error) {
	if decision != DecisionAccept && decision != DecisionReject {
		return nil, ErrInvalidDecision
	}

	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.ProviderID != actorID {
		return nil, ErrPermissionDenied
	}
	if b.Status != StatusPending {
		return nil, ErrInvalidTransition.WithDetail(fmt.Sprintf("booking is %s", b.Status))
	}
	// Guard against last-minute flips
	if s.now().After(b.StartTime.Add(-DecisionLead)) {
		return nil, ErrDecisionWindowClosed
	}

	if decision == DecisionAccept {
		return s.accept(ctx, b)
	}
	if err := s.reject(ctx, b, "rejected by provider"); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, b.ID)
}

func (s *service) accept(ctx context.Context, b *Booking) (*Booking, error) {
	if !b.Paid() {
		return nil, ErrPaymentRequired
	}

	if err := s.transition(ctx, b, StatusAccepted, Patch{ContractNumber: s.contractNumber(b)}); err != nil {
		return nil, err
	}
	if err := s.hold(ctx, b); err != nil {
		s.revert(ctx, b, StatusPending)
		return nil, err
	}

	sess := s.sessions.Open(b.ID, []string{b.RequesterID, b.ProviderID}, b.StartTime, b.EndTime)
	if err := s.repo.SetSessionID(ctx, b.ID, sess.ID); err != nil {
		s.log.Warn("failed to store session id",
			logger.String("booking_id", b.ID),
			logger.String("error", err.Error()),
		)
	}
	b.SessionID = sess.ID

	s.notify(ctx, notify.EventBookingDecided, b, 0)
	return s.GetByID(ctx, b.ID)
}

func (s *service) hold(ctx context.Context, b *Booking) error {
	if _, err := s.ledger.Open(ctx, b.ID, b.ProviderID, b.Price); err != nil {
		return err
	}
	_, err := s.ledger.Hold(ctx, b.ID, b.Paid())
	return err
}

// reject ends a pending booking and voids its payment, if any.
func (s *service) reject(ctx context.Context, b *Booking, reason string) error {
	if err := s.transition(ctx, b, StatusRejected, Patch{CancelReason: reason, CancelledAt: s.now()}); err != nil {
		return err
	}

	refunded, err := s.settleCancellation(ctx, b, reason)
	if err != nil {
		return err
	}
	if refunded > 0 {
		s.notify(ctx, notify.EventEscrowRefunded, b, refunded)
	}
	s.notify(ctx, notify.EventBookingDecided, b, 0)
	return nil
}

func (s *service) void(ctx context.Context, b *Booking, reason string) error {
	if _, err := s.ledger.Open(ctx, b.ID, b.ProviderID, b.Price); err != nil {
		return err
	}
	if _, err := s.ledger.Void(ctx, b.ID, reason); err != nil {
		s.log.Error("failed to void payment",
			logger.String("booking_id", b.ID),
			logger.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (s *service) Sign(ctx context.Context, id, actorID, signature string) (*Booking, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, ErrInvalidSignature
	}

	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var party Party
	switch actorID {
	case b.RequesterID:
		party = PartyRequester
	case b.ProviderID:
		party = PartyProvider
	default:
		return nil, ErrPermissionDenied
	}

	ok, err := s.repo.SetSignature(ctx, b.ID, party, signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition.WithDetail("contracts can only be signed while pending or accepted")
	}
	return s.GetByID(ctx, b.ID)
}

func (s *service) Cancel(ctx context.Context, id, actorID, reason string) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actorID) {
		return nil, ErrPermissionDenied
	}
	if b.Status != StatusPending && b.Status != StatusAccepted {
		return nil, ErrInvalidTransition.WithDetail(fmt.Sprintf("booking is %s", b.Status))
	}
	if reason == "" {
		reason = "cancelled by " + actorID
	}

	if err := s.transition(ctx, b, StatusCancelled, Patch{CancelReason: reason, CancelledAt: s.now()}); err != nil {
		return nil, err
	}
	s.sessions.Close(b.ID)

	refunded, err := s.settleCancellation(ctx, b, reason)
	if err != nil {
		// SettleCancelled retries from the ledger state
		s.log.Error("failed to settle cancelled booking",
			logger.String("booking_id", b.ID),
			logger.String("error", err.Error()),
		)
		return nil, err
	}
	if refunded > 0 {
		s.notify(ctx, notify.EventEscrowRefunded, b, refunded)
	}
	return s.GetByID(ctx, b.ID)
}

// settleCancellation moves the funds of a cancelled or rejected booking and returns the
// refunded amount. Held funds are refunded in full unless the cancellation was late,
// in which case half is refunded and the rest goes to the provider as a fee. A paid
// booking whose funds were never held is voided. Every step is derived from the
// ledger state, so calling it again after a partial failure finishes the job.
func (s *service) settleCancellation(ctx context.Context, b *Booking, reason string) (int64, error) {
	acct, err := s.ledger.Account(ctx, b.ID)
	if err != nil && !errors.Is(err, escrow.ErrNotFound) {
		return 0, err
	}

	if acct == nil || (acct.Held == 0 && acct.Released == 0 && acct.Refunded == 0) {
		if !b.Paid() {
			return 0, nil
		}
		if err := s.void(ctx, b, reason); err != nil {
			if errors.Is(err, escrow.ErrAlreadySettled) {
				return 0, nil
			}
			return 0, err
		}
		return b.Price, nil
	}
	if acct.Held == 0 {
		return 0, nil
	}

	refund := acct.Price
	if lateCancellation(b) {
		refund = acct.Price / 2
	}
	refunded, err := s.ledger.RefundOnce(ctx, b.ID, refund, reason)
	if err != nil {
		return 0, err
	}
	if refund < acct.Price {
		if _, err := s.ledger.ReleaseFee(ctx, b.ID, "late cancellation fee"); err != nil && !errors.Is(err, escrow.ErrNotHeld) {
			return refunded, err
		}
	}
	return refunded, nil
}

// lateCancellation reports whether the requester forfeits half of the price: the
// booking was cancelled with less than FullRefundLead notice. Dispute resolutions
// always refund in full.
func lateCancellation(b *Booking) bool {
	if b.Status != StatusCancelled || b.DisputeReason != "" || b.CancelledAt == nil {
		return false
	}
	return b.StartTime.Sub(*b.CancelledAt) < FullRefundLead
}

func (s *service) Complete(ctx context.Context, id, actorID string) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actorID) {
		return nil, ErrPermissionDenied
	}
	if err := s.complete(ctx, b, actorID); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, b.ID)
}

// complete moves the booking to completed and releases escrow. Completing a completed
// booking only retries the release, which is itself idempotent.
func (s *service) complete(ctx context.Context, b *Booking, actorID string) error {
	switch b.Status {
	case StatusCompleted:
	case StatusAccepted, StatusInProgress:
		if err := s.transition(ctx, b, StatusCompleted, Patch{}); err != nil {
			return err
		}
	default:
		return ErrInvalidTransition.WithDetail(fmt.Sprintf("booking is %s", b.Status))
	}

	released, err := s.ledger.Release(ctx, b.ID, actorID)
	if err != nil {
		s.log.Error("failed to release escrow",
			logger.String("booking_id", b.ID),
			logger.String("error", err.Error()),
		)
		return err
	}
	if released > 0 {
		s.notify(ctx, notify.EventEscrowReleased, b, released)
	}
	return nil
}

func (s *service) Dispute(ctx context.Context, id, actorID, reason string) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actorID) {
		return nil, ErrPermissionDenied
	}
	if b.Status != StatusAccepted {
		return nil, ErrInvalidTransition.WithDetail("only accepted bookings can be disputed")
	}

	if err := s.transition(ctx, b, StatusDisputed, Patch{DisputeReason: reason}); err != nil {
		return nil, err
	}
	if _, err := s.ledger.OpenDispute(ctx, b.ID, reason, actorID); err != nil {
		s.revert(ctx, b, StatusAccepted)
		return nil, err
	}
	return s.GetByID(ctx, b.ID)
}

func (s *service) Resolve(ctx context.Context, id, adminID string, outcome Status) (*Booking, error) {
	if outcome != StatusCompleted && outcome != StatusCancelled {
		return nil, ErrInvalidOutcome
	}

	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusDisputed {
		return nil, ErrInvalidTransition.WithDetail("only disputed bookings can be resolved")
	}

	if _, err := s.ledger.ClearDispute(ctx, b.ID, adminID); err != nil && !errors.Is(err, escrow.ErrNotFrozen) {
		return nil, err
	}
	patch := Patch{}
	if outcome == StatusCancelled {
		patch.CancelReason = "dispute resolved by administrator"
		patch.CancelledAt = s.now()
	}
	if err := s.transition(ctx, b, outcome, patch); err != nil {
		return nil, err
	}
	s.sessions.Close(b.ID)

	if outcome == StatusCompleted {
		if err := s.complete(ctx, b, adminID); err != nil {
			return nil, err
		}
		return s.GetByID(ctx, b.ID)
	}

	refunded, err := s.settleCancellation(ctx, b, patch.CancelReason)
	if err != nil {
		return nil, err
	}
	if refunded > 0 {
		s.notify(ctx, notify.EventEscrowRefunded, b, refunded)
	}
	return s.GetByID(ctx, b.ID)
}

func (s *service) JoinSession(ctx context.Context, id, actorID string) (*session.Session, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actorID) {
		return nil, ErrPermissionDenied
	}
	if b.Status != StatusAccepted && b.Status != StatusInProgress {
		return nil, ErrNoSession
	}

	if b.SessionID != "" {
		sess, err := s.sessions.Join(b.SessionID, actorID)
		if !errors.Is(err, session.ErrNotFound) {
			return sess, err
		}
	}

	// Rooms live in process memory; recreate one lost to a restart or another instance.
	sess := s.sessions.Open(b.ID, []string{b.RequesterID, b.ProviderID}, b.StartTime, b.EndTime)
	if err := s.repo.SetSessionID(ctx, b.ID, sess.ID); err != nil {
		return nil, err
	}
	return s.sessions.Join(sess.ID, actorID)
}

// transition applies a state-machine move with a compare-and-swap on the current status.
func (s *service) transition(ctx context.Context, b *Booking, to Status, patch Patch) error {
	if !b.Status.CanTransition(to) {
		return ErrInvalidTransition.WithDetail(fmt.Sprintf("%s -> %s", b.Status, to))
	}

	ok, err := s.repo.CompareAndSwapStatus(ctx, b.ID, b.Status, to, patch)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition.WithDetail("booking was changed concurrently")
	}

	s.log.Info("booking transitioned",
		logger.String("booking_id", b.ID),
		logger.String("from", string(b.Status)),
		logger.String("to", string(to)),
	)
	b.Status = to
	if patch.CancelReason != "" {
		b.CancelReason = patch.CancelReason
	}
	if patch.DisputeReason != "" {
		b.DisputeReason = patch.DisputeReason
	}
	if patch.ContractNumber != "" {
		b.ContractNumber = patch.ContractNumber
	}
	if !patch.CancelledAt.IsZero() {
		at := patch.CancelledAt
		b.CancelledAt = &at
	}
	return nil
}

// revert undoes a transition whose escrow side effect failed.
func (s *service) revert(ctx context.Context, b *Booking, to Status) {
	ok, err := s.repo.CompareAndSwapStatus(ctx, b.ID, b.Status, to, Patch{})
	if err != nil || !ok {
		s.log.Error("failed to revert booking status",
			logger.String("booking_id", b.ID),
			logger.String("from", string(b.Status)),
			logger.String("to", string(to)),
		)
		return
	}
	b.Status = to
}

func (s *service) validate(ctx context.Context, b *Booking) error {
	if b.RequesterID == b.ProviderID {
		return ErrSelfBooking
	}

	now := s.now()
	if !b.StartTime.After(now) {
		return ErrStartTimePast
	}
	if b.StartTime.After(now.AddDate(0, MaxAdvance, 0)) {
		return ErrStartTooFar
	}
	if err := slot.ValidateWindow(b.StartTime, b.EndTime); err != nil {
		return err
	}
	if !b.Mode.Valid() {
		return slot.ErrInvalidMode
	}
	if err := s.policy.Prices.Check(b.Price); err != nil {
		return err
	}

	p, err := s.providers.GetByID(ctx, b.ProviderID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return slot.ErrProviderNotFound
		}
		return err
	}
	if !p.Supports(b.Mode) {
		return slot.ErrModeUnsupported
	}

	busy, err := s.repo.HasActiveOverlap(ctx, b.ProviderID, b.StartTime, b.EndTime)
	if err != nil {
		return err
	}
	if busy {
		return ErrTimeConflict
	}
	return nil
}

// insert stores the booking and opens its escrow account. A missing account is
// reopened lazily before any escrow mutation, so a failure there is not fatal.
// insert records the booking and opens its escrow account. A positive maxPending caps
// the requester's pending bookings.
func (s *service) insert(ctx context.Context, b *Booking, maxPending int) error {
	var err error
	if maxPending > 0 {
		err = s.repo.CreateWithinLimit(ctx, b, maxPending)
	} else {
		err = s.repo.Create(ctx, b)
	}
	if err != nil {
		return err
	}
	s.log.Info("booking created",
		logger.String("booking_id", b.ID),
		logger.String("requester_id", b.RequesterID),
		logger.String("payment_status", string(b.PaymentStatus)),
	)

	if _, err := s.ledger.Open(ctx, b.ID, b.ProviderID, b.Price); err != nil {
		s.log.Warn("failed to open escrow account",
			logger.String("booking_id", b.ID),
			logger.String("error", err.Error()),
		)
	}
	return nil
}

func (s *service) EscrowStatement(ctx context.Context, id string) (*EscrowStatement, error) {
	acct, err := s.ledger.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EscrowStatement{Account: acct, Entries: entries}, nil
}

func (s *service) withEscrow(ctx context.Context, b *Booking) error {
	acct, err := s.ledger.Account(ctx, b.ID)
	if errors.Is(err, escrow.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	b.EscrowAmount = acct.Held
	return nil
}

func (s *service) notify(ctx context.Context, event notify.Event, b *Booking, amount int64) {
	msg := notify.Message{
		BookingID:     b.ID,
		ProviderID:    b.ProviderID,
		RequesterID:   b.RequesterID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		Amount:        amount,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
		Reason:        b.CancelReason,
	}
	if b.OrderCode != nil {
		msg.OrderCode = *b.OrderCode
	}
	if err := s.notifier.Notify(ctx, event, msg); err != nil {
		s.log.Warn("failed to dispatch notification",
			logger.String("event", string(event)),
			logger.String("booking_id", b.ID),
			logger.String("error", err.Error()),
		)
	}
}

func (s *service) contractNumber(b *Booking) string {
	id := strings.ReplaceAll(b.ID, "-", "")
	return fmt.Sprintf("TB-%s-%s", s.now().UTC().Format("20060102"), strings.ToUpper(id[:min(8, len(id))]))
}

func fromSlot(b *Booking, sl *slot.Slot) {
	slotID := sl.ID
	b.SlotID = &slotID
	b.ProviderID = sl.ProviderID
	b.StartTime = sl.StartTime
	b.EndTime = sl.EndTime
	b.Mode = sl.Mode
	b.Price = sl.Price
}
