package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hien22444/WDP-LM-sub000/internal/escrow"
	"github.com/hien22444/WDP-LM-sub000/internal/notify"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/logging"
	"github.com/hien22444/WDP-LM-sub000/internal/provider"
	"github.com/hien22444/WDP-LM-sub000/internal/session"
	"github.com/hien22444/WDP-LM-sub000/internal/slot"
)

const (
	tutorID   = "11111111-1111-1111-1111-111111111111"
	offlineID = "44444444-4444-4444-4444-444444444444"
	studentA  = "22222222-2222-2222-2222-222222222222"
	studentB  = "33333333-3333-3333-3333-333333333333"
	outsider  = "55555555-5555-5555-5555-555555555555"

	price = int64(100_000)
)

var baseNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, event notify.Event, _ notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count(event notify.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type testEnv struct {
	svc    Service
	repo   *MemoryRepository
	slots  *slot.MemoryRepository
	ledger *escrow.Ledger
	sent   *recorder
	now    time.Time
}

// newTestEnv builds a service on memory repositories. wrap, when given, decorates
// the ledger the service sees; env.ledger stays the underlying one.
func newTestEnv(t *testing.T, wrap ...func(*escrow.Ledger) Ledger) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:  NewMemoryRepository(),
		slots: slot.NewMemoryRepository(),
		sent:  &recorder{},
		now:   baseNow,
	}
	clock := func() time.Time { return env.now }

	dir := provider.NewMemoryDirectory(
		&provider.Provider{ID: tutorID, Modes: []provider.Mode{provider.ModeOnline, provider.ModeOffline}},
		&provider.Provider{ID: offlineID, Modes: []provider.Mode{provider.ModeOffline}},
	)
	prices := slot.PriceBounds{Min: 10_000, Max: 10_000_000}
	slotSvc := slot.NewService(env.slots, dir, env.repo, prices, logging.Quiet(), slot.WithClock(clock))
	env.ledger = escrow.NewLedger(escrow.NewMemoryRepository(), 15, nil, logging.Quiet())
	var ledger Ledger = env.ledger
	for _, w := range wrap {
		ledger = w(env.ledger)
	}

	env.svc = NewService(env.repo, slotSvc, dir, ledger, session.NewRegistry(time.Hour), env.sent,
		Policy{Prices: prices, MaxPending: 5}, logging.Quiet(), WithClock(clock))
	return env
}

func (e *testEnv) openSlot(t *testing.T, start time.Time) *slot.Slot {
	t.Helper()
	sl := &slot.Slot{
		ProviderID: tutorID,
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		Mode:       provider.ModeOnline,
		Price:      price,
		Capacity:   1,
		Status:     slot.StatusOpen,
	}
	require.NoError(t, e.slots.Create(context.Background(), sl))
	return sl
}

// paidBooking creates a paid pending booking starting `lead` after the current clock.
func (e *testEnv) paidBooking(t *testing.T, lead time.Duration, orderCode int64) *Booking {
	t.Helper()
	sl := e.openSlot(t, e.now.Add(lead))
	b, err := e.svc.CreatePaid(context.Background(), PaidRequest{OrderCode: orderCode, RequesterID: studentA, Slot: sl})
	require.NoError(t, err)
	return b
}

func (e *testEnv) acceptedBooking(t *testing.T, lead time.Duration, orderCode int64) *Booking {
	t.Helper()
	b := e.paidBooking(t, lead, orderCode)
	b, err := e.svc.Decide(context.Background(), b.ID, tutorID, DecisionAccept)
	require.NoError(t, err)
	return b
}

func adhocRequest() CreateRequest {
	start := baseNow.Add(48 * time.Hour)
	return CreateRequest{
		RequesterID: studentA,
		ProviderID:  tutorID,
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Mode:        provider.ModeOnline,
		Price:       price,
	}
}

func TestCreateBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		env := newTestEnv(t)
		b, err := env.svc.Create(ctx, adhocRequest())
		require.NoError(t, err)
		assert.Equal(t, StatusPending, b.Status)
		assert.Equal(t, PaymentNone, b.PaymentStatus)
		assert.Equal(t, 1, env.sent.count(notify.EventBookingCreated))

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Zero(t, acct.Held)
	})

	t.Run("Validation", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*CreateRequest)
			want   error
		}{
			{"self booking", func(r *CreateRequest) { r.RequesterID = tutorID }, ErrSelfBooking},
			{"start in the past", func(r *CreateRequest) {
				r.StartTime = baseNow.Add(-time.Hour)
				r.EndTime = baseNow
			}, ErrStartTimePast},
			{"too far ahead", func(r *CreateRequest) {
				r.StartTime = baseNow.AddDate(0, 4, 0)
				r.EndTime = r.StartTime.Add(time.Hour)
			}, ErrStartTooFar},
			{"too short", func(r *CreateRequest) { r.EndTime = r.StartTime.Add(30 * time.Minute) }, slot.ErrInvalidDuration},
			{"too long", func(r *CreateRequest) { r.EndTime = r.StartTime.Add(9 * time.Hour) }, slot.ErrInvalidDuration},
			{"unknown mode", func(r *CreateRequest) { r.Mode = "hybrid" }, slot.ErrInvalidMode},
			{"price below minimum", func(r *CreateRequest) { r.Price = 500 }, slot.ErrInvalidPrice},
			{"unknown provider", func(r *CreateRequest) { r.ProviderID = outsider }, slot.ErrProviderNotFound},
			{"mode unsupported", func(r *CreateRequest) { r.ProviderID = offlineID }, slot.ErrModeUnsupported},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				env := newTestEnv(t)
				req := adhocRequest()
				tc.mutate(&req)
				_, err := env.svc.Create(ctx, req)
				assert.ErrorIs(t, err, tc.want)
			})
		}
	})

	t.Run("Provider busy", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Create(ctx, adhocRequest())
		require.NoError(t, err)

		req := adhocRequest()
		req.RequesterID = studentB
		req.StartTime = req.StartTime.Add(30 * time.Minute)
		req.EndTime = req.EndTime.Add(30 * time.Minute)
		_, err = env.svc.Create(ctx, req)
		assert.ErrorIs(t, err, ErrTimeConflict)
	})

	t.Run("Overlaps an open slot", func(t *testing.T) {
		env := newTestEnv(t)
		env.openSlot(t, baseNow.Add(48*time.Hour))
		_, err := env.svc.Create(ctx, adhocRequest())
		assert.ErrorIs(t, err, ErrTimeConflict)
	})

	t.Run("Pending limit", func(t *testing.T) {
		env := newTestEnv(t)
		for i := range 5 {
			req := adhocRequest()
			req.StartTime = req.StartTime.Add(time.Duration(i) * 2 * time.Hour)
			req.EndTime = req.StartTime.Add(time.Hour)
			_, err := env.svc.Create(ctx, req)
			require.NoError(t, err)
		}

		req := adhocRequest()
		req.StartTime = req.StartTime.Add(24 * time.Hour)
		req.EndTime = req.StartTime.Add(time.Hour)
		_, err := env.svc.Create(ctx, req)
		assert.ErrorIs(t, err, ErrTooManyPending)
	})

	t.Run("Pending limit holds under concurrent creates", func(t *testing.T) {
		env := newTestEnv(t)

		var created, limited atomic.Int32
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				req := adhocRequest()
				req.StartTime = req.StartTime.Add(time.Duration(i) * 24 * time.Hour)
				req.EndTime = req.StartTime.Add(time.Hour)
				_, err := env.svc.Create(ctx, req)
				switch {
				case err == nil:
					created.Add(1)
				case errors.Is(err, ErrTooManyPending):
					limited.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(5), created.Load())
		assert.Equal(t, int32(5), limited.Load())

		pending, err := env.repo.CountPending(ctx, studentA)
		require.NoError(t, err)
		assert.Equal(t, 5, pending)
	})
}

func TestCreateFromSlot(t *testing.T) {
	ctx := context.Background()

	t.Run("Consumes the slot", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.openSlot(t, baseNow.Add(48*time.Hour))

		b, err := env.svc.Create(ctx, CreateRequest{RequesterID: studentA, SlotID: sl.ID})
		require.NoError(t, err)
		require.NotNil(t, b.SlotID)
		assert.Equal(t, sl.ID, *b.SlotID)
		assert.Equal(t, sl.Price, b.Price)
		assert.Equal(t, tutorID, b.ProviderID)

		stored, err := env.slots.GetByID(ctx, sl.ID)
		require.NoError(t, err)
		assert.Equal(t, slot.StatusBooked, stored.Status)
		assert.Equal(t, studentA, stored.BookedBy)

		_, err = env.svc.Create(ctx, CreateRequest{RequesterID: studentB, SlotID: sl.ID})
		assert.ErrorIs(t, err, slot.ErrSlotUnavailable)

		found, err := env.svc.FindActiveBySlot(ctx, sl.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, found.ID)
	})

	t.Run("At most one active booking per slot", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.openSlot(t, baseNow.Add(48*time.Hour))

		var wg sync.WaitGroup
		var wins atomic.Int32
		for i := range 16 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := env.svc.Create(ctx, CreateRequest{RequesterID: fmt.Sprintf("student-%d", i), SlotID: sl.ID})
				if err == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		bookings, total, err := env.svc.List(ctx, Filter{Page: 1, PageSize: 20})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, bookings, 1)
	})
}

func TestCreatePaid(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	b := env.paidBooking(t, 48*time.Hour, 1001)
	assert.Equal(t, PaymentPaid, b.PaymentStatus)

	_, err := env.svc.CreatePaid(ctx, PaidRequest{OrderCode: 1001, RequesterID: studentA, Slot: env.openSlot(t, baseNow.Add(72*time.Hour))})
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := env.svc.GetByOrderCode(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	b, err := env.svc.Create(ctx, adhocRequest())
	require.NoError(t, err)

	paid, err := env.svc.MarkPaid(ctx, b.ID, 77)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)

	// Replay of the same order
	_, err = env.svc.MarkPaid(ctx, b.ID, 77)
	assert.NoError(t, err)

	_, err = env.svc.MarkPaid(ctx, b.ID, 78)
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("Accept holds escrow and opens a session", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 48*time.Hour, 1)

		assert.Equal(t, StatusAccepted, b.Status)
		assert.Equal(t, price, b.EscrowAmount)
		assert.True(t, strings.HasPrefix(b.ContractNumber, "TB-20260301-"))
		assert.NotEmpty(t, b.SessionID)
		assert.Equal(t, 1, env.sent.count(notify.EventBookingDecided))
	})

	t.Run("Unpaid booking cannot be accepted", func(t *testing.T) {
		env := newTestEnv(t)
		b, err := env.svc.Create(ctx, adhocRequest())
		require.NoError(t, err)

		_, err = env.svc.Decide(ctx, b.ID, tutorID, DecisionAccept)
		assert.ErrorIs(t, err, ErrPaymentRequired)

		stored, err := env.svc.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
	})

	t.Run("Only the provider decides", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.paidBooking(t, 48*time.Hour, 1)
		_, err := env.svc.Decide(ctx, b.ID, studentA, DecisionAccept)
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("Window closes two hours before start", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.paidBooking(t, 90*time.Minute, 1)
		_, err := env.svc.Decide(ctx, b.ID, tutorID, DecisionAccept)
		assert.ErrorIs(t, err, ErrDecisionWindowClosed)

		exact := env.paidBooking(t, 2*time.Hour+24*time.Hour, 2)
		env.now = env.now.Add(24 * time.Hour)
		_, err = env.svc.Decide(ctx, exact.ID, tutorID, DecisionAccept)
		assert.NoError(t, err)
	})

	t.Run("Reject voids a paid booking", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.paidBooking(t, 48*time.Hour, 1)

		rejected, err := env.svc.Decide(ctx, b.ID, tutorID, DecisionReject)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, rejected.Status)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, price, acct.Refunded)
		assert.True(t, acct.Settled())
		assert.Equal(t, 1, env.sent.count(notify.EventEscrowRefunded))
	})

	t.Run("Second decision is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 48*time.Hour, 1)
		_, err := env.svc.Decide(ctx, b.ID, tutorID, DecisionReject)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestCancelRefunds(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name         string
		lead         time.Duration
		wantRefund   int64
		wantReleased int64
	}{
		{"thirteen hours ahead", 13 * time.Hour, price, 0},
		{"exactly twelve hours ahead", 12 * time.Hour, price, 0},
		{"six hours ahead", 6 * time.Hour, price / 2, price / 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			b := env.acceptedBooking(t, tc.lead, 1)

			cancelled, err := env.svc.Cancel(ctx, b.ID, studentA, "")
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, cancelled.Status)
			assert.Zero(t, cancelled.EscrowAmount)

			acct, err := env.ledger.Account(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantRefund, acct.Refunded)
			assert.Equal(t, tc.wantReleased, acct.Released)
			assert.Equal(t, acct.Price, acct.Released+acct.Refunded)
		})
	}

	t.Run("Pending paid booking is voided", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.paidBooking(t, 48*time.Hour, 1)

		_, err := env.svc.Cancel(ctx, b.ID, studentA, "changed plans")
		require.NoError(t, err)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, price, acct.Refunded)
	})

	t.Run("Outsider cannot cancel", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.paidBooking(t, 48*time.Hour, 1)
		_, err := env.svc.Cancel(ctx, b.ID, outsider, "")
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("Cancelled booking frees the provider", func(t *testing.T) {
		env := newTestEnv(t)
		b, err := env.svc.Create(ctx, adhocRequest())
		require.NoError(t, err)
		_, err = env.svc.Cancel(ctx, b.ID, studentA, "")
		require.NoError(t, err)

		req := adhocRequest()
		req.RequesterID = studentB
		_, err = env.svc.Create(ctx, req)
		assert.NoError(t, err)
	})
}

var errLedgerDown = errors.New("ledger unavailable")

// flakyLedger fails the next N calls of each money-moving operation.
type flakyLedger struct {
	*escrow.Ledger
	failRefunds atomic.Int32
	failFees    atomic.Int32
	failVoids   atomic.Int32
}

func (f *flakyLedger) RefundOnce(ctx context.Context, bookingID string, amount int64, reason string) (int64, error) {
	if f.failRefunds.Add(-1) >= 0 {
		return 0, errLedgerDown
	}
	return f.Ledger.RefundOnce(ctx, bookingID, amount, reason)
}

func (f *flakyLedger) ReleaseFee(ctx context.Context, bookingID, reason string) (int64, error) {
	if f.failFees.Add(-1) >= 0 {
		return 0, errLedgerDown
	}
	return f.Ledger.ReleaseFee(ctx, bookingID, reason)
}

func (f *flakyLedger) Void(ctx context.Context, bookingID, reason string) (*escrow.Account, error) {
	if f.failVoids.Add(-1) >= 0 {
		return nil, errLedgerDown
	}
	return f.Ledger.Void(ctx, bookingID, reason)
}

func newFlakyEnv(t *testing.T) (*testEnv, *flakyLedger) {
	t.Helper()
	flaky := &flakyLedger{}
	env := newTestEnv(t, func(l *escrow.Ledger) Ledger {
		flaky.Ledger = l
		return flaky
	})
	return env, flaky
}

func TestCancelSettlementIsRetried(t *testing.T) {
	ctx := context.Background()

	t.Run("Refund failure", func(t *testing.T) {
		env, flaky := newFlakyEnv(t)
		b := env.acceptedBooking(t, 48*time.Hour, 1)
		flaky.failRefunds.Store(1)

		_, err := env.svc.Cancel(ctx, b.ID, studentA, "")
		require.ErrorIs(t, err, errLedgerDown)

		stuck, err := env.svc.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, stuck.Status)
		assert.Equal(t, price, stuck.EscrowAmount)

		// Cancelling again is not the way out
		_, err = env.svc.Cancel(ctx, b.ID, studentA, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		n, err := env.svc.SettleCancelled(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Zero(t, acct.Held)
		assert.Equal(t, price, acct.Refunded)
		assert.True(t, acct.Settled())
		assert.Equal(t, 1, env.sent.count(notify.EventEscrowRefunded))

		n, err = env.svc.SettleCancelled(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Fee failure after late refund", func(t *testing.T) {
		env, flaky := newFlakyEnv(t)
		b := env.acceptedBooking(t, 6*time.Hour, 1)
		flaky.failFees.Store(1)

		_, err := env.svc.Cancel(ctx, b.ID, studentA, "")
		require.ErrorIs(t, err, errLedgerDown)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, price/2, acct.Refunded)
		assert.Equal(t, price/2, acct.Held)

		// Later sweeps keep the terms fixed at cancellation time
		env.now = env.now.Add(time.Hour)
		n, err := env.svc.SettleCancelled(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		acct, err = env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, price/2, acct.Refunded)
		assert.Equal(t, price/2, acct.Released)
		assert.True(t, acct.Settled())

		balance, err := env.ledger.Balance(ctx, tutorID)
		require.NoError(t, err)
		assert.Equal(t, int64(42_500), balance)
	})

	t.Run("Void failure on rejection", func(t *testing.T) {
		env, flaky := newFlakyEnv(t)
		b := env.paidBooking(t, 48*time.Hour, 1)
		flaky.failVoids.Store(1)

		_, err := env.svc.Decide(ctx, b.ID, tutorID, DecisionReject)
		require.ErrorIs(t, err, errLedgerDown)

		n, err := env.svc.SettleCancelled(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, price, acct.Refunded)
	})

	t.Run("Dispute resolution refunds in full", func(t *testing.T) {
		env, flaky := newFlakyEnv(t)
		b := env.acceptedBooking(t, 6*time.Hour, 1)
		_, err := env.svc.Dispute(ctx, b.ID, studentA, "no show")
		require.NoError(t, err)
		flaky.failRefunds.Store(1)

		_, err = env.svc.Resolve(ctx, b.ID, "admin", StatusCancelled)
		require.ErrorIs(t, err, errLedgerDown)

		n, err := env.svc.SettleCancelled(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, price, acct.Refunded)
		assert.Zero(t, acct.Released)
	})

	t.Run("Unpaid cancellations are ignored", func(t *testing.T) {
		env := newTestEnv(t)
		b, err := env.svc.Create(ctx, adhocRequest())
		require.NoError(t, err)
		_, err = env.svc.Cancel(ctx, b.ID, studentA, "")
		require.NoError(t, err)

		n, err := env.svc.SettleCancelled(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestEscrowStatement(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	b := env.acceptedBooking(t, 6*time.Hour, 1)

	_, err := env.svc.Cancel(ctx, b.ID, studentA, "sick")
	require.NoError(t, err)

	statement, err := env.svc.EscrowStatement(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, price/2, statement.Account.Refunded)
	assert.Equal(t, price/2, statement.Account.Released)

	kinds := make([]escrow.Kind, len(statement.Entries))
	for i, e := range statement.Entries {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []escrow.Kind{escrow.KindHold, escrow.KindRefund, escrow.KindFee}, kinds)

	_, err = env.svc.EscrowStatement(ctx, "missing")
	assert.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestCompleteReleasesOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	b := env.acceptedBooking(t, 48*time.Hour, 1)

	done, err := env.svc.Complete(ctx, b.ID, studentA)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = env.svc.Complete(ctx, b.ID, tutorID)
	require.NoError(t, err)

	balance, err := env.ledger.Balance(ctx, tutorID)
	require.NoError(t, err)
	assert.Equal(t, int64(85_000), balance)
	assert.Equal(t, 1, env.sent.count(notify.EventEscrowReleased))

	acct, err := env.ledger.Account(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, price, acct.Released)
}

func TestDisputeAndResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Dispute freezes completion", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 48*time.Hour, 1)

		disputed, err := env.svc.Dispute(ctx, b.ID, studentA, "tutor never showed up")
		require.NoError(t, err)
		assert.Equal(t, StatusDisputed, disputed.Status)

		_, err = env.svc.Complete(ctx, b.ID, tutorID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, acct.Frozen)
		assert.Equal(t, price, acct.Held)
	})

	t.Run("Resolve in favour of the requester", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 48*time.Hour, 1)
		_, err := env.svc.Dispute(ctx, b.ID, studentA, "no show")
		require.NoError(t, err)

		resolved, err := env.svc.Resolve(ctx, b.ID, "admin", StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, resolved.Status)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, acct.Frozen)
		assert.Equal(t, price, acct.Refunded)
	})

	t.Run("Resolve in favour of the provider", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 48*time.Hour, 1)
		_, err := env.svc.Dispute(ctx, b.ID, tutorID, "student left early")
		require.NoError(t, err)

		_, err = env.svc.Resolve(ctx, b.ID, "admin", StatusCompleted)
		require.NoError(t, err)

		balance, err := env.ledger.Balance(ctx, tutorID)
		require.NoError(t, err)
		assert.Equal(t, int64(85_000), balance)
	})

	t.Run("Invalid outcome", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 48*time.Hour, 1)
		_, err := env.svc.Resolve(ctx, b.ID, "admin", StatusRejected)
		assert.ErrorIs(t, err, ErrInvalidOutcome)
	})

	t.Run("Only disputed bookings resolve", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 48*time.Hour, 1)
		_, err := env.svc.Resolve(ctx, b.ID, "admin", StatusCompleted)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestSign(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	b := env.paidBooking(t, 48*time.Hour, 1)

	_, err := env.svc.Sign(ctx, b.ID, studentA, "  ")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = env.svc.Sign(ctx, b.ID, outsider, "x")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	signed, err := env.svc.Sign(ctx, b.ID, studentA, "Student A")
	require.NoError(t, err)
	assert.False(t, signed.ContractSigned)

	signed, err = env.svc.Sign(ctx, b.ID, tutorID, "Tutor")
	require.NoError(t, err)
	assert.True(t, signed.ContractSigned)

	_, err = env.svc.Cancel(ctx, b.ID, studentA, "")
	require.NoError(t, err)
	_, err = env.svc.Sign(ctx, b.ID, studentA, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJoinSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	pending := env.paidBooking(t, 48*time.Hour, 1)
	_, err := env.svc.JoinSession(ctx, pending.ID, studentA)
	assert.ErrorIs(t, err, ErrNoSession)

	accepted := env.acceptedBooking(t, 72*time.Hour, 2)
	_, err = env.svc.JoinSession(ctx, accepted.ID, outsider)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSweeps(t *testing.T) {
	ctx := context.Background()

	t.Run("Progress starts and completes sessions", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 3*time.Hour, 1)

		env.now = b.StartTime.Add(10 * time.Minute)
		n, err := env.svc.Progress(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		stored, err := env.svc.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, stored.Status)

		env.now = b.EndTime.Add(time.Minute)
		n, err = env.svc.Progress(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		stored, err = env.svc.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, stored.Status)

		// Idempotent
		n, err = env.svc.Progress(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		balance, err := env.ledger.Balance(ctx, tutorID)
		require.NoError(t, err)
		assert.Equal(t, int64(85_000), balance)
	})

	t.Run("Undecided bookings expire", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.paidBooking(t, 3*time.Hour, 1)

		env.now = env.now.Add(90 * time.Minute)
		n, err := env.svc.ExpireUndecided(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stored, err := env.svc.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, stored.Status)

		acct, err := env.ledger.Account(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, price, acct.Refunded)
	})

	t.Run("Reminders go to sessions within a day", func(t *testing.T) {
		env := newTestEnv(t)
		env.acceptedBooking(t, 20*time.Hour, 1)
		env.acceptedBooking(t, 50*time.Hour, 2)

		n, err := env.svc.Remind(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, env.sent.count(notify.EventSessionReminder))
	})

	t.Run("Release completed retries nothing when settled", func(t *testing.T) {
		env := newTestEnv(t)
		b := env.acceptedBooking(t, 3*time.Hour, 1)
		_, err := env.svc.Complete(ctx, b.ID, tutorID)
		require.NoError(t, err)

		n, err := env.svc.ReleaseCompleted(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
