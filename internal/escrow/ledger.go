package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/logger"
)

// Alerter surfaces conditions that need an administrator.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

const maxVersionRetries = 5

// errNoop aborts a mutation that would not change anything.
var errNoop = errors.New("escrow: no-op")

// Ledger owns every change to escrow accounts. Each mutation is checked for
// conservation of funds before it is persisted.
type Ledger struct {
	repo       Repository
	feePercent int64
	alerter    Alerter
	log        logger.Logger
}

func NewLedger(repo Repository, feePercent int64, alerter Alerter, log logger.Logger) *Ledger {
	return &Ledger{
		repo:       repo,
		feePercent: feePercent,
		alerter:    alerter,
		log:        log,
	}
}

// Open creates the account for a booking with nothing held. Opening twice is a no-op.
func (l *Ledger) Open(ctx context.Context, bookingID, providerID string, price int64) (*Account, error) {
	if price <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := l.repo.Insert(ctx, &Account{BookingID: bookingID, ProviderID: providerID, Price: price}); err != nil {
		return nil, err
	}
	return l.repo.Get(ctx, bookingID)
}

// Hold moves the full booking price into escrow.
func (l *Ledger) Hold(ctx context.Context, bookingID string, paid bool) (*Account, error) {
	if !paid {
		return nil, ErrPaymentRequired
	}
	return l.mutate(ctx, bookingID, KindHold, func(a *Account) (Entry, int64, error) {
		if a.Held > 0 || a.Released > 0 || a.Refunded > 0 {
			return Entry{}, 0, ErrAlreadyHeld
		}
		a.Held = a.Price
		return Entry{Kind: KindHold, Amount: a.Price}, 0, nil
	})
}

// Release pays out everything held to the provider, minus the platform fee.
// It returns the released amount, which is zero when the account was already settled.
func (l *Ledger) Release(ctx context.Context, bookingID, initiator string) (int64, error) {
	var released int64
	_, err := l.mutate(ctx, bookingID, KindRelease, func(a *Account) (Entry, int64, error) {
		if a.Held == 0 {
			if a.Released > 0 || a.Settled() {
				return Entry{}, 0, errNoop
			}
			return Entry{}, 0, ErrNotHeld
		}
		released = a.Held
		a.Released += a.Held
		a.Held = 0
		return Entry{Kind: KindRelease, Amount: released, Actor: initiator}, providerShare(released, l.feePercent), nil
	})
	if errors.Is(err, errNoop) {
		l.log.Debug("escrow release replayed", logger.String("booking_id", bookingID))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return released, nil
}

// Refund returns part of the held funds to the requester.
func (l *Ledger) Refund(ctx context.Context, bookingID string, amount int64, reason string) (*Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.mutate(ctx, bookingID, KindRefund, func(a *Account) (Entry, int64, error) {
		if a.Held == 0 {
			return Entry{}, 0, ErrNotHeld
		}
		if amount > a.Held {
			return Entry{}, 0, ErrInsufficientHeld
		}
		a.Held -= amount
		a.Refunded += amount
		return Entry{Kind: KindRefund, Amount: amount, Reason: reason}, 0, nil
	})
}

// RefundOnce refunds amount unless funds have already left escrow, so a retried
// settlement never refunds twice. It returns zero on such a replay.
func (l *Ledger) RefundOnce(ctx context.Context, bookingID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	_, err := l.mutate(ctx, bookingID, KindRefund, func(a *Account) (Entry, int64, error) {
		if a.Released > 0 || a.Refunded > 0 {
			return Entry{}, 0, errNoop
		}
		if a.Held == 0 {
			return Entry{}, 0, ErrNotHeld
		}
		if amount > a.Held {
			return Entry{}, 0, ErrInsufficientHeld
		}
		a.Held -= amount
		a.Refunded += amount
		return Entry{Kind: KindRefund, Amount: amount, Reason: reason}, 0, nil
	})
	if errors.Is(err, errNoop) {
		l.log.Debug("escrow refund replayed", logger.String("booking_id", bookingID))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// ReleaseFee releases what is still held to the provider as a late-cancellation fee.
func (l *Ledger) ReleaseFee(ctx context.Context, bookingID, reason string) (int64, error) {
	var fee int64
	_, err := l.mutate(ctx, bookingID, KindFee, func(a *Account) (Entry, int64, error) {
		if a.Held == 0 {
			return Entry{}, 0, ErrNotHeld
		}
		fee = a.Held
		a.Released += a.Held
		a.Held = 0
		return Entry{Kind: KindFee, Amount: fee, Reason: reason}, providerShare(fee, l.feePercent), nil
	})
	if err != nil {
		return 0, err
	}
	return fee, nil
}

// Void refunds a paid booking whose funds were never held, e.g. on rejection.
func (l *Ledger) Void(ctx context.Context, bookingID, reason string) (*Account, error) {
	return l.mutate(ctx, bookingID, KindVoid, func(a *Account) (Entry, int64, error) {
		if a.Held > 0 {
			return Entry{}, 0, ErrAlreadyHeld
		}
		if a.Released > 0 || a.Refunded > 0 {
			return Entry{}, 0, ErrAlreadySettled
		}
		a.Refunded = a.Price
		return Entry{Kind: KindVoid, Amount: a.Price, Reason: reason}, 0, nil
	})
}

// OpenDispute freezes the account until ClearDispute is called.
func (l *Ledger) OpenDispute(ctx context.Context, bookingID, reason, initiator string) (*Account, error) {
	return l.mutate(ctx, bookingID, KindFreeze, func(a *Account) (Entry, int64, error) {
		if a.Frozen {
			return Entry{}, 0, ErrFrozen
		}
		a.Frozen = true
		return Entry{Kind: KindFreeze, Reason: reason, Actor: initiator}, 0, nil
	})
}

// ClearDispute lifts the freeze. It is reserved to administrators.
func (l *Ledger) ClearDispute(ctx context.Context, bookingID, actor string) (*Account, error) {
	return l.mutate(ctx, bookingID, KindUnfreeze, func(a *Account) (Entry, int64, error) {
		if !a.Frozen {
			return Entry{}, 0, ErrNotFrozen
		}
		a.Frozen = false
		return Entry{Kind: KindUnfreeze, Actor: actor}, 0, nil
	})
}

func (l *Ledger) Account(ctx context.Context, bookingID string) (*Account, error) {
	return l.repo.Get(ctx, bookingID)
}

func (l *Ledger) Entries(ctx context.Context, bookingID string) ([]Entry, error) {
	return l.repo.Entries(ctx, bookingID)
}

// Balance returns the amount credited to the provider and available for payout.
func (l *Ledger) Balance(ctx context.Context, providerID string) (int64, error) {
	return l.repo.Balance(ctx, providerID)
}

type changeFunc func(a *Account) (Entry, int64, error)

// mutate applies change to a fresh copy of the account, checks conservation and
// persists it guarded by the account version, retrying when a concurrent writer won.
func (l *Ledger) mutate(ctx context.Context, bookingID string, kind Kind, change changeFunc) (*Account, error) {
	for range maxVersionRetries {
		before, err := l.repo.Get(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if before.Broken {
			return nil, ErrAccountBlocked
		}
		if before.Frozen && kind != KindUnfreeze {
			return nil, ErrFrozen
		}

		after := *before
		entry, credit, err := change(&after)
		if err != nil {
			return nil, err
		}

		if !conserved(kind, before, &after) {
			return nil, l.breach(ctx, kind, before, &after)
		}

		err = l.repo.apply(ctx, mutation{
			expectedVersion: before.Version,
			account:         after,
			entry:           entry,
			credit:          credit,
		})
		if errors.Is(err, errStaleVersion) {
			continue
		}
		if err != nil {
			return nil, err
		}

		after.Version = before.Version + 1
		l.log.Info("escrow mutated",
			logger.String("booking_id", bookingID),
			logger.String("kind", string(kind)),
			logger.Int64("amount", entry.Amount),
		)
		return &after, nil
	}
	return nil, fmt.Errorf("escrow %s: %w", bookingID, errStaleVersion)
}

// breach blocks the account and surfaces the violation. The computed state is never persisted.
func (l *Ledger) breach(ctx context.Context, kind Kind, before, after *Account) error {
	l.log.Error("escrow invariant violated",
		logger.String("booking_id", before.BookingID),
		logger.String("kind", string(kind)),
		logger.Any("before", *before),
		logger.Any("after", *after),
	)

	if err := l.repo.MarkBroken(ctx, before.BookingID); err != nil {
		l.log.Error("failed to block escrow account",
			logger.String("booking_id", before.BookingID),
			logger.String("error", err.Error()),
		)
	}

	if l.alerter != nil {
		text := fmt.Sprintf("Escrow invariant violated on booking %s during %s: held %d->%d, released %d->%d, refunded %d->%d",
			before.BookingID, kind, before.Held, after.Held, before.Released, after.Released, before.Refunded, after.Refunded)
		if err := l.alerter.Alert(context.WithoutCancel(ctx), text); err != nil {
			l.log.Warn("failed to alert admins", logger.String("error", err.Error()))
		}
	}
	return ErrInvariantViolation
}
