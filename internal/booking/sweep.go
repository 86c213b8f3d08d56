package booking

import (
	"context"
	"errors"
	"time"

	"github.com/wb-go/wbf/logger"

	"github.com/hien22444/WDP-LM-sub000/internal/notify"
)

const (
	sweepBatch = 200

	// releaseLookback bounds how far back ReleaseCompleted and SettleCancelled retry.
	releaseLookback = 7 * 24 * time.Hour
)

// Progress starts accepted sessions whose start time has passed and completes
// sessions whose end time has passed.
func (s *service) Progress(ctx context.Context) (int, error) {
	now := s.now()
	moved := 0

	started, err := s.repo.ListDue(ctx, DueQuery{Status: StatusAccepted, StartBefore: &now, Limit: sweepBatch})
	if err != nil {
		return 0, err
	}
	for _, b := range started {
		if !b.EndTime.After(now) {
			err = s.complete(ctx, b, SystemActor)
		} else {
			err = s.transition(ctx, b, StatusInProgress, Patch{})
		}
		if err != nil {
			s.skip("progress", b, err)
			continue
		}
		moved++
	}

	finished, err := s.repo.ListDue(ctx, DueQuery{Status: StatusInProgress, EndBefore: &now, Limit: sweepBatch})
	if err != nil {
		return moved, err
	}
	for _, b := range finished {
		if err := s.complete(ctx, b, SystemActor); err != nil {
			s.skip("progress", b, err)
			continue
		}
		moved++
	}
	return moved, nil
}

// ExpireUndecided rejects pending bookings whose decision window has closed.
func (s *service) ExpireUndecided(ctx context.Context) (int, error) {
	deadline := s.now().Add(DecisionLead)

	due, err := s.repo.ListDue(ctx, DueQuery{Status: StatusPending, StartBefore: &deadline, Limit: sweepBatch})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range due {
		if err := s.reject(ctx, b, "provider did not respond in time"); err != nil {
			s.skip("expire", b, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// Remind notifies both parties of accepted sessions starting within ReminderLead.
// Delivery is deduplicated per booking by the dispatcher.
func (s *service) Remind(ctx context.Context) (int, error) {
	now := s.now()
	until := now.Add(ReminderLead)

	due, err := s.repo.ListDue(ctx, DueQuery{Status: StatusAccepted, StartAfter: &now, StartBefore: &until, Limit: sweepBatch})
	if err != nil {
		return 0, err
	}
	for _, b := range due {
		s.notify(ctx, notify.EventSessionReminder, b, 0)
	}
	return len(due), nil
}

// ReleaseCompleted retries releases for recently completed bookings whose funds are still held.
func (s *service) ReleaseCompleted(ctx context.Context) (int, error) {
	since := s.now().Add(-releaseLookback)

	due, err := s.repo.ListDue(ctx, DueQuery{Status: StatusCompleted, EndAfter: &since, Limit: sweepBatch})
	if err != nil {
		return 0, err
	}

	released := 0
	for _, b := range due {
		amount, err := s.ledger.Release(ctx, b.ID, SystemActor)
		if err != nil {
			s.skip("release", b, err)
			continue
		}
		if amount > 0 {
			s.notify(ctx, notify.EventEscrowReleased, b, amount)
			released++
		}
	}
	return released, nil
}

// SettleCancelled finishes the settlement of recently cancelled or rejected bookings
// whose funds have not fully left escrow, e.g. after a ledger failure during Cancel.
func (s *service) SettleCancelled(ctx context.Context) (int, error) {
	since := s.now().Add(-releaseLookback)

	settled := 0
	for _, status := range []Status{StatusCancelled, StatusRejected} {
		due, err := s.repo.ListDue(ctx, DueQuery{Status: status, CancelledAfter: &since, Limit: sweepBatch})
		if err != nil {
			return settled, err
		}
		for _, b := range due {
			if !b.Paid() {
				continue
			}
			acct, err := s.ledger.Account(ctx, b.ID)
			if err == nil && acct.Settled() {
				continue
			}
			refunded, err := s.settleCancellation(ctx, b, b.CancelReason)
			if err != nil {
				s.skip("settle", b, err)
				continue
			}
			if refunded > 0 {
				s.notify(ctx, notify.EventEscrowRefunded, b, refunded)
			}
			settled++
		}
	}
	return settled, nil
}

// skip logs a booking a sweep could not move. Losing a race to another instance is expected.
func (s *service) skip(sweep string, b *Booking, err error) {
	if errors.Is(err, ErrInvalidTransition) {
		s.log.Debug("sweep skipped booking",
			logger.String("sweep", sweep),
			logger.String("booking_id", b.ID),
		)
		return
	}
	s.log.Warn("sweep failed for booking",
		logger.String("sweep", sweep),
		logger.String("booking_id", b.ID),
		logger.String("error", err.Error()),
	)
}
