package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wb-go/wbf/logger"
)

// SentStore records which (event, booking) pairs were already dispatched.
type SentStore interface {
	// Claim records the pair and reports whether this call was the first to do so.
	Claim(ctx context.Context, event Event, bookingID string) (bool, error)
}

// Once wraps a Dispatcher so that each (event, booking) pair is delivered at most once,
// across goroutines and processes sharing the store. Delivery is fire-and-forget.
type Once struct {
	next  Dispatcher
	store SentStore
	log   logger.Logger
	wg    sync.WaitGroup
}

func NewOnce(next Dispatcher, store SentStore, log logger.Logger) *Once {
	return &Once{next: next, store: store, log: log}
}

// Notify claims the pair and hands the event to the wrapped dispatcher in the background.
// A pair that was already claimed is a silent no-op.
func (o *Once) Notify(ctx context.Context, event Event, msg Message) error {
	claimed, err := o.store.Claim(ctx, event, msg.BookingID)
	if err != nil {
		return fmt.Errorf("claim %s for %s: %w", event, msg.BookingID, err)
	}
	if !claimed {
		o.log.Debug("notification already sent",
			logger.String("event", string(event)),
			logger.String("booking_id", msg.BookingID),
		)
		return nil
	}

	o.wg.Add(1)
	go func(ctx context.Context) {
		defer o.wg.Done()
		if err := o.next.Notify(ctx, event, msg); err != nil {
			o.log.Warn("notification dispatch failed",
				logger.String("event", string(event)),
				logger.String("booking_id", msg.BookingID),
				logger.String("error", err.Error()),
			)
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// Wait blocks until every in-flight dispatch has returned.
func (o *Once) Wait() {
	o.wg.Wait()
}

type pgxSentStore struct {
	pool *pgxpool.Pool
}

func NewPgxSentStore(pool *pgxpool.Pool) SentStore {
	return &pgxSentStore{pool: pool}
}

func (s *pgxSentStore) Claim(ctx context.Context, event Event, bookingID string) (bool, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Insert("public.notifications_sent").
		Columns("event", "booking_id").
		Values(string(event), bookingID).
		Suffix("ON CONFLICT (event, booking_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build claim query failed: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim notification failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type sentKey struct {
	event     Event
	bookingID string
}

// MemorySentStore is a process-local SentStore.
type MemorySentStore struct {
	mu   sync.Mutex
	sent map[sentKey]struct{}
}

func NewMemorySentStore() *MemorySentStore {
	return &MemorySentStore{sent: make(map[sentKey]struct{})}
}

func (s *MemorySentStore) Claim(_ context.Context, event Event, bookingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sentKey{event: event, bookingID: bookingID}
	if _, ok := s.sent[k]; ok {
		return false, nil
	}
	s.sent[k] = struct{}{}
	return true, nil
}
