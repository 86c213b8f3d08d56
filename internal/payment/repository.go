package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// Create inserts a new order. A used order code fails with errDuplicateCode.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, orderCode int64) (*Order, error)

	// CompareAndSwapStatus moves the order from `from` to `to` iff it is still in `from`.
	CompareAndSwapStatus(ctx context.Context, orderCode int64, from, to Status) (bool, error)
	SetCheckout(ctx context.Context, orderCode int64, ref, url string) error
	// RecordSignal stores the raw gateway payload. A success signal is never erased.
	RecordSignal(ctx context.Context, orderCode int64, raw []byte, succeeded bool) error
	SetBooking(ctx context.Context, orderCode int64, bookingID string) error
	// ListStale returns pending orders created before the cutoff.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Order, error)
}

var orderColumns = []string{
	"order_code", "requester_id", "slot_id::text", "booking_id::text", "amount", "description",
	"status", "gateway_ref", "checkout_url", "raw_payload", "signal_succeeded", "created_at", "updated_at",
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.OrderCode, &o.RequesterID, &o.SlotID, &o.BookingID, &o.Amount, &o.Description,
		&o.Status, &o.GatewayRef, &o.CheckoutURL, &o.RawPayload, &o.SignalSucceeded, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *pgxRepository) Create(ctx context.Context, o *Order) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Insert("public.payment_orders").
		Columns("order_code", "requester_id", "slot_id", "booking_id", "amount", "description", "status").
		Values(o.OrderCode, o.RequesterID, o.SlotID, o.BookingID, o.Amount, o.Description, o.Status).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create order query failed: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return errDuplicateCode
		}
		return fmt.Errorf("create order failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) Get(ctx context.Context, orderCode int64) (*Order, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select(orderColumns...).
		From("public.payment_orders").
		Where(squirrel.Eq{"order_code": orderCode}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get order query failed: %w", err)
	}

	o, err := scanOrder(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order failed: %w", err)
	}
	return o, nil
}

func (r *pgxRepository) exec(ctx context.Context, update squirrel.UpdateBuilder, what string) (bool, error) {
	query, args, err := update.Set("updated_at", squirrel.Expr("now()")).ToSql()
	if err != nil {
		return false, fmt.Errorf("build %s query failed: %w", what, err)
	}
	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s failed: %w", what, err)
	}
	return ct.RowsAffected() == 1, nil
}

// mustExist turns an update that touched no row into ErrNotFound.
func mustExist(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *pgxRepository) CompareAndSwapStatus(ctx context.Context, orderCode int64, from, to Status) (bool, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.payment_orders").
		Set("status", to).
		Where(squirrel.Eq{"order_code": orderCode, "status": from})
	return r.exec(ctx, update, "swap order status")
}

func (r *pgxRepository) SetCheckout(ctx context.Context, orderCode int64, ref, url string) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.payment_orders").
		Set("gateway_ref", ref).
		Set("checkout_url", url).
		Where(squirrel.Eq{"order_code": orderCode})
	return mustExist(r.exec(ctx, update, "set order checkout"))
}

func (r *pgxRepository) RecordSignal(ctx context.Context, orderCode int64, raw []byte, succeeded bool) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.payment_orders").
		Set("raw_payload", raw).
		Set("signal_succeeded", squirrel.Expr("signal_succeeded OR ?", succeeded)).
		Where(squirrel.Eq{"order_code": orderCode})
	return mustExist(r.exec(ctx, update, "record order signal"))
}

func (r *pgxRepository) SetBooking(ctx context.Context, orderCode int64, bookingID string) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.payment_orders").
		Set("booking_id", bookingID).
		Where(squirrel.Eq{"order_code": orderCode})
	return mustExist(r.exec(ctx, update, "set order booking"))
}

func (r *pgxRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select(orderColumns...).
		From("public.payment_orders").
		Where(squirrel.Eq{"status": StatusPending}).
		Where(squirrel.Lt{"created_at": before}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list stale orders query failed: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale orders failed: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order failed: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
