package booking

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
	// Create inserts the booking. A second active booking for the same slot or order
	// fails with ErrDuplicate; an overlapping active booking of the provider with ErrTimeConflict.
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id string) (*Booking, error)
	GetByOrderCode(ctx context.Context, orderCode int64) (*Booking, error)
	FindActiveBySlot(ctx context.Context, slotID string) (*Booking, error)
	List(ctx context.Context, filter Filter) ([]*Booking, int, error)
	ListDue(ctx context.Context, q DueQuery) ([]*Booking, error)

	// HasActiveOverlap checks for active bookings of the provider intersecting [start, end).
	HasActiveOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error)
	CountPending(ctx context.Context, requesterID string) (int, error)
	// CreateWithinLimit inserts b unless its requester already has maxPending pending
	// bookings, returning ErrTooManyPending. The count and the insert are atomic.
	CreateWithinLimit(ctx context.Context, b *Booking, maxPending int) error

	// CompareAndSwapStatus moves the booking from `from` to `to` iff it is still in `from`.
	CompareAndSwapStatus(ctx context.Context, id string, from, to Status, patch Patch) (bool, error)
	// MarkPaid stamps a pending unpaid booking as paid by the order.
	MarkPaid(ctx context.Context, id string, orderCode int64) (bool, error)
	// SetSignature stores one party's signature while the booking is pending or accepted
	// and recomputes contract_signed in the same statement.
	SetSignature(ctx context.Context, id string, party Party, signature string) (bool, error)
	SetSessionID(ctx context.Context, id, sessionID string) error
}

var bookingColumns = []string{
	"id", "slot_id::text", "order_code", "provider_id", "requester_id",
	"start_time", "end_time", "mode", "price", "status", "payment_status",
	"contract_signed", "contract_number", "requester_signature", "provider_signature",
	"session_id", "cancel_reason", "dispute_reason", "cancelled_at", "created_at", "updated_at",
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

func scanBooking(row pgx.Row, extra ...any) (*Booking, error) {
	var b Booking
	dest := []any{
		&b.ID, &b.SlotID, &b.OrderCode, &b.ProviderID, &b.RequesterID,
		&b.StartTime, &b.EndTime, &b.Mode, &b.Price, &b.Status, &b.PaymentStatus,
		&b.ContractSigned, &b.ContractNumber, &b.RequesterSignature, &b.ProviderSignature,
		&b.SessionID, &b.CancelReason, &b.DisputeReason, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &b, nil
}

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return ErrDuplicate
		case pgerrcode.ExclusionViolation:
			return ErrTimeConflict
		}
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *pgxRepository) Create(ctx context.Context, b *Booking) error {
	return insertBooking(ctx, r.pool, b)
}

func (r *pgxRepository) CreateWithinLimit(ctx context.Context, b *Booking, maxPending int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create booking tx failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Held until commit, so creates of one requester run one at a time.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))", b.RequesterID); err != nil {
		return fmt.Errorf("lock requester failed: %w", err)
	}

	pending, err := countPending(ctx, tx, b.RequesterID)
	if err != nil {
		return err
	}
	if pending >= maxPending {
		return ErrTooManyPending
	}
	if err := insertBooking(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertBooking(ctx context.Context, q querier, b *Booking) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Insert("public.bookings").
		Columns("slot_id", "order_code", "provider_id", "requester_id", "start_time", "end_time",
			"mode", "price", "status", "payment_status").
		Values(b.SlotID, b.OrderCode, b.ProviderID, b.RequesterID, b.StartTime, b.EndTime,
			b.Mode, b.Price, b.Status, b.PaymentStatus).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create booking query failed: %w", err)
	}

	if err := q.QueryRow(ctx, query, args...).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("create booking failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*Booking, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select(bookingColumns...).
		From("public.bookings").
		Where(where).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get booking query failed: %w", err)
	}

	b, err := scanBooking(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking failed: %w", err)
	}
	return b, nil
}

func (r *pgxRepository) GetByID(ctx context.Context, id string) (*Booking, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *pgxRepository) GetByOrderCode(ctx context.Context, orderCode int64) (*Booking, error) {
	return r.getOne(ctx, squirrel.Eq{"order_code": orderCode})
}

func (r *pgxRepository) FindActiveBySlot(ctx context.Context, slotID string) (*Booking, error) {
	return r.getOne(ctx, squirrel.Eq{"slot_id": slotID, "status": activeStatuses})
}

func (r *pgxRepository) List(ctx context.Context, filter Filter) ([]*Booking, int, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query := psql.Select(append(bookingColumns, "count(*) OVER() as total_count")...).
		From("public.bookings")

	if filter.ProviderID != "" {
		query = query.Where(squirrel.Eq{"provider_id": filter.ProviderID})
	}
	if filter.RequesterID != "" {
		query = query.Where(squirrel.Eq{"requester_id": filter.RequesterID})
	}
	if filter.ParticipantID != "" {
		query = query.Where(squirrel.Or{
			squirrel.Eq{"provider_id": filter.ParticipantID},
			squirrel.Eq{"requester_id": filter.ParticipantID},
		})
	}
	if filter.Status != "" {
		query = query.Where(squirrel.Eq{"status": filter.Status})
	}
	// Date range filtering (intersection logic)
	if filter.StartTime != nil {
		query = query.Where(squirrel.GtOrEq{"end_time": filter.StartTime})
	}
	if filter.EndTime != nil {
		query = query.Where(squirrel.LtOrEq{"start_time": filter.EndTime})
	}

	// Pagination
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize

	query = query.OrderBy("start_time DESC").
		Limit(uint64(filter.PageSize)).
		Offset(uint64(offset))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list bookings query failed: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings failed: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	var total int

	for rows.Next() {
		b, err := scanBooking(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan booking failed: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, total, rows.Err()
}

func (r *pgxRepository) ListDue(ctx context.Context, q DueQuery) ([]*Booking, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query := psql.Select(bookingColumns...).
		From("public.bookings").
		Where(squirrel.Eq{"status": q.Status})

	if q.StartAfter != nil {
		query = query.Where(squirrel.Gt{"start_time": *q.StartAfter})
	}
	if q.StartBefore != nil {
		query = query.Where(squirrel.LtOrEq{"start_time": *q.StartBefore})
	}
	if q.EndAfter != nil {
		query = query.Where(squirrel.Gt{"end_time": *q.EndAfter})
	}
	if q.EndBefore != nil {
		query = query.Where(squirrel.LtOrEq{"end_time": *q.EndBefore})
	}
	if q.CancelledAfter != nil {
		query = query.Where(squirrel.Gt{"cancelled_at": *q.CancelledAfter})
	}
	if q.Limit > 0 {
		query = query.Limit(uint64(q.Limit))
	}

	sql, args, err := query.OrderBy("start_time ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build due bookings query failed: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list due bookings failed: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking failed: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *pgxRepository) HasActiveOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error) {
	// Overlap: (NewStart < ExistingEnd) AND (NewEnd > ExistingStart)
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	subQuery := psql.Select("1").
		From("public.bookings").
		Where(squirrel.Eq{"provider_id": providerID, "status": activeStatuses}).
		Where(squirrel.Lt{"start_time": end}).
		Where(squirrel.Gt{"end_time": start})

	sql, args, err := subQuery.ToSql()
	if err != nil {
		return false, fmt.Errorf("build check overlap query failed: %w", err)
	}

	query := "SELECT EXISTS (" + sql + ")"

	var exists bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check overlap failed: %w", err)
	}
	return exists, nil
}

func (r *pgxRepository) CountPending(ctx context.Context, requesterID string) (int, error) {
	return countPending(ctx, r.pool, requesterID)
}

func countPending(ctx context.Context, q querier, requesterID string) (int, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select("count(*)").
		From("public.bookings").
		Where(squirrel.Eq{"requester_id": requesterID, "status": StatusPending}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count pending query failed: %w", err)
	}

	var n int
	if err := q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending bookings failed: %w", err)
	}
	return n, nil
}

func (r *pgxRepository) exec(ctx context.Context, update squirrel.UpdateBuilder, what string) (bool, error) {
	query, args, err := update.Set("updated_at", squirrel.Expr("now()")).ToSql()
	if err != nil {
		return false, fmt.Errorf("build %s query failed: %w", what, err)
	}
	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return false, mapped
		}
		return false, fmt.Errorf("%s failed: %w", what, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *pgxRepository) CompareAndSwapStatus(ctx context.Context, id string, from, to Status, patch Patch) (bool, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.bookings").
		Set("status", to).
		Where(squirrel.Eq{"id": id, "status": from})

	if patch.CancelReason != "" {
		update = update.Set("cancel_reason", patch.CancelReason)
	}
	if patch.DisputeReason != "" {
		update = update.Set("dispute_reason", patch.DisputeReason)
	}
	if patch.ContractNumber != "" {
		update = update.Set("contract_number", patch.ContractNumber)
	}
	if !patch.CancelledAt.IsZero() {
		update = update.Set("cancelled_at", patch.CancelledAt)
	}
	return r.exec(ctx, update, "swap booking status")
}

func (r *pgxRepository) MarkPaid(ctx context.Context, id string, orderCode int64) (bool, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.bookings").
		Set("payment_status", PaymentPaid).
		Set("order_code", orderCode).
		Where(squirrel.Eq{"id": id, "status": StatusPending, "payment_status": PaymentNone})
	return r.exec(ctx, update, "mark booking paid")
}

func (r *pgxRepository) SetSignature(ctx context.Context, id string, party Party, signature string) (bool, error) {
	column, other := "requester_signature", "provider_signature"
	if party == PartyProvider {
		column, other = other, column
	}

	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.bookings").
		Set(column, signature).
		Set("contract_signed", squirrel.Expr("("+other+" <> '')")).
		Where(squirrel.Eq{"id": id, "status": []Status{StatusPending, StatusAccepted}})
	return r.exec(ctx, update, "set booking signature")
}

func (r *pgxRepository) SetSessionID(ctx context.Context, id, sessionID string) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.bookings").
		Set("session_id", sessionID).
		Where(squirrel.Eq{"id": id})
	ok, err := r.exec(ctx, update, "set booking session")
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
