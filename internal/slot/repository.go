package slot

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
	// Create inserts the slot. Overlap with another non-closed slot of the same
	// provider is rejected with ErrConflict.
	Create(ctx context.Context, s *Slot) error
	GetByID(ctx context.Context, id string) (*Slot, error)
	List(ctx context.Context, filter Filter) ([]*Slot, int, error)

	// HasOverlap checks for open or booked slots of the provider intersecting [start, end).
	HasOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error)

	// CompareAndSwapStatus sets status to `to` iff it currently equals `from`.
	// bookedBy is recorded when moving to booked; when moving out of booked with a
	// non-empty bookedBy, the slot must be held by that requester. Reports whether the swap happened.
	CompareAndSwapStatus(ctx context.Context, id string, from, to Status, bookedBy string) (bool, error)

	// DeleteIfOpen removes the slot iff it is still open.
	DeleteIfOpen(ctx context.Context, id string) (bool, error)
}

var slotColumns = []string{
	"id", "provider_id", "start_time", "end_time", "mode", "price", "capacity",
	"status", "COALESCE(booked_by::text, '')", "created_at", "updated_at",
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

func scanSlot(row pgx.Row, extra ...any) (*Slot, error) {
	var s Slot
	dest := []any{
		&s.ID, &s.ProviderID, &s.StartTime, &s.EndTime, &s.Mode, &s.Price, &s.Capacity,
		&s.Status, &s.BookedBy, &s.CreatedAt, &s.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *pgxRepository) Create(ctx context.Context, s *Slot) error {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Insert("public.slots").
		Columns("provider_id", "start_time", "end_time", "mode", "price", "capacity", "status").
		Values(s.ProviderID, s.StartTime, s.EndTime, s.Mode, s.Price, s.Capacity, s.Status).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create slot query failed: %w", err)
	}

	err = r.pool.QueryRow(ctx, query, args...).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ExclusionViolation {
			return ErrConflict
		}
		return fmt.Errorf("create slot failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) GetByID(ctx context.Context, id string) (*Slot, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Select(slotColumns...).
		From("public.slots").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get slot query failed: %w", err)
	}

	s, err := scanSlot(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get slot failed: %w", err)
	}
	return s, nil
}

func (r *pgxRepository) List(ctx context.Context, filter Filter) ([]*Slot, int, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query := psql.Select(append(slotColumns, "count(*) OVER() as total_count")...).
		From("public.slots")

	if filter.ProviderID != "" {
		query = query.Where(squirrel.Eq{"provider_id": filter.ProviderID})
	}
	if filter.Status != "" {
		query = query.Where(squirrel.Eq{"status": filter.Status})
	}
	if filter.StartTime != nil {
		query = query.Where(squirrel.GtOrEq{"end_time": filter.StartTime})
	}
	if filter.EndTime != nil {
		query = query.Where(squirrel.LtOrEq{"start_time": filter.EndTime})
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize

	query = query.OrderBy("start_time ASC").
		Limit(uint64(filter.PageSize)).
		Offset(uint64(offset))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list slots query failed: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list slots failed: %w", err)
	}
	defer rows.Close()

	var (
		slots []*Slot
		total int
	)
	for rows.Next() {
		s, err := scanSlot(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan slot failed: %w", err)
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate slots failed: %w", err)
	}

	return slots, total, nil
}

func (r *pgxRepository) HasOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error) {
	// Time overlaps: (NewStart < ExistingEnd) AND (NewEnd > ExistingStart)
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	sub, args, err := psql.Select("1").
		From("public.slots").
		Where(squirrel.Eq{"provider_id": providerID}).
		Where(squirrel.Eq{"status": []string{string(StatusOpen), string(StatusBooked)}}).
		Where(squirrel.Lt{"start_time": end}).
		Where(squirrel.Gt{"end_time": start}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build slot overlap query failed: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS ("+sub+")", args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check slot overlap failed: %w", err)
	}
	return exists, nil
}

func (r *pgxRepository) CompareAndSwapStatus(ctx context.Context, id string, from, to Status, bookedBy string) (bool, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	update := psql.Update("public.slots").
		Set("status", to).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": from})
	switch {
	case to == StatusBooked:
		update = update.Set("booked_by", bookedBy)
	case from == StatusBooked && bookedBy != "":
		update = update.Where(squirrel.Eq{"booked_by": bookedBy})
	}
	if to == StatusOpen {
		update = update.Set("booked_by", nil)
	}

	query, args, err := update.ToSql()
	if err != nil {
		return false, fmt.Errorf("build slot status swap query failed: %w", err)
	}

	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("swap slot status failed: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *pgxRepository) DeleteIfOpen(ctx context.Context, id string) (bool, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query, args, err := psql.Delete("public.slots").
		Where(squirrel.Eq{"id": id, "status": StatusOpen}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete slot query failed: %w", err)
	}

	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete slot failed: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
