package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// Insert creates the account unless one already exists for the booking.
	Insert(ctx context.Context, a *Account) (bool, error)
	Get(ctx context.Context, bookingID string) (*Account, error)

	// apply persists a mutation atomically. It fails with errStaleVersion when the
	// stored version no longer matches.
	apply(ctx context.Context, m mutation) error

	// MarkBroken blocks the account regardless of its version.
	MarkBroken(ctx context.Context, bookingID string) error

	Entries(ctx context.Context, bookingID string) ([]Entry, error)
	Balance(ctx context.Context, providerID string) (int64, error)
}

var accountColumns = []string{
	"booking_id", "provider_id", "price", "held", "released", "refunded",
	"frozen", "broken", "version", "created_at", "updated_at",
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func (r *pgxRepository) Insert(ctx context.Context, a *Account) (bool, error) {
	query, args, err := psql.Insert("public.escrow_accounts").
		Columns("booking_id", "provider_id", "price").
		Values(a.BookingID, a.ProviderID, a.Price).
		Suffix("ON CONFLICT (booking_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert escrow query failed: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert escrow account failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgxRepository) Get(ctx context.Context, bookingID string) (*Account, error) {
	query, args, err := psql.Select(accountColumns...).
		From("public.escrow_accounts").
		Where(squirrel.Eq{"booking_id": bookingID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get escrow query failed: %w", err)
	}

	var a Account
	err = r.pool.QueryRow(ctx, query, args...).Scan(
		&a.BookingID, &a.ProviderID, &a.Price, &a.Held, &a.Released, &a.Refunded,
		&a.Frozen, &a.Broken, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get escrow account failed: %w", err)
	}
	return &a, nil
}

func (r *pgxRepository) apply(ctx context.Context, m mutation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin escrow tx failed: %w", err)
	}
	defer tx.Rollback(ctx)

	a := m.account
	query, args, err := psql.Update("public.escrow_accounts").
		Set("held", a.Held).
		Set("released", a.Released).
		Set("refunded", a.Refunded).
		Set("frozen", a.Frozen).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"booking_id": a.BookingID, "version": m.expectedVersion, "broken": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update escrow query failed: %w", err)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update escrow account failed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return errStaleVersion
	}

	query, args, err = psql.Insert("public.escrow_entries").
		Columns("booking_id", "kind", "amount", "reason", "actor").
		Values(a.BookingID, m.entry.Kind, m.entry.Amount, m.entry.Reason, m.entry.Actor).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert entry query failed: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert escrow entry failed: %w", err)
	}

	if m.credit > 0 {
		query, args, err = psql.Insert("public.provider_balances").
			Columns("provider_id", "available").
			Values(a.ProviderID, m.credit).
			Suffix("ON CONFLICT (provider_id) DO UPDATE SET available = provider_balances.available + EXCLUDED.available, updated_at = now()").
			ToSql()
		if err != nil {
			return fmt.Errorf("build credit query failed: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("credit provider balance failed: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *pgxRepository) MarkBroken(ctx context.Context, bookingID string) error {
	query, args, err := psql.Update("public.escrow_accounts").
		Set("broken", true).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"booking_id": bookingID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark broken query failed: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark escrow broken failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) Entries(ctx context.Context, bookingID string) ([]Entry, error) {
	query, args, err := psql.Select("id", "booking_id", "kind", "amount", "reason", "actor", "created_at").
		From("public.escrow_entries").
		Where(squirrel.Eq{"booking_id": bookingID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list entries query failed: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escrow entries failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Kind, &e.Amount, &e.Reason, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan escrow entry failed: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *pgxRepository) Balance(ctx context.Context, providerID string) (int64, error) {
	query, args, err := psql.Select("available").
		From("public.provider_balances").
		Where(squirrel.Eq{"provider_id": providerID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build balance query failed: %w", err)
	}

	var available int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get provider balance failed: %w", err)
	}
	return available, nil
}
