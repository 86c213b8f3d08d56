package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory looks up provider profiles. Profiles are managed by an external service.
type Directory interface {
	GetByID(ctx context.Context, id string) (*Provider, error)
}

type pgxDirectory struct {
	pool *pgxpool.Pool
}

func NewPgxDirectory(pool *pgxpool.Pool) Directory {
	return &pgxDirectory{pool: pool}
}

func (d *pgxDirectory) GetByID(ctx context.Context, id string) (*Provider, error) {
	const query = `
		SELECT id, display_name, modes
		FROM public.providers
		WHERE id = $1
	`
	var (
		p     Provider
		modes []string
	)
	if err := d.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.DisplayName, &modes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get provider failed: %w", err)
	}
	for _, m := range modes {
		p.Modes = append(p.Modes, Mode(m))
	}
	return &p, nil
}

// MemoryDirectory is an in-process Directory used by tests and local tooling.
type MemoryDirectory struct {
	mu        sync.RWMutex
	providers map[string]*Provider
}

func NewMemoryDirectory(providers ...*Provider) *MemoryDirectory {
	d := &MemoryDirectory{providers: make(map[string]*Provider)}
	for _, p := range providers {
		d.Put(p)
	}
	return d
}

// Put registers or replaces a provider.
func (d *MemoryDirectory) Put(p *Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *p
	cp.Modes = append([]Mode(nil), p.Modes...)
	d.providers[p.ID] = &cp
}

func (d *MemoryDirectory) GetByID(_ context.Context, id string) (*Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}
