package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketCols = `id, name, outcomes, phase, end_time, winner,
	version, state, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var phase string
	err := row.Scan(
		&m.ID, &m.Name, &m.Outcomes, &phase, &m.EndTime, &m.Winner,
		&m.Version, &m.State, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Phase = domain.Phase(phase)
	return m, nil
}

func scanMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Create inserts a new market. It fails with domain.ErrAlreadyExists when
// the id is taken.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, name, outcomes, phase, end_time, winner,
			version, state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.Name, m.Outcomes, string(m.Phase), m.EndTime, m.Winner,
		m.Version, m.State, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Save replaces the snapshot of an existing market. The row must still be
// at m.Version-1, otherwise domain.ErrStaleVersion is returned.
func (s *MarketStore) Save(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			phase      = $2,
			winner     = $3,
			version    = $4,
			state      = $5,
			updated_at = NOW()
		WHERE id = $1 AND version = $4 - 1`

	tag, err := s.pool.Exec(ctx, query, m.ID, string(m.Phase), m.Winner, m.Version, m.State)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current int64
	err = s.pool.QueryRow(ctx, `SELECT version FROM markets WHERE id = $1`, m.ID).Scan(&current)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, notFound(err))
	}
	return fmt.Errorf("postgres: save market %s at version %d (stored %d): %w",
		m.ID, m.Version, current, domain.ErrStaleVersion)
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := page(`SELECT `+marketCols+` FROM markets WHERE 1=1`, nil, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

// ListByPhase returns every market in one of phases, soonest end time first.
func (s *MarketStore) ListByPhase(ctx context.Context, phases ...domain.Phase) ([]domain.Market, error) {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE phase = ANY($1) ORDER BY end_time ASC`, names)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by phase: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets by phase: %w", err)
	}
	return markets, nil
}
