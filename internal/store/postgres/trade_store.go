package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

// Amounts live in NUMERIC(78,0) columns and travel as decimal strings.
const tradeSelectCols = `id::text, market_id, trader, outcome, is_buy,
	amount_in::text, amount_out::text, fee::text, withheld::text, price::text,
	slippage_bps, impact_bps, revealed, ts`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var slippage, impact int64
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.Trader, &t.Outcome, &t.IsBuy,
			&t.AmountIn, &t.AmountOut, &t.Fee, &t.Withheld, &t.Price,
			&slippage, &impact, &t.Revealed, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.SlippageBps, t.ImpactBps = uint64(slippage), uint64(impact)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends one trade. Re-inserting the same id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, market_id, trader, outcome, is_buy,
			amount_in, amount_out, fee, withheld, price,
			slippage_bps, impact_bps, revealed, ts
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13, $14
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.MarketID, t.Trader, t.Outcome, t.IsBuy,
		t.AmountIn, t.AmountOut, t.Fee, t.Withheld, t.Price,
		int64(t.SlippageBps), int64(t.ImpactBps), t.Revealed, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByMarket returns trades for a given market, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := page(`SELECT `+tradeSelectCols+` FROM trades WHERE market_id = $1`,
		[]any{marketID}, "ts", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market: %w", err)
	}
	return trades, nil
}

// ListByTrader returns trades placed by one address across all markets.
func (s *TradeStore) ListByTrader(ctx context.Context, trader string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := page(`SELECT `+tradeSelectCols+` FROM trades WHERE lower(trader) = lower($1)`,
		[]any{trader}, "ts", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by trader: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by trader: %w", err)
	}
	return trades, nil
}
