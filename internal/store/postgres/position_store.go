package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, user_id, key, interval, expiry_policy, strategy,
	signal, spot_entry, symbol, strike, expiry, entry_price, entry_time,
	qty, real_trade, entry_reason,
	hedge_symbol, hedge_strike, hedge_entry, hedge_qty, hedge_time`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var signal, expiryPolicy string
	var hedgeTime *time.Time

	err := row.Scan(
		&p.ID, &p.UserID, &p.Key, &p.Interval, &expiryPolicy, &p.Strategy,
		&signal, &p.SpotEntry, &p.Symbol, &p.Strike, &p.Expiry,
		&p.EntryPrice, &p.EntryTime,
		&p.Qty, &p.RealTrade, &p.EntryReason,
		&p.Hedge.Symbol, &p.Hedge.Strike, &p.Hedge.EntryPrice, &p.Hedge.Qty,
		&hedgeTime,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Signal = domain.Side(signal)
	p.ExpiryPolicy = domain.ExpiryPolicy(expiryPolicy)
	if hedgeTime != nil {
		p.Hedge.EntryTime = *hedgeTime
	}
	return p, nil
}

// Save upserts the open position of its strategy loop. Each loop owns at most
// one row, keyed by (user_id, key, interval, expiry_policy, strategy).
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO open_positions (
			id, user_id, key, interval, expiry_policy, strategy,
			signal, spot_entry, symbol, strike, expiry, entry_price, entry_time,
			qty, real_trade, entry_reason,
			hedge_symbol, hedge_strike, hedge_entry, hedge_qty, hedge_time,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20, $21,
			NOW()
		)
		ON CONFLICT (user_id, key, interval, expiry_policy, strategy) DO UPDATE SET
			id           = EXCLUDED.id,
			signal       = EXCLUDED.signal,
			spot_entry   = EXCLUDED.spot_entry,
			symbol       = EXCLUDED.symbol,
			strike       = EXCLUDED.strike,
			expiry       = EXCLUDED.expiry,
			entry_price  = EXCLUDED.entry_price,
			entry_time   = EXCLUDED.entry_time,
			qty          = EXCLUDED.qty,
			real_trade   = EXCLUDED.real_trade,
			entry_reason = EXCLUDED.entry_reason,
			hedge_symbol = EXCLUDED.hedge_symbol,
			hedge_strike = EXCLUDED.hedge_strike,
			hedge_entry  = EXCLUDED.hedge_entry,
			hedge_qty    = EXCLUDED.hedge_qty,
			hedge_time   = EXCLUDED.hedge_time,
			updated_at   = NOW()`

	var hedgeTime *time.Time
	if p.Hedge.Active() {
		t := p.Hedge.EntryTime
		hedgeTime = &t
	}

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Key, p.Interval, string(p.ExpiryPolicy), p.Strategy,
		string(p.Signal), p.SpotEntry, p.Symbol, p.Strike, p.Expiry,
		p.EntryPrice, p.EntryTime,
		p.Qty, p.RealTrade, p.EntryReason,
		p.Hedge.Symbol, p.Hedge.Strike, p.Hedge.EntryPrice, p.Hedge.Qty,
		hedgeTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	return nil
}

// Load retrieves the open position for the given key, or domain.ErrNotFound
// when the loop is flat.
func (s *PositionStore) Load(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM open_positions
		 WHERE user_id = $1 AND key = $2 AND interval = $3
		   AND expiry_policy = $4 AND strategy = $5`,
		key.UserID, key.Key, key.Interval, string(key.ExpiryPolicy), key.Strategy)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: load position %d/%s: %w", key.UserID, key.Key, err)
	}
	return p, nil
}

// Delete removes the open position for the given key. Deleting an absent row
// is not an error; the loop may already be flat.
func (s *PositionStore) Delete(ctx context.Context, key domain.PositionKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM open_positions
		 WHERE user_id = $1 AND key = $2 AND interval = $3
		   AND expiry_policy = $4 AND strategy = $5`,
		key.UserID, key.Key, key.Interval, string(key.ExpiryPolicy), key.Strategy)
	if err != nil {
		return fmt.Errorf("postgres: delete position %d/%s: %w", key.UserID, key.Key, err)
	}
	return nil
}
