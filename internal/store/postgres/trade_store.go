package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hdkhatri/niftyflow/internal/domain"
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

const tradeSelectCols = `position_id, user_id, key, interval, expiry_policy, strategy,
	signal, spot_entry, spot_exit, symbol, strike, expiry,
	entry_price, entry_time, exit_price, exit_time, exit_reason,
	qty, real_trade, entry_reason, pnl,
	hedge_symbol, hedge_strike, hedge_entry, hedge_qty, hedge_time,
	hedge_exit, hedge_exit_time, hedge_pnl, total_pnl`

func scanTradeRows(rows pgx.Rows) ([]domain.CompletedTrade, error) {
	var trades []domain.CompletedTrade
	for rows.Next() {
		var t domain.CompletedTrade
		var signal, expiryPolicy string
		var hedgeTime, hedgeExitTime *time.Time

		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Key, &t.Interval, &expiryPolicy, &t.Strategy,
			&signal, &t.SpotEntry, &t.SpotExit, &t.Symbol, &t.Strike, &t.Expiry,
			&t.EntryPrice, &t.EntryTime, &t.ExitPrice, &t.ExitTime, &t.ExitReason,
			&t.Qty, &t.RealTrade, &t.EntryReason, &t.PnL,
			&t.Hedge.Symbol, &t.Hedge.Strike, &t.Hedge.EntryPrice, &t.Hedge.Qty, &hedgeTime,
			&t.HedgeExitPrice, &hedgeExitTime, &t.HedgePnL, &t.TotalPnL,
		); err != nil {
			return nil, err
		}
		t.Signal = domain.Side(signal)
		t.ExpiryPolicy = domain.ExpiryPolicy(expiryPolicy)
		if hedgeTime != nil {
			t.Hedge.EntryTime = *hedgeTime
		}
		if hedgeExitTime != nil {
			t.HedgeExitTime = *hedgeExitTime
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends a completed trade. Rows are never updated afterwards.
func (s *TradeStore) Insert(ctx context.Context, t domain.CompletedTrade) error {
	const query = `
		INSERT INTO completed_trades (
			position_id, user_id, key, interval, expiry_policy, strategy,
			signal, spot_entry, spot_exit, symbol, strike, expiry,
			entry_price, entry_time, exit_price, exit_time, exit_reason,
			qty, real_trade, entry_reason, pnl,
			hedge_symbol, hedge_strike, hedge_entry, hedge_qty, hedge_time,
			hedge_exit, hedge_exit_time, hedge_pnl, total_pnl
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24, $25, $26,
			$27, $28, $29, $30
		)`

	var hedgeTime, hedgeExitTime *time.Time
	if t.Hedge.Active() {
		ht := t.Hedge.EntryTime
		hedgeTime = &ht
	}
	if !t.HedgeExitTime.IsZero() {
		he := t.HedgeExitTime
		hedgeExitTime = &he
	}

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.UserID, t.Key, t.Interval, string(t.ExpiryPolicy), t.Strategy,
		string(t.Signal), t.SpotEntry, t.SpotExit, t.Symbol, t.Strike, t.Expiry,
		t.EntryPrice, t.EntryTime, t.ExitPrice, t.ExitTime, t.ExitReason,
		t.Qty, t.RealTrade, t.EntryReason, t.PnL,
		t.Hedge.Symbol, t.Hedge.Strike, t.Hedge.EntryPrice, t.Hedge.Qty, hedgeTime,
		t.HedgeExitPrice, hedgeExitTime, t.HedgePnL, t.TotalPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListBefore returns up to limit trades that exited before cutoff, oldest
// first. The archiver drains old rows with it.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.CompletedTrade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM completed_trades
		WHERE exit_time < $1 ORDER BY exit_time ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades that exited before cutoff and reports how many
// rows were deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM completed_trades WHERE exit_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
