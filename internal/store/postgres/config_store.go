package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// ConfigStore implements domain.ConfigStore using PostgreSQL.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new ConfigStore backed by the given connection pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

var _ domain.ConfigStore = (*ConfigStore)(nil)

const configSelectCols = `user_id, key, strategy, interval, lots, target_premium,
	intraday, new_trades, real_trade, expiry_policy, hedge_type, hedge_rollover,
	updated_at`

func scanConfigRow(row pgx.Row) (domain.StrategyConfig, error) {
	var c domain.StrategyConfig
	var expiryPolicy, hedgeType, hedgeRollover string

	err := row.Scan(
		&c.UserID, &c.Key, &c.Strategy, &c.Interval, &c.Lots, &c.TargetPremium,
		&c.Intraday, &c.NewTrades, &c.RealTrade,
		&expiryPolicy, &hedgeType, &hedgeRollover,
		&c.UpdatedAt,
	)
	if err != nil {
		return domain.StrategyConfig{}, err
	}
	c.ExpiryPolicy = domain.ExpiryPolicy(expiryPolicy)
	c.HedgeType = domain.HedgeType(hedgeType)
	c.HedgeRollover = domain.HedgeRollover(hedgeRollover)
	return c, nil
}

// List returns all strategy configurations of one user, keyed by strategy key.
func (s *ConfigStore) List(ctx context.Context, userID int64) (map[string]domain.StrategyConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configSelectCols+` FROM strategy_configs WHERE user_id = $1`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list configs for user %d: %w", userID, err)
	}
	defer rows.Close()

	configs := make(map[string]domain.StrategyConfig)
	for rows.Next() {
		c, err := scanConfigRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan config: %w", err)
		}
		configs[c.Key] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list configs for user %d: %w", userID, err)
	}
	return configs, nil
}

// Get returns one strategy configuration, or domain.ErrNotFound.
func (s *ConfigStore) Get(ctx context.Context, userID int64, key string) (domain.StrategyConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configSelectCols+` FROM strategy_configs WHERE user_id = $1 AND key = $2`,
		userID, key)

	c, err := scanConfigRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyConfig{}, domain.ErrNotFound
		}
		return domain.StrategyConfig{}, fmt.Errorf("postgres: get config %d/%s: %w", userID, key, err)
	}
	return c, nil
}

// Upsert inserts or replaces a strategy configuration.
func (s *ConfigStore) Upsert(ctx context.Context, c domain.StrategyConfig) error {
	const query = `
		INSERT INTO strategy_configs (
			user_id, key, strategy, interval, lots, target_premium,
			intraday, new_trades, real_trade,
			expiry_policy, hedge_type, hedge_rollover, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, NOW()
		)
		ON CONFLICT (user_id, key) DO UPDATE SET
			strategy       = EXCLUDED.strategy,
			interval       = EXCLUDED.interval,
			lots           = EXCLUDED.lots,
			target_premium = EXCLUDED.target_premium,
			intraday       = EXCLUDED.intraday,
			new_trades     = EXCLUDED.new_trades,
			real_trade     = EXCLUDED.real_trade,
			expiry_policy  = EXCLUDED.expiry_policy,
			hedge_type     = EXCLUDED.hedge_type,
			hedge_rollover = EXCLUDED.hedge_rollover,
			updated_at     = NOW()`

	_, err := s.pool.Exec(ctx, query,
		c.UserID, c.Key, c.Strategy, c.Interval, c.Lots, c.TargetPremium,
		c.Intraday, c.NewTrades, c.RealTrade,
		string(c.ExpiryPolicy), string(c.HedgeType), string(c.HedgeRollover),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert config %d/%s: %w", c.UserID, c.Key, err)
	}
	return nil
}
