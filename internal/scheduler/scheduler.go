// Package scheduler fans the configured strategy loops out as goroutines,
// one per (user, key), each guarded by a distributed lock so two processes
// never drive the same position slot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

const defaultLockTTL = 12 * time.Hour

// Runner is one strategy loop. A nil return means the loop reached its
// terminal condition.
type Runner interface {
	Run(ctx context.Context) error
}

// BuildFunc constructs the loop for one configuration.
type BuildFunc func(userID int64, cfg domain.StrategyConfig) Runner

// Scheduler owns the loop lifecycle for a set of users.
type Scheduler struct {
	users   []int64
	configs domain.ConfigStore
	locks   domain.LockManager
	build   BuildFunc
	logger  *slog.Logger
	lockTTL time.Duration
}

func New(users []int64, configs domain.ConfigStore, locks domain.LockManager, build BuildFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		users:   users,
		configs: configs,
		locks:   locks,
		build:   build,
		logger:  logger.With(slog.String("component", "scheduler")),
		lockTTL: defaultLockTTL,
	}
}

// SetLockTTL overrides the loop lock TTL. Zero and negative values are
// ignored.
func (s *Scheduler) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// Run starts every configured loop and blocks until all of them finish or
// the context is cancelled. A loop whose lock is held elsewhere is skipped,
// not an error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	started := 0
	for _, userID := range s.users {
		cfgs, err := s.configs.List(ctx, userID)
		if err != nil {
			return fmt.Errorf("scheduler: list configs for user %d: %w", userID, err)
		}
		for key, cfg := range cfgs {
			userID, key, cfg := userID, key, cfg
			started++
			g.Go(func() error {
				return s.runLoop(ctx, userID, key, cfg)
			})
		}
	}
	s.logger.Info("loops started", slog.Int("count", started))
	return g.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, userID int64, key string, cfg domain.StrategyConfig) error {
	log := s.logger.With(slog.Int64("user_id", userID), slog.String("key", key))

	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("loop:%d:%s", userID, key), s.lockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		log.Warn("loop already running elsewhere, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduler: lock %d/%s: %w", userID, key, err)
	}
	defer unlock()

	log.Info("loop starting", slog.String("strategy", cfg.Strategy), slog.String("interval", cfg.Interval))
	err = s.build(userID, cfg).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler: loop %d/%s: %w", userID, key, err)
	}
	log.Info("loop finished")
	return nil
}
