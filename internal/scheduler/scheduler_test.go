package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

type stubConfigs map[int64]map[string]domain.StrategyConfig

func (s stubConfigs) List(_ context.Context, userID int64) (map[string]domain.StrategyConfig, error) {
	return s[userID], nil
}

func (s stubConfigs) Get(_ context.Context, userID int64, key string) (domain.StrategyConfig, error) {
	cfg, ok := s[userID][key]
	if !ok {
		return domain.StrategyConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

func (s stubConfigs) Upsert(context.Context, domain.StrategyConfig) error { return nil }

type stubLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	released int
}

func (l *stubLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

type countingRunner struct {
	mu   sync.Mutex
	runs []string
	fail string
}

func (r *countingRunner) build(userID int64, cfg domain.StrategyConfig) Runner {
	name := fmt.Sprintf("%d/%s", userID, cfg.Key)
	return runnerFunc(func(context.Context) error {
		r.mu.Lock()
		r.runs = append(r.runs, name)
		r.mu.Unlock()
		if name == r.fail {
			return fmt.Errorf("boom")
		}
		return nil
	})
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func cfgFor(key string) domain.StrategyConfig {
	return domain.StrategyConfig{Key: key, Strategy: "EMA_CROSS", Interval: "30minute"}
}

func TestRunStartsOneLoopPerConfig(t *testing.T) {
	configs := stubConfigs{
		1: {"a": cfgFor("a"), "b": cfgFor("b")},
		2: {"c": cfgFor("c")},
	}
	locks := &stubLocks{}
	runner := &countingRunner{}
	s := New([]int64{1, 2}, configs, locks, runner.build, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.Run(context.Background()))
	assert.ElementsMatch(t, []string{"1/a", "1/b", "2/c"}, runner.runs)
	assert.Equal(t, 3, locks.released, "every acquired lock is released")
}

func TestRunSkipsHeldLocks(t *testing.T) {
	configs := stubConfigs{1: {"a": cfgFor("a"), "b": cfgFor("b")}}
	locks := &stubLocks{held: map[string]bool{"loop:1:a": true}}
	runner := &countingRunner{}
	s := New([]int64{1}, configs, locks, runner.build, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"1/b"}, runner.runs, "held lock skips the loop without failing the group")
}

func TestRunPropagatesLoopFailure(t *testing.T) {
	configs := stubConfigs{1: {"a": cfgFor("a")}}
	locks := &stubLocks{}
	runner := &countingRunner{fail: "1/a"}
	s := New([]int64{1}, configs, locks, runner.build, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop 1/a")
	assert.Equal(t, 1, locks.released)
}
