package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiptrace/internal/budget"
	"github.com/sells-group/skiptrace/internal/report"
	"github.com/sells-group/skiptrace/internal/resilience"
	"github.com/sells-group/skiptrace/internal/runner"
	"github.com/sells-group/skiptrace/internal/store"
	"github.com/sells-group/skiptrace/internal/waterfall"
)

// engineEnv holds the store and the components built on it that the
// trace, run, runs and serve commands share.
type engineEnv struct {
	Store        store.Store
	Breakers     *resilience.Breakers
	Orchestrator *waterfall.Orchestrator
	Guard        *budget.Guard
	Reports      *report.Generator
	Manager      *runner.Manager
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store without migrating it.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "skiptrace.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the store and applies migrations. Callers should defer
// Close.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// breakerConfig builds the per-provider circuit breaker settings and logs
// every state change.
func breakerConfig() resilience.BreakerConfig {
	bc := resilience.NewBreakerConfig(cfg.Resilience.FailureThreshold, cfg.Resilience.ResetTimeoutSecs)
	bc.OnStateChange = func(name string, from, to resilience.State) {
		zap.L().Warn("provider circuit state changed",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return bc
}

// initEngine validates config for mode, opens the store and wires the
// provider chain, budget guard, report generator and run manager. Callers
// should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	loc, err := cfg.Budget.Location()
	if err != nil {
		return nil, err
	}

	wfCfg, err := waterfall.LoadConfig(cfg.Waterfall.ConfigPath)
	if err != nil {
		return nil, err
	}
	policy := resilience.NewPolicy(cfg.Resilience.MaxAttempts, cfg.Resilience.InitialBackoffMs, cfg.Resilience.MaxBackoffMs)
	reg, err := waterfall.BuildRegistry(wfCfg, policy)
	if err != nil {
		return nil, err
	}
	if reg.Len() == 0 {
		zap.L().Warn("provider chain is empty, traces will be refused",
			zap.String("config_path", cfg.Waterfall.ConfigPath),
		)
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	breakers := resilience.NewBreakers(breakerConfig())
	orch := waterfall.NewOrchestrator(reg, st, breakers)
	guard := budget.New(st, budget.Config{DailyCapCents: cfg.Budget.DailyCapCents, Location: loc})
	reports := report.NewGenerator(st, loc)
	mgr := runner.New(st, orch, guard, reports, runner.Config{
		Concurrency:  cfg.Runner.Concurrency,
		MaxBatchSize: cfg.Runner.MaxBatchSize,
	})

	zap.L().Info("engine ready",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("providers", orch.Providers()),
		zap.Int64("daily_cap_cents", cfg.Budget.DailyCapCents),
		zap.Int64("max_lookup_cents", orch.MaxLookupCents()),
	)

	return &engineEnv{
		Store:        st,
		Breakers:     breakers,
		Orchestrator: orch,
		Guard:        guard,
		Reports:      reports,
		Manager:      mgr,
	}, nil
}
