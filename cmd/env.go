package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
	"github.com/kestrel-commerce/sourcing-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sourcing.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// policyEnv bundles the wired policy engine for commands that evaluate
// categories. Window aggregation runs SQL against the trial tables, so the
// full engine is only available on the postgres driver; sqlite covers the
// event log and keyword catalog for local work.
type policyEnv struct {
	store     store.Store
	stats     *policy.Aggregator
	events    *policy.EventLog
	evaluator *policy.Evaluator
	mapper    *policy.ActionMapper
}

func (e *policyEnv) Close() {
	_ = e.store.Close()
}

func initPolicyEnv(ctx context.Context) (*policyEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	pg, ok := st.(*store.PostgresStore)
	if !ok {
		_ = st.Close()
		return nil, eris.Errorf("policy evaluation requires the postgres store (driver is %s)", cfg.Store.Driver)
	}

	stats := policy.NewAggregator(pg.Pool())
	events := policy.NewEventLog(st, cfg.Policy)

	return &policyEnv{
		store:     st,
		stats:     stats,
		events:    events,
		evaluator: policy.NewEvaluator(stats, events, st, cfg.Policy),
		mapper:    policy.NewActionMapper(cfg.Action.PrimaryMarket, cfg.Action.SecondaryMarket),
	}, nil
}

func actionMode() model.Mode {
	return model.Mode(cfg.Action.Mode)
}
