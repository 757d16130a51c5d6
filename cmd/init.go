package main

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/surgeon-pipeline/internal/aggregate"
	"github.com/sells-group/surgeon-pipeline/internal/artifact"
	"github.com/sells-group/surgeon-pipeline/internal/config"
	"github.com/sells-group/surgeon-pipeline/internal/enrich"
	"github.com/sells-group/surgeon-pipeline/internal/extract"
	"github.com/sells-group/surgeon-pipeline/internal/model"
	"github.com/sells-group/surgeon-pipeline/internal/normalize"
	"github.com/sells-group/surgeon-pipeline/internal/pipeline"
	"github.com/sells-group/surgeon-pipeline/internal/resilience"
	"github.com/sells-group/surgeon-pipeline/internal/store"
	"github.com/sells-group/surgeon-pipeline/pkg/anthropic"
)

// initStore opens and migrates the configured store.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "surgeons.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// storeConfigured reports whether a store is reachable without further
// settings. Stages that do not need one still record stage runs when it is.
func storeConfigured(c *config.Config) bool {
	return c.Store.Driver == "sqlite" || c.Store.DatabaseURL != ""
}

func initExtractor(c *config.Config) (*extract.Extractor, error) {
	profile, err := extract.LoadProfile(c.Source.ProfilePath)
	if err != nil {
		return nil, err
	}
	if c.Source.Origin != "" {
		profile.Origin = c.Source.Origin
	}

	strategy, err := extract.NewStrategy(c.Source.Strategy, profile, c.Source.WaitTimeout)
	if err != nil {
		return nil, err
	}

	return extract.New(extract.NewChromeBrowser(c.Source.Headless), strategy, extract.Options{
		URL:               c.Source.URL,
		NavigationTimeout: c.Source.NavigationTimeout,
	}), nil
}

// newOracleBreaker trips only on transient oracle failures, so a run of
// rejected requests does not fail the surgeons that follow.
func newOracleBreaker(e config.EnrichConfig) *resilience.CircuitBreaker {
	cfg := resilience.NewCircuitBreakerConfig("anthropic",
		e.CircuitFailureThreshold,
		time.Duration(e.CircuitResetSecs)*time.Second)
	cfg.ShouldTrip = resilience.IsTransient
	return resilience.NewCircuitBreaker(cfg)
}

func initEnricher(c *config.Config, st store.Store) *enrich.Enricher {
	oracle := enrich.NewAnthropicOracle(anthropic.NewClient(c.Anthropic.Key), c.Anthropic)

	retry := resilience.NewRetryConfig(c.Enrich.MaxAttempts,
		time.Duration(c.Enrich.InitialBackoffMs)*time.Millisecond)
	retry.OnRetry = resilience.RetryLogger("anthropic", "enrich")

	breaker := newOracleBreaker(c.Enrich)

	return enrich.New(st, oracle, enrich.Options{
		BatchSize:         c.Enrich.BatchSize,
		Concurrency:       c.Enrich.Concurrency,
		RequestsPerSecond: c.Enrich.RequestsPerSecond,
		Retry:             retry,
		Breaker:           breaker,
	})
}

// pipelineEnv holds the pipeline and the resources it owns.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline builds a Pipeline with the dependencies the given stages
// need. Callers should defer env.Close().
func initPipeline(ctx context.Context, c *config.Config, stages ...model.Stage) (*pipelineEnv, error) {
	needs := func(s model.Stage) bool { return slices.Contains(stages, s) }
	env := &pipelineEnv{}
	deps := pipeline.Deps{}

	if needs(model.StageLoad) || needs(model.StageEnrich) || needs(model.StageAggregate) || storeConfigured(c) {
		st, err := initStore(ctx, c)
		if err != nil {
			return nil, err
		}
		env.Store = st
		deps.Store = st
	}

	if needs(model.StageExtract) {
		ex, err := initExtractor(c)
		if err != nil {
			env.Close()
			return nil, err
		}
		deps.Extractor = ex
	}
	if needs(model.StageEnrich) {
		deps.Enricher = initEnricher(c, env.Store)
	}
	if needs(model.StageAggregate) {
		deps.Aggregator = aggregate.New(env.Store, c.Aggregate.Concurrency)
	}

	env.Pipeline = pipeline.New(deps, artifact.Dir(c.Artifacts.Dir), normalize.Options{
		DefaultCountry: c.Normalize.DefaultCountry,
	})
	return env, nil
}

// stagesFrom returns from and every stage after it.
func stagesFrom(from model.Stage) ([]model.Stage, error) {
	all := model.Stages()
	idx := slices.Index(all, from)
	if idx < 0 {
		return nil, eris.Errorf("unknown stage %q (want one of %v)", from, all)
	}
	return all[idx:], nil
}
