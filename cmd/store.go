package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/caseward/forensics-cli/internal/annotate"
	"github.com/caseward/forensics-cli/internal/detect"
	"github.com/caseward/forensics-cli/internal/fetch"
	"github.com/caseward/forensics-cli/internal/pipeline"
	"github.com/caseward/forensics-cli/internal/resilience"
	"github.com/caseward/forensics-cli/internal/store"
	"github.com/caseward/forensics-cli/pkg/textanalysis"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "forensics.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func fetchOptions() fetch.Options {
	return fetch.Options{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Fetch.MaxRetries,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
	}
}

func initPipeline(st store.Store) (*pipeline.Pipeline, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (FORENSICS_ANTHROPIC_KEY)")
	}
	client := textanalysis.NewClient(cfg.Anthropic.Key, cfg.Anthropic.Model)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})

	annotator := annotate.New(client, breaker, annotate.Config{
		BatchSize:         cfg.Annotate.BatchSize,
		Concurrency:       cfg.Annotate.Concurrency,
		RequestsPerSecond: cfg.Annotate.RequestsPerSecond,
		Retry: resilience.FromConfig(
			cfg.Annotate.MaxAttempts,
			cfg.Annotate.InitialBackoffMs,
			cfg.Annotate.MaxBackoffMs,
		),
	})

	detector := detect.New(detect.Config{
		DeletedWindow:     time.Duration(cfg.Detect.DeletedWindowMins) * time.Minute,
		DeletedMinCount:   cfg.Detect.DeletedMinCount,
		BurstFraction:     cfg.Detect.BurstFraction,
		SilencePercentile: cfg.Detect.SilencePercentile,
		MinGaps:           cfg.Detect.MinGaps,
		SpikeSigma:        cfg.Detect.SpikeSigma,
		SpikeMinMessages:  cfg.Detect.SpikeMinMessages,
	})

	return pipeline.New(st, annotator, detector, fetchOptions()), nil
}
