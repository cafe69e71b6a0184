package main

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/ratio-cli/internal/config"
	"github.com/sells-group/ratio-cli/internal/db"
	"github.com/sells-group/ratio-cli/internal/ratios"
	"github.com/sells-group/ratio-cli/internal/resilience"
	"github.com/sells-group/ratio-cli/internal/store"
	"github.com/sells-group/ratio-cli/pkg/anthropic"
	"github.com/sells-group/ratio-cli/pkg/gemini"
)

const defaultSQLitePath = "ratios.db"

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func retryPolicy(rc config.RetryConfig) resilience.Policy {
	return resilience.FromRetryConfig(
		rc.MaxAttempts, rc.InitialBackoffMs, rc.MaxBackoffMs, rc.AttemptTimeoutSecs,
		rc.Multiplier, rc.JitterFraction,
	)
}

// newCalculator builds the configured ratio backend.
func newCalculator(ctx context.Context) (ratios.Calculator, error) {
	switch cfg.Compute.Backend {
	case config.BackendFormula:
		return ratios.NewFormulaCalculator(), nil
	case config.BackendAnthropic:
		client := anthropic.NewClient(cfg.Anthropic.Key)
		return ratios.NewAnthropicCalculator(client, cfg.Anthropic.Model, int64(cfg.Compute.MaxTokens), cfg.Compute.Temperature), nil
	case config.BackendGemini:
		client, err := gemini.NewClient(ctx, gemini.Options{APIKey: cfg.Gemini.Key})
		if err != nil {
			return nil, err
		}
		return ratios.NewGeminiCalculator(client, cfg.Gemini.Model, int32(cfg.Compute.MaxTokens), float32(cfg.Compute.Temperature)), nil
	default:
		return nil, eris.Errorf("unsupported compute backend: %s", cfg.Compute.Backend)
	}
}

// newEngine wraps the calculator with retry, and for remote backends a
// circuit breaker and rate limiter.
func newEngine(ctx context.Context) (*ratios.Engine, error) {
	calc, err := newCalculator(ctx)
	if err != nil {
		return nil, err
	}

	opts := ratios.EngineOptions{Retry: retryPolicy(cfg.Retry.Compute)}
	if cfg.Compute.Backend != config.BackendFormula {
		opts.Breaker = resilience.NewCircuitBreaker(
			resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
		)
		if cfg.Compute.RequestsPerSecond > 0 {
			burst := cfg.Compute.Burst
			if burst < 1 {
				burst = 1
			}
			opts.Limiter = rate.NewLimiter(rate.Limit(cfg.Compute.RequestsPerSecond), burst)
		}
	}
	return ratios.NewEngine(calc, opts), nil
}
