// File: cmd/wiring.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/browser"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
	"github.com/AGmitmanipal/MINDMESH/internal/llmclient"
	"github.com/AGmitmanipal/MINDMESH/internal/runner"
	"github.com/AGmitmanipal/MINDMESH/internal/store"
)

// buildStorage connects the Postgres store when a database URL is configured.
// Without one the agent runs memoryless, which is fine for one-shot runs.
func buildStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Storage, func(), error) {
	if cfg.Database.URL == "" {
		logger.Info("No database configured; memory persistence disabled")
		return nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	// The database often comes up alongside the service; wait for it with
	// exponential backoff before wiring the store.
	wait := backoff.NewExponentialBackOff()
	wait.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(func() error { return pool.Ping(ctx) }, backoff.WithContext(wait, ctx)); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database not reachable: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return st, pool.Close, nil
}

// buildRunner assembles the full run core: browser, storage, embedder and the
// state machine. The storage is returned alongside the runner so the request
// layer can serve persisted memory; the cleanup tears everything down in
// order.
func buildRunner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runner.Runner, schemas.Storage, func(), error) {
	storage, closeStorage, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	ctrl, err := browser.NewControl(ctx, cfg.Browser, logger)
	if err != nil {
		closeStorage()
		return nil, nil, nil, err
	}

	embedder := llmclient.NewLocalEmbedder(cfg.Agent.LLM.OnDevice, logger)
	run := runner.NewRunner(cfg.Agent, ctrl, storage, embedder, logger.Named("runner"))

	cleanup := func() {
		if err := ctrl.Shutdown(context.Background()); err != nil {
			logger.Warn("Browser shutdown failed", zap.Error(err))
		}
		closeStorage()
	}
	return run, storage, cleanup, nil
}
