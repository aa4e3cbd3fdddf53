package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"figureworks/internal/adapter/repo"
	"figureworks/internal/domain"
	"figureworks/internal/infra"
	"figureworks/internal/infra/credentials"
)

type tokenStore interface {
	SetToken(ctx context.Context, provider, token string, props map[string]any) error
}

// cliEnv opens the database on first use so commands that do not need it
// (token) run without DATABASE_URL.
type cliEnv struct {
	cfg     *infra.Config
	pool    *pgxpool.Pool
	sql     infra.SQLExecutor
	ledger  domain.CreditLedger
	figures domain.FigureRepository
	tokens  tokenStore
	ready   bool
}

func (e *cliEnv) open(ctx context.Context) error {
	if e.ready {
		return nil
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	runner := infra.NewSQLRunner(pool, infra.NewLogger(cfg.AppEnv, "figurectl"))
	e.cfg, e.pool, e.sql = cfg, pool, runner
	e.ledger = repo.NewCreditLedger(runner)
	e.figures = repo.NewFigureRepository(runner)
	e.tokens = credentials.NewStore(runner)
	e.ready = true
	return nil
}

func (e *cliEnv) ensureSchema(ctx context.Context) error {
	if err := e.open(ctx); err != nil {
		return err
	}
	if e.sql == nil {
		return fmt.Errorf("no database configured")
	}
	return repo.EnsureSchema(ctx, e.sql)
}

func (e *cliEnv) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}
