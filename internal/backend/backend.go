// Package backend opens the collaborator selected by configuration.
package backend

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"xferbench/internal/backend/httpapi"
	"xferbench/internal/backend/memory"
	"xferbench/internal/backend/postgres"
	"xferbench/internal/backend/tigerbeetle"
	"xferbench/internal/config"
	"xferbench/internal/outcome"
)

// Transferer is all the Run Executor needs: one call that resolves to
// exactly one outcome.
type Transferer interface {
	Transfer(ctx context.Context, src, dst int, amount int64) outcome.Outcome
}

// Backend adds the coordinator-side operations: per-run reset and the
// balance-conservation check.
type Backend interface {
	Transferer
	Reset(ctx context.Context, numAccounts int, initialBalance int64) error
	TotalBalance(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*memory.Ledger)(nil)
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*httpapi.Client)(nil)
	_ Backend = (*tigerbeetle.Store)(nil)
)

func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, error) {
	switch cfg.Database.Type {
	case config.DatabasePostgres:
		s, err := postgres.Open(ctx, cfg.Postgresql, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DatabaseTigerBeetle:
		s, err := tigerbeetle.Open(cfg.TigerBeetle, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DatabaseHTTP:
		conns := cfg.Workload.Concurrency + cfg.Workload.MaxConcurrency
		return httpapi.NewClient(cfg.HTTP.BaseURL, conns*cfg.NumClients(), cfg.RequestTimeout()), nil
	case config.DatabaseMock:
		m := cfg.Mock
		return memory.New(memory.Options{
			Latency:      msToDuration(m.LatencyMs),
			Jitter:       msToDuration(m.JitterMs),
			ConflictRate: m.ConflictRate,
			OpsPerSec:    m.OpsPerSec,
		}), nil
	}
	return nil, errors.Newf("unknown database type %q", cfg.Database.Type)
}

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
