// Package postgres runs transfers through a PL/pgSQL function over a pgx
// connection pool, either one transaction per transfer or, in batched mode,
// many transfers per batch_transfers() call.
package postgres

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"xferbench/internal/config"
	"xferbench/internal/outcome"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id      BIGINT PRIMARY KEY,
	balance BIGINT NOT NULL CHECK (balance >= 0)
);

CREATE TABLE IF NOT EXISTS transfers (
	id         BIGSERIAL PRIMARY KEY,
	source_id  BIGINT NOT NULL,
	dest_id    BIGINT NOT NULL,
	amount     BIGINT NOT NULL CHECK (amount > 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION transfer(p_src BIGINT, p_dst BIGINT, p_amount BIGINT)
RETURNS TEXT AS $$
DECLARE
	v_balance BIGINT;
	v_found   INT;
BEGIN
	SELECT count(*) INTO v_found FROM (
		SELECT id FROM accounts WHERE id IN (p_src, p_dst) ORDER BY id FOR UPDATE
	) locked;
	IF v_found < 2 THEN
		RETURN 'account_not_found';
	END IF;

	SELECT balance INTO v_balance FROM accounts WHERE id = p_src;
	IF v_balance < p_amount THEN
		RETURN 'insufficient_balance';
	END IF;

	UPDATE accounts SET balance = balance - p_amount WHERE id = p_src;
	UPDATE accounts SET balance = balance + p_amount WHERE id = p_dst;
	INSERT INTO transfers (source_id, dest_id, amount) VALUES (p_src, p_dst, p_amount);
	RETURN 'success';
END;
$$ LANGUAGE plpgsql;
`

type Store struct {
	pool    *pgxpool.Pool
	iso     pgx.TxIsoLevel
	log     *zap.Logger
	batcher *Batcher
}

func isoLevel(name string) (pgx.TxIsoLevel, error) {
	switch name {
	case "", "read_committed":
		return pgx.ReadCommitted, nil
	case "repeatable_read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	}
	return "", errors.Newf("unknown isolation level %q", name)
}

// Open connects the pool and, unless SkipSetup is set, installs the schema.
func Open(ctx context.Context, cfg config.PostgresqlConfig, log *zap.Logger) (*Store, error) {
	iso, err := isoLevel(cfg.IsolationLevel)
	if err != nil {
		return nil, err
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgresql dsn")
	}
	pcfg.MaxConns = int32(cfg.ConnectionPoolSize)
	if cfg.ConnectionPoolMinIdle > 0 {
		pcfg.MinConns = int32(cfg.ConnectionPoolMinIdle)
	}
	if cfg.BatchedMode {
		// one for the batch processor, one for reset and the balance check
		pcfg.MaxConns = 2
		pcfg.MinConns = 0
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errors.Wrap(err, "create postgresql pool")
	}
	s := &Store{pool: pool, iso: iso, log: log.With(zap.String("component", "postgres"))}
	if !cfg.SkipSetup {
		if err := s.Setup(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	if cfg.BatchedMode {
		s.batcher = NewBatcher(s.execBatch, MaxBatchSize, s.log)
		s.log.Info("batched mode", zap.Int("max_batch", MaxBatchSize))
	}
	return s, nil
}

// Setup creates the tables and the transfer function. Safe to repeat.
func (s *Store) Setup(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "install schema")
	}
	if _, err := s.pool.Exec(ctx, batchSchema); err != nil {
		return errors.Wrap(err, "install batch function")
	}
	s.log.Info("schema installed")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return errors.Wrap(s.pool.Ping(ctx), "ping postgresql")
}

func (s *Store) Close() error {
	if s.batcher != nil {
		s.batcher.Close()
	}
	s.pool.Close()
	return nil
}

// Transfer moves amount between the accounts at indexes src and dst. Account
// ids in the table are 1-based.
func (s *Store) Transfer(ctx context.Context, src, dst int, amount int64) outcome.Outcome {
	if s.batcher != nil {
		return s.batcher.Submit(ctx, int64(src)+1, int64(dst)+1, amount)
	}
	var result string
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: s.iso}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT transfer($1, $2, $3)", int64(src)+1, int64(dst)+1, amount).Scan(&result)
	})
	if err != nil {
		return Classify(err)
	}
	return fromResult(result)
}

func fromResult(result string) outcome.Outcome {
	switch result {
	case "success":
		return outcome.Complete()
	case "insufficient_balance":
		return outcome.Reject(outcome.InsufficientBalance)
	case "account_not_found":
		return outcome.Reject(outcome.AccountNotFound)
	default:
		return outcome.Fail(outcome.Other, errors.Newf("unexpected transfer result %q", result))
	}
}

// Reset truncates both tables and recreates numAccounts accounts, then
// checkpoints and vacuums so every run starts from the same state.
func (s *Store) Reset(ctx context.Context, numAccounts int, initialBalance int64) error {
	reset := fmt.Sprintf(
		"TRUNCATE transfers, accounts; INSERT INTO accounts (id, balance) SELECT generate_series(1, %d), %d",
		numAccounts, initialBalance)
	if _, err := s.pool.Exec(ctx, reset); err != nil {
		return errors.Wrap(err, "reset accounts")
	}
	for _, stmt := range []string{"CHECKPOINT", "VACUUM ANALYZE"} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			// CHECKPOINT needs elevated privileges on managed servers.
			s.log.Warn("maintenance statement failed", zap.String("stmt", stmt), zap.Error(err))
		}
	}
	s.log.Info("database reset",
		zap.Int("accounts", numAccounts),
		zap.Int64("initial_balance", initialBalance))
	return nil
}

func (s *Store) TotalBalance(ctx context.Context) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(SUM(balance), 0)::BIGINT FROM accounts").Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "sum balances")
	}
	return total, nil
}
