package postgres

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"xferbench/internal/outcome"
)

// MaxBatchSize matches TigerBeetle's per-request limit so both back-ends see
// the same batching.
const MaxBatchSize = 8190

// Result codes returned by batch_transfers().
const (
	batchSuccess             int16 = 0
	batchInsufficientBalance int16 = 1
	batchAccountNotFound     int16 = 2
	batchFailed              int16 = 3
)

const batchSchema = `
CREATE OR REPLACE FUNCTION batch_transfers(p_src BIGINT[], p_dst BIGINT[], p_amount BIGINT[])
RETURNS SMALLINT[] AS $$
DECLARE
	v_results SMALLINT[] := '{}';
	v_status  TEXT;
BEGIN
	FOR i IN 1 .. coalesce(array_length(p_src, 1), 0) LOOP
		BEGIN
			v_status := transfer(p_src[i], p_dst[i], p_amount[i]);
			v_results := v_results || (CASE v_status
				WHEN 'success' THEN 0
				WHEN 'insufficient_balance' THEN 1
				WHEN 'account_not_found' THEN 2
				ELSE 3 END)::SMALLINT;
		EXCEPTION WHEN OTHERS THEN
			v_results := v_results || 3::SMALLINT;
		END;
	END LOOP;
	RETURN v_results;
END;
$$ LANGUAGE plpgsql;
`

var errBatcherClosed = errors.New("batch processor shut down")

// BatchFunc executes one batch and returns one result code per transfer.
// Account ids are already 1-based.
type BatchFunc func(ctx context.Context, src, dst, amounts []int64) ([]int16, error)

type batchRequest struct {
	src, dst, amount int64
	reply            chan outcome.Outcome
}

// Batcher queues transfers from many workers and executes them from a single
// goroutine, draining whatever is pending (up to maxBatch) into each call.
type Batcher struct {
	exec     BatchFunc
	maxBatch int
	log      *zap.Logger

	requests chan batchRequest
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func NewBatcher(exec BatchFunc, maxBatch int, log *zap.Logger) *Batcher {
	if maxBatch < 1 {
		maxBatch = MaxBatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher{
		exec:     exec,
		maxBatch: maxBatch,
		log:      log,
		// room for two full batches while one executes
		requests: make(chan batchRequest, 2*maxBatch),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.loop()
	return b
}

// Submit queues one transfer and waits for its result.
func (b *Batcher) Submit(ctx context.Context, src, dst, amount int64) outcome.Outcome {
	req := batchRequest{src: src, dst: dst, amount: amount, reply: make(chan outcome.Outcome, 1)}
	select {
	case b.requests <- req:
	case <-ctx.Done():
		return outcome.Fail(outcome.Other, ctx.Err())
	case <-b.done:
		return outcome.Fail(outcome.ConnectionError, errBatcherClosed)
	}
	select {
	case out := <-req.reply:
		return out
	case <-ctx.Done():
		return outcome.Fail(outcome.Other, ctx.Err())
	case <-b.done:
		return outcome.Fail(outcome.ConnectionError, errBatcherClosed)
	}
}

// Pending is the number of queued, not yet collected transfers.
func (b *Batcher) Pending() int { return len(b.requests) }

// Close stops the processor. Transfers still waiting fail.
func (b *Batcher) Close() {
	b.once.Do(func() {
		b.cancel()
		<-b.done
	})
}

func (b *Batcher) loop() {
	defer close(b.done)
	batch := make([]batchRequest, 0, b.maxBatch)
	for {
		select {
		case <-b.ctx.Done():
			return
		case first := <-b.requests:
			batch = append(batch[:0], first)
		}
	collect:
		for len(batch) < b.maxBatch {
			select {
			case req := <-b.requests:
				batch = append(batch, req)
			default:
				break collect
			}
		}
		b.execute(batch)
	}
}

func (b *Batcher) execute(batch []batchRequest) {
	src := make([]int64, len(batch))
	dst := make([]int64, len(batch))
	amounts := make([]int64, len(batch))
	for i, req := range batch {
		src[i], dst[i], amounts[i] = req.src, req.dst, req.amount
	}

	codes, err := b.exec(b.ctx, src, dst, amounts)
	switch {
	case err != nil:
		b.log.Warn("batch transfer failed", zap.Int("size", len(batch)), zap.Error(err))
		out := Classify(err)
		for _, req := range batch {
			req.reply <- out
		}
	case len(codes) != len(batch):
		err := errors.Newf("batch returned %d results for %d transfers", len(codes), len(batch))
		b.log.Error("batch result count mismatch", zap.Error(err))
		for _, req := range batch {
			req.reply <- outcome.Fail(outcome.Other, err)
		}
	default:
		for i, req := range batch {
			req.reply <- fromCode(codes[i])
		}
	}
}

func fromCode(code int16) outcome.Outcome {
	switch code {
	case batchSuccess:
		return fromResult("success")
	case batchInsufficientBalance:
		return fromResult("insufficient_balance")
	case batchAccountNotFound:
		return fromResult("account_not_found")
	default:
		return fromResult("failed")
	}
}

// execBatch runs batch_transfers() in one transaction at the store's
// isolation level.
func (s *Store) execBatch(ctx context.Context, src, dst, amounts []int64) ([]int16, error) {
	var codes []int16
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: s.iso}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT batch_transfers($1, $2, $3)", src, dst, amounts).Scan(&codes)
	})
	return codes, err
}
