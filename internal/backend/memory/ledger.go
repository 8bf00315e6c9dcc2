// Package memory is an in-process account ledger. It stands in for a real
// back-end in tests, in the mock database mode and behind serve-mock.
package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"xferbench/internal/outcome"
)

// Options shape the simulated service time and fault rate.
type Options struct {
	Latency time.Duration
	Jitter  time.Duration

	// SpikeProbability of a request taking SpikeLatency instead.
	SpikeProbability float64
	SpikeLatency     time.Duration

	// ConflictRate is the probability of a serialization conflict.
	ConflictRate float64

	// OpsPerSec caps throughput, 0 means unlimited.
	OpsPerSec int
}

type account struct {
	mu      sync.Mutex
	balance int64
}

type Ledger struct {
	opts    Options
	limiter *rate.Limiter

	mu       sync.RWMutex
	accounts []account

	stallNext atomic.Int64
	calls     atomic.Uint64
}

func New(opts Options) *Ledger {
	l := &Ledger{opts: opts}
	if opts.OpsPerSec > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(opts.OpsPerSec), 1)
	}
	return l
}

// Reset replaces every account with numAccounts fresh ones.
func (l *Ledger) Reset(_ context.Context, numAccounts int, initialBalance int64) error {
	if numAccounts < 0 {
		return errors.Newf("negative account count %d", numAccounts)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make([]account, numAccounts)
	for i := range l.accounts {
		l.accounts[i].balance = initialBalance
	}
	return nil
}

// TotalBalance sums every balance under an exclusive lock.
func (l *Ledger) TotalBalance(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum int64
	for i := range l.accounts {
		sum += l.accounts[i].balance
	}
	return sum, nil
}

func (l *Ledger) Ping(context.Context) error { return nil }
func (l *Ledger) Close() error { return nil }

// StallNext makes the next transfer take d on top of its normal latency.
func (l *Ledger) StallNext(d time.Duration) { l.stallNext.Store(int64(d)) }

// Calls counts Transfer invocations, retries included.
func (l *Ledger) Calls() uint64 { return l.calls.Load() }

func (l *Ledger) serviceTime() time.Duration {
	d := l.opts.Latency
	if l.opts.Jitter > 0 {
		d += rand.N(l.opts.Jitter)
	}
	if l.opts.SpikeProbability > 0 && rand.Float64() < l.opts.SpikeProbability {
		d = l.opts.SpikeLatency
	}
	if s := l.stallNext.Swap(0); s > 0 {
		d += time.Duration(s)
	}
	return d
}

func (l *Ledger) Transfer(ctx context.Context, src, dst int, amount int64) outcome.Outcome {
	l.calls.Add(1)
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return outcome.Fail(outcome.Other, err)
		}
	}
	if d := l.serviceTime(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return outcome.Fail(outcome.Other, ctx.Err())
		case <-t.C:
		}
	}
	if l.opts.ConflictRate > 0 && rand.Float64() < l.opts.ConflictRate {
		return outcome.Fail(outcome.SerializationConflict, errors.New("injected serialization conflict"))
	}
	return l.apply(src, dst, amount)
}

func (l *Ledger) apply(src, dst int, amount int64) outcome.Outcome {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.accounts)
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return outcome.Reject(outcome.AccountNotFound)
	}
	if src == dst || amount <= 0 {
		return outcome.Reject(outcome.ConstraintViolation)
	}

	first, second := &l.accounts[src], &l.accounts[dst]
	if dst < src {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	defer first.mu.Unlock()
	defer second.mu.Unlock()

	from, to := &l.accounts[src], &l.accounts[dst]
	if from.balance < amount {
		return outcome.Reject(outcome.InsufficientBalance)
	}
	from.balance -= amount
	to.balance += amount
	return outcome.Complete()
}
