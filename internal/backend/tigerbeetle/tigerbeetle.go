// Package tigerbeetle runs transfers against a TigerBeetle cluster.
//
// TigerBeetle cannot delete accounts, so every Reset creates a fresh
// generation of accounts: the high 64 bits of an account id are the
// generation, the low 64 bits the 1-based account index. A generation is
// funded from its own unconstrained bank account.
package tigerbeetle

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	tb "github.com/tigerbeetle/tigerbeetle-go"
	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"
	"go.uber.org/zap"

	"xferbench/internal/config"
	"xferbench/internal/outcome"
)

// MaxBatchSize is the cluster's limit on events per request.
const MaxBatchSize = 8190

const (
	ledger = 1
	code   = 1
)

// Client is the part of the TigerBeetle client the store uses.
type Client interface {
	CreateAccounts(accounts []types.Account) ([]types.AccountEventResult, error)
	CreateTransfers(transfers []types.Transfer) ([]types.TransferEventResult, error)
	LookupAccounts(ids []types.Uint128) ([]types.Account, error)
	Close()
}

type Store struct {
	client Client
	log    *zap.Logger

	generation  atomic.Uint64
	numAccounts atomic.Int64
}

// Open connects to the cluster.
func Open(cfg config.TigerBeetleConfig, log *zap.Logger) (*Store, error) {
	c, err := tb.NewClient(types.ToUint128(cfg.ClusterID), cfg.ClusterAddresses)
	if err != nil {
		return nil, errors.Wrapf(err, "connect tigerbeetle %v", cfg.ClusterAddresses)
	}
	log.Info("connected to tigerbeetle", zap.Strings("addresses", cfg.ClusterAddresses))
	return New(c, log), nil
}

func New(c Client, log *zap.Logger) *Store {
	s := &Store{client: c, log: log.With(zap.String("component", "tigerbeetle"))}
	// unique across processes sharing one cluster
	s.generation.Store(uint64(time.Now().UnixNano()))
	return s
}

func pack(hi, lo uint64) types.Uint128 {
	var u types.Uint128
	binary.LittleEndian.PutUint64(u[:8], lo)
	binary.LittleEndian.PutUint64(u[8:], hi)
	return u
}

func low64(u types.Uint128) uint64 { return binary.LittleEndian.Uint64(u[:8]) }

func accountID(gen uint64, index int) types.Uint128 { return pack(gen, uint64(index)+1) }

func bankID(gen uint64) types.Uint128 { return pack(gen, math.MaxUint64) }

func newID() types.Uint128 { return types.Uint128(uuid.New()) }

func (s *Store) Transfer(ctx context.Context, src, dst int, amount int64) outcome.Outcome {
	if err := ctx.Err(); err != nil {
		return outcome.Fail(outcome.Other, err)
	}
	gen := s.generation.Load()
	res, err := s.client.CreateTransfers([]types.Transfer{{
		ID:              newID(),
		DebitAccountID:  accountID(gen, src),
		CreditAccountID: accountID(gen, dst),
		Amount:          types.ToUint128(uint64(amount)),
		Ledger:          ledger,
		Code:            code,
	}})
	if err != nil {
		return outcome.Fail(outcome.ConnectionError, err)
	}
	if len(res) == 0 {
		return outcome.Complete()
	}
	return fromResult(res[0].Result)
}

// fromResult maps a CreateTransfers result onto the outcome taxonomy.
func fromResult(r types.CreateTransferResult) outcome.Outcome {
	switch r {
	case types.TransferOK:
		return outcome.Complete()
	case types.TransferExceedsCredits, types.TransferExceedsDebits:
		return outcome.Reject(outcome.InsufficientBalance)
	case types.TransferDebitAccountNotFound, types.TransferCreditAccountNotFound:
		return outcome.Reject(outcome.AccountNotFound)
	case types.TransferAccountsMustBeDifferent:
		return outcome.Reject(outcome.ConstraintViolation)
	default:
		return outcome.Fail(outcome.Other, errors.Newf("create transfer: %v", r))
	}
}

func batches(n int, fn func(start, end int) error) error {
	for start := 0; start < n; start += MaxBatchSize {
		if err := fn(start, min(start+MaxBatchSize, n)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createAccounts(accounts []types.Account) error {
	res, err := s.client.CreateAccounts(accounts)
	if err != nil {
		return errors.Wrap(err, "create accounts")
	}
	for _, r := range res {
		if r.Result != types.AccountExists {
			return errors.Newf("create account %d: %v", r.Index, r.Result)
		}
	}
	return nil
}

// Reset switches to a new generation of numAccounts accounts, each funded
// with initialBalance.
func (s *Store) Reset(ctx context.Context, numAccounts int, initialBalance int64) error {
	if numAccounts < 0 || initialBalance < 0 {
		return errors.Newf("invalid reset: %d accounts, balance %d", numAccounts, initialBalance)
	}
	gen := s.generation.Add(1)
	constrained := types.AccountFlags{DebitsMustNotExceedCredits: true}.ToUint16()

	err := batches(numAccounts, func(start, end int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		accounts := make([]types.Account, 0, end-start)
		for i := start; i < end; i++ {
			accounts = append(accounts, types.Account{
				ID:     accountID(gen, i),
				Ledger: ledger,
				Code:   code,
				Flags:  constrained,
			})
		}
		return s.createAccounts(accounts)
	})
	if err != nil {
		return err
	}
	if err := s.createAccounts([]types.Account{{ID: bankID(gen), Ledger: ledger, Code: code}}); err != nil {
		return errors.Wrap(err, "bank account")
	}

	if initialBalance > 0 {
		err = batches(numAccounts, func(start, end int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			transfers := make([]types.Transfer, 0, end-start)
			for i := start; i < end; i++ {
				transfers = append(transfers, types.Transfer{
					ID:              newID(),
					DebitAccountID:  bankID(gen),
					CreditAccountID: accountID(gen, i),
					Amount:          types.ToUint128(uint64(initialBalance)),
					Ledger:          ledger,
					Code:            code,
				})
			}
			res, err := s.client.CreateTransfers(transfers)
			if err != nil {
				return errors.Wrap(err, "fund accounts")
			}
			if len(res) > 0 {
				return errors.Newf("fund account %d: %v", start+int(res[0].Index), res[0].Result)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.numAccounts.Store(int64(numAccounts))
	s.log.Info("accounts reset",
		zap.Int("accounts", numAccounts),
		zap.Int64("initial_balance", initialBalance),
		zap.Uint64("generation", gen))
	return nil
}

// TotalBalance sums credits_posted - debits_posted over the current
// generation. Missing accounts count as zero.
func (s *Store) TotalBalance(ctx context.Context) (int64, error) {
	gen := s.generation.Load()
	n := int(s.numAccounts.Load())

	var total int64
	err := batches(n, func(start, end int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids := make([]types.Uint128, 0, end-start)
		for i := start; i < end; i++ {
			ids = append(ids, accountID(gen, i))
		}
		accounts, err := s.client.LookupAccounts(ids)
		if err != nil {
			return errors.Wrap(err, "lookup accounts")
		}
		for _, a := range accounts {
			credits, debits := low64(a.CreditsPosted), low64(a.DebitsPosted)
			if credits > debits {
				total += int64(credits - debits)
			}
		}
		return nil
	})
	return total, err
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.LookupAccounts([]types.Uint128{bankID(s.generation.Load())})
	return errors.Wrap(err, "ping tigerbeetle")
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
