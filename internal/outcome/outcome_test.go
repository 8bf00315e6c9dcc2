package outcome

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	assert.True(t, Complete().Succeeded())
	assert.True(t, Reject(InsufficientBalance).Succeeded())
	assert.False(t, Fail(ConnectionError, nil).Succeeded())

	assert.True(t, Fail(SerializationConflict, nil).Retryable())
	assert.False(t, Fail(ConnectionError, nil).Retryable())
	assert.False(t, Reject(ConstraintViolation).Retryable())

	assert.Panics(t, func() { Reject(SerializationConflict) })
	assert.Panics(t, func() { Fail(InsufficientBalance, nil) })

	assert.Equal(t, "rejected(account_not_found)", Reject(AccountNotFound).String())
	assert.Equal(t, "completed", Complete().String())
}

func TestParseReason(t *testing.T) {
	for r := None; r < numReasons; r++ {
		assert.Equal(t, r, ParseReason(r.String()))
	}
	assert.Equal(t, Other, ParseReason("disk_on_fire"))
}

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 10*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 20*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 160*time.Millisecond, p.Backoff(4))
}

func TestDoRetriesConflicts(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseBackoff: time.Microsecond}

	calls := 0
	out, retries := p.Do(context.Background(), func(context.Context) Outcome {
		calls++
		if calls < 3 {
			return Fail(SerializationConflict, errors.New("40001"))
		}
		return Complete()
	})
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, 2, retries)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseBackoff: time.Microsecond}

	calls := 0
	out, retries := p.Do(context.Background(), func(context.Context) Outcome {
		calls++
		return Fail(SerializationConflict, nil)
	})
	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, SerializationConflict, out.Reason)
	assert.Equal(t, 5, retries)
	assert.Equal(t, 6, calls)
}

func TestDoNoRetry(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseBackoff: time.Microsecond}

	tests := []struct {
		name string
		out  Outcome
	}{
		{"connection", Fail(ConnectionError, nil)},
		{"rejection", Reject(InsufficientBalance)},
		{"completed", Complete()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			out, retries := p.Do(context.Background(), func(context.Context) Outcome {
				calls++
				return tt.out
			})
			require.Equal(t, tt.out.Kind, out.Kind)
			assert.Equal(t, 0, retries)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, retries := p.Do(ctx, func(context.Context) Outcome {
		return Fail(SerializationConflict, nil)
	})
	assert.True(t, out.Retryable())
	assert.Equal(t, 0, retries)
}
