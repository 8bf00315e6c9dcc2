package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"xferbench/internal/backend/memory"
	"xferbench/internal/config"
	"xferbench/internal/export"
	"xferbench/internal/runerr"
	"xferbench/internal/storage"
)

func suiteConfig(t *testing.T, runs int) *config.Config {
	return &config.Config{
		Workload: config.WorkloadConfig{
			TestMode:           config.ModeClosedLoop,
			Concurrency:        4,
			NumAccounts:        50,
			ZipfianExponent:    0.9,
			InitialBalance:     10000,
			MinTransferAmount:  1,
			MaxTransferAmount:  100,
			TestDurationSecs:   1,
			RequestTimeoutSecs: 5,
			Retry:              config.RetryConfig{MaxRetries: 5, BaseBackoffMs: 1},
		},
		Database:   config.DatabaseConfig{Type: config.DatabaseMock},
		Deployment: config.DeploymentConfig{Type: config.DeploymentLocal, BarrierTimeoutSecs: 1},
		Coordinator: config.CoordinatorConfig{
			TestRuns:             runs,
			MaxVarianceThreshold: 0.5,
			P99VarianceThreshold: 5,
			MaxErrorRate:         0.05,
			MetricsExportPath:    t.TempDir(),
		},
	}
}

// flaky wraps the ledger to fail the barrier or the balance check on demand.
type flaky struct {
	*memory.Ledger
	resets       atomic.Int32
	failPingRun  int32
	balanceDelta int64
}

func (f *flaky) Reset(ctx context.Context, n int, initial int64) error {
	f.resets.Add(1)
	return f.Ledger.Reset(ctx, n, initial)
}

func (f *flaky) Ping(ctx context.Context) error {
	if f.resets.Load() == f.failPingRun {
		return errors.New("connection refused")
	}
	return f.Ledger.Ping(ctx)
}

func (f *flaky) TotalBalance(ctx context.Context) (int64, error) {
	total, err := f.Ledger.TotalBalance(ctx)
	return total + f.balanceDelta, err
}

func newFlaky() *flaky {
	return &flaky{Ledger: memory.New(memory.Options{Latency: 200 * time.Microsecond})}
}

func newCoordinator(t *testing.T, cfg *config.Config, b *flaky, opts Options) *Coordinator {
	t.Helper()
	c, err := New(cfg, b, zap.NewNop(), opts)
	require.NoError(t, err)
	return c
}

func TestSuiteEndToEnd(t *testing.T) {
	cfg := suiteConfig(t, 2)
	hist, err := storage.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer hist.Close()
	events := make(chan RunEvent, 4)

	c := newCoordinator(t, cfg, newFlaky(), Options{History: hist, Events: events})
	res, err := c.RunSuite(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Runs, 2)
	for i, r := range res.Runs {
		assert.Equal(t, i+1, r.RunIndex)
		assert.True(t, r.Valid, r.InvalidReason)
		assert.True(t, r.BalanceVerified)
		assert.Greater(t, r.Completed, uint64(0))
		assert.Len(t, r.Clients, 1)
	}
	assert.NotEqual(t, res.Runs[0].RunID, res.Runs[1].RunID)
	assert.Equal(t, 2, res.Aggregate.ValidRuns)
	assert.Empty(t, res.Errors)
	assert.Len(t, events, 2)

	items, err := hist.List(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.SuiteID, items[0].ID)

	dir := items[0].Dir
	for _, name := range []string{
		export.ConfigFile, export.ResultsFile, export.SummaryFile, export.LogFile,
		"run_1.json", "run_1.hlog", "run_2.json", "run_2.hlog",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestBarrierTimeoutInvalidatesOneRun(t *testing.T) {
	cfg := suiteConfig(t, 2)
	b := newFlaky()
	b.failPingRun = 1

	res, err := newCoordinator(t, cfg, b, Options{}).RunSuite(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Runs, 2)
	assert.False(t, res.Runs[0].Valid)
	assert.Contains(t, res.Runs[0].InvalidReason, "not ready")
	assert.True(t, res.Runs[1].Valid)
	assert.Equal(t, 1, res.Aggregate.ValidRuns)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "not ready")
}

func TestBalanceMismatchStopsSuite(t *testing.T) {
	cfg := suiteConfig(t, 3)
	b := newFlaky()
	b.balanceDelta = 1

	res, err := newCoordinator(t, cfg, b, Options{}).RunSuite(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrBalanceMismatch))
	assert.True(t, runerr.Fatal(err))

	require.Len(t, res.Runs, 1)
	assert.False(t, res.Runs[0].Valid)
	assert.False(t, res.Runs[0].BalanceVerified)
	assert.Equal(t, 0, res.Aggregate.ValidRuns)
}

func TestHighErrorRateRunIsInvalid(t *testing.T) {
	cfg := suiteConfig(t, 1)
	cfg.Workload.Retry.MaxRetries = 0
	b := &flaky{Ledger: memory.New(memory.Options{ConflictRate: 0.5})}

	res, err := newCoordinator(t, cfg, b, Options{}).RunSuite(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Runs, 1)
	assert.False(t, res.Runs[0].Valid)
	assert.Contains(t, res.Runs[0].InvalidReason, "max_error_rate")
	assert.True(t, res.Runs[0].BalanceVerified)
}

func TestMultipleClientsMerge(t *testing.T) {
	cfg := suiteConfig(t, 1)
	cfg.Deployment.Type = config.DeploymentCloud
	cfg.Deployment.NumClientNodes = 3
	cfg.Workload.Concurrency = 2

	res, err := newCoordinator(t, cfg, newFlaky(), Options{}).RunSuite(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Runs, 1)
	run := res.Runs[0]
	assert.Len(t, run.Clients, 3)
	assert.Equal(t, int64(run.Completed+run.Rejected), run.Histogram.TotalCount())
	assert.True(t, run.BalanceVerified)
}

func TestCancelledSuite(t *testing.T) {
	cfg := suiteConfig(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	res, err := newCoordinator(t, cfg, newFlaky(), Options{}).RunSuite(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, res.Runs)
}

func TestNewRejectsBadWorkload(t *testing.T) {
	cfg := suiteConfig(t, 1)
	cfg.Workload.NumAccounts = 1
	_, err := New(cfg, newFlaky(), zap.NewNop(), Options{})
	assert.True(t, errors.Is(err, runerr.ErrConfig))
}
