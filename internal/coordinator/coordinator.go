// Package coordinator drives a suite: it resets the back-end before every
// run, releases all clients through a start barrier, merges their results,
// checks balance conservation and writes the artifacts.
package coordinator

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xferbench/internal/aggregate"
	"xferbench/internal/backend"
	"xferbench/internal/config"
	"xferbench/internal/export"
	"xferbench/internal/logging"
	"xferbench/internal/metrics"
	"xferbench/internal/resource"
	"xferbench/internal/runerr"
	"xferbench/internal/runner"
	"xferbench/internal/sampler"
	"xferbench/internal/storage"
)

// Options carries the optional collaborators of a Coordinator.
type Options struct {
	Metrics *metrics.Metrics
	Updates runner.StatsUpdateChan
	History *storage.Store
	// SampleResources turns on the host CPU and memory sampler.
	SampleResources bool
	// Events receives one RunEvent per finished run.
	Events chan<- RunEvent
	Seed   uint64
}

// RunEvent reports one finished run to the presentation layer.
type RunEvent struct {
	Index  int
	Of     int
	Result *runner.RunResult
	Err    error
}

type Coordinator struct {
	Cfg     *config.Config
	Backend backend.Backend
	Log     *zap.Logger

	opts    Options
	sampler *sampler.Sampler
	th      aggregate.Thresholds
	now     func() time.Time
}

// New validates the workload against the sampler before anything touches the
// back-end.
func New(cfg *config.Config, b backend.Backend, log *zap.Logger, opts Options) (*Coordinator, error) {
	w := cfg.Workload
	s, err := sampler.New(w.NumAccounts, w.ZipfianExponent, w.MinTransferAmount, w.MaxTransferAmount)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		Cfg:     cfg,
		Backend: b,
		Log:     log.With(zap.String("component", "coordinator")),
		opts:    opts,
		sampler: s,
		th:      aggregate.ThresholdsFrom(cfg),
		now:     time.Now,
	}, nil
}

func (c *Coordinator) newClients(log *zap.Logger) []*runner.Runner {
	n := c.Cfg.NumClients()
	clients := make([]*runner.Runner, n)
	for i := range clients {
		ro := runner.Options{
			Metrics: c.opts.Metrics,
			Updates: c.opts.Updates,
			Seed:    c.opts.Seed + uint64(i)<<32,
		}
		// one host sampler per process
		if c.opts.SampleResources && i == 0 {
			ro.Resources = resource.NewSampler(time.Second)
		}
		clients[i] = runner.NewRunner(c.Cfg, uuid.NewString(), c.Backend, c.sampler, log, ro)
	}
	return clients
}

// RunSuite executes test_runs runs and returns the results document. A
// barrier timeout invalidates one run and the suite continues; any other
// failure stops the suite. The returned results are complete up to the
// failing run, even when err is non-nil.
func (c *Coordinator) RunSuite(ctx context.Context) (*export.TestResults, error) {
	started := c.now()
	dir, err := export.NewDir(c.Cfg.Coordinator.MetricsExportPath, started)
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logging.Tee(c.Log, dir.LogPath())
	if err != nil {
		return nil, err
	}
	defer closeLog()

	res := &export.TestResults{
		SuiteID:   uuid.NewString(),
		Dir:       dir.Path,
		StartedAt: started,
		Config:    export.Summarize(c.Cfg),
		Runs:      []*runner.RunResult{},
	}
	log = log.With(zap.String("suite_id", res.SuiteID))
	log.Info("suite started",
		zap.String("dir", dir.Path),
		zap.String("mode", c.Cfg.Workload.TestMode),
		zap.String("database", c.Cfg.Database.Type),
		zap.Int("runs", c.Cfg.Coordinator.TestRuns),
		zap.Int("clients", c.Cfg.NumClients()))

	if err := dir.WriteConfig(c.Cfg); err != nil {
		return nil, err
	}

	clients := c.newClients(log)
	total := c.Cfg.Coordinator.TestRuns
	var suiteErr error
	for i := 1; i <= total; i++ {
		run, err := c.runOnce(ctx, i, clients, log)
		if run != nil {
			res.Runs = append(res.Runs, run)
			if werr := dir.WriteRun(run); werr != nil {
				log.Warn("write run artifacts", zap.Int("run", i), zap.Error(werr))
			}
		}
		c.emit(RunEvent{Index: i, Of: total, Result: run, Err: err})
		if err == nil {
			continue
		}
		res.Errors = append(res.Errors, err.Error())
		if errors.Is(err, runerr.ErrBarrierTimeout) && ctx.Err() == nil {
			log.Warn("run invalidated", zap.Int("run", i), zap.Error(err))
			continue
		}
		log.Error("suite stopped", zap.Int("run", i), zap.Bool("fatal", runerr.Fatal(err)), zap.Error(err))
		suiteErr = err
		break
	}

	res.Aggregate = aggregate.Summarize(res.Runs, c.th)
	res.FinishedAt = c.now()
	for _, w := range res.Aggregate.Warnings {
		log.Warn(w)
	}

	if err := dir.WriteResults(res); err != nil {
		return res, errors.CombineErrors(suiteErr, err)
	}
	if err := dir.WriteSummaryCSV(res.Runs, res.Aggregate); err != nil {
		return res, errors.CombineErrors(suiteErr, err)
	}
	if h := c.opts.History; h != nil {
		if err := h.Save(storage.NewHistoryItem(res, dir.Path)); err != nil {
			log.Warn("save history", zap.Error(err))
		}
	}
	log.Info("suite finished",
		zap.Int("valid_runs", res.Aggregate.ValidRuns),
		zap.Float64("throughput_mean", res.Aggregate.Throughput.Mean),
		zap.Float64("throughput_cv", res.Aggregate.Throughput.CV),
		zap.Float64("p99_mean_us", res.Aggregate.P99.Mean))
	return res, suiteErr
}

func (c *Coordinator) emit(ev RunEvent) {
	if c.opts.Events == nil {
		return
	}
	select {
	case c.opts.Events <- ev:
	default:
	}
}

// runOnce performs reset, stabilize, barrier, execution, merge and the
// balance check for one run.
func (c *Coordinator) runOnce(ctx context.Context, index int, clients []*runner.Runner, log *zap.Logger) (*runner.RunResult, error) {
	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID), zap.Int("run", index))

	w := c.Cfg.Workload
	if err := c.Backend.Reset(ctx, w.NumAccounts, w.InitialBalance); err != nil {
		return nil, errors.Wrapf(err, "run %d: reset", index)
	}
	log.Debug("back-end reset", zap.Int("accounts", w.NumAccounts), zap.Int64("initial_balance", w.InitialBalance))

	if d := time.Duration(c.Cfg.Coordinator.StabilizeSecs) * time.Second; d > 0 {
		log.Debug("stabilizing", zap.Duration("for", d))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := c.barrier(ctx, len(clients)); err != nil {
		inv := &runner.RunResult{RunID: runID, RunIndex: index, StartedAt: c.now()}
		aggregate.Invalidate(inv, err.Error())
		return inv, errors.Wrapf(err, "run %d", index)
	}

	start := make(chan struct{})
	parts := make([]*runner.RunResult, len(clients))
	g, gctx := errgroup.WithContext(ctx)
	for i, cl := range clients {
		g.Go(func() error {
			r, err := cl.Run(gctx, runID, start)
			parts[i] = r
			return err
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		return nil, errors.Wrapf(err, "run %d", index)
	}

	merged, err := aggregate.MergeRun(runID, index, parts)
	if err != nil {
		return nil, runerr.Integrity(err, "merge client results")
	}
	aggregate.ValidateRun(merged, c.th)

	if err := c.verifyBalance(ctx, merged); err != nil {
		return merged, errors.Wrapf(err, "run %d", index)
	}

	log.Info("run merged",
		zap.Bool("valid", merged.Valid),
		zap.String("invalid_reason", merged.InvalidReason),
		zap.Float64("throughput_tps", merged.ThroughputTPS),
		zap.Float64("error_rate", merged.ErrorRate),
		zap.Int64("p50_us", merged.Latency.P50),
		zap.Int64("p99_us", merged.Latency.P99))
	return merged, nil
}

// barrier waits until every client can reach the back-end, bounded by
// barrier_timeout_secs.
func (c *Coordinator) barrier(ctx context.Context, clients int) error {
	timeout := time.Duration(c.Cfg.Deployment.BarrierTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(bctx)
	for i := 0; i < clients; i++ {
		g.Go(func() error {
			for {
				err := c.Backend.Ping(gctx)
				if err == nil {
					return nil
				}
				select {
				case <-gctx.Done():
					return err
				case <-time.After(100 * time.Millisecond):
				}
			}
		})
	}
	err := g.Wait()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Mark(
		errors.Wrapf(err, "clients not ready within %s", timeout),
		runerr.ErrBarrierTimeout)
}

func (c *Coordinator) verifyBalance(ctx context.Context, r *runner.RunResult) error {
	want := c.Cfg.ExpectedTotalBalance()
	got, err := c.Backend.TotalBalance(ctx)
	if err != nil {
		return errors.Wrap(err, "read total balance")
	}
	if got != want {
		aggregate.Invalidate(r, "balance conservation violated")
		return errors.Mark(
			errors.Newf("total balance %d, expected %d", got, want),
			runerr.ErrBalanceMismatch)
	}
	r.BalanceVerified = true
	return nil
}
