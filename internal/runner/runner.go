// Package runner is the client-side Run Executor. It wires the sampler,
// scheduler, retry policy and per-worker recorders together for one run and
// returns the measurement-phase result.
package runner

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"xferbench/internal/backend"
	"xferbench/internal/config"
	"xferbench/internal/metrics"
	"xferbench/internal/outcome"
	"xferbench/internal/phase"
	"xferbench/internal/resource"
	"xferbench/internal/sampler"
	"xferbench/internal/scheduler"
	"xferbench/internal/stats"
)

// Options carries the optional collaborators of a Runner.
type Options struct {
	Metrics   *metrics.Metrics
	Resources *resource.Sampler
	Updates   StatsUpdateChan
	Seed      uint64
}

type Runner struct {
	Cfg      *config.Config
	ClientID string
	Backend  backend.Transferer
	Sampler  *sampler.Sampler
	Policy   outcome.Policy
	Log      *zap.Logger

	// Event Channel
	Updates StatsUpdateChan

	metrics   *metrics.Metrics
	resources *resource.Sampler
	seed      uint64

	// per-run state, rebuilt by Run
	ctl      *phase.Controller
	sched    scheduler.Scheduler
	recs     [][2]*stats.Recorder
	rngs     []*rand.Rand
	dropped  [2]atomic.Uint64
	inflight atomic.Int64
	liveMu   sync.Mutex
	live     *stats.LatencyHistogram
	ab       *abortState
}

type abortState struct {
	once sync.Once
	err  error
	ch   chan struct{}
}

func NewRunner(cfg *config.Config, clientID string, b backend.Transferer, s *sampler.Sampler, log *zap.Logger, opts Options) *Runner {
	updates := opts.Updates
	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}
	return &Runner{
		Cfg:      cfg,
		ClientID: clientID,
		Backend:  b,
		Sampler:  s,
		Policy: outcome.Policy{
			MaxRetries:  cfg.Workload.Retry.MaxRetries,
			BaseBackoff: time.Duration(cfg.Workload.Retry.BaseBackoffMs) * time.Millisecond,
		},
		Log:       log.With(zap.String("component", "runner"), zap.String("client", clientID)),
		Updates:   updates,
		metrics:   opts.Metrics,
		resources: opts.Resources,
		seed:      opts.Seed,
	}
}

func (r *Runner) newScheduler() scheduler.Scheduler {
	w := r.Cfg.Workload
	if r.Cfg.OpenLoop() {
		return scheduler.NewOpenLoop(w.TargetRate, w.MaxConcurrency, r.drop)
	}
	return scheduler.NewClosedLoop(w.Concurrency)
}

func (r *Runner) reset(runID string) {
	r.ctl = phase.NewController(runID, r.Cfg.WarmupDuration(), r.Cfg.MeasurementDuration())
	r.sched = r.newScheduler()
	n := r.sched.Slots()
	r.recs = make([][2]*stats.Recorder, n)
	r.rngs = make([]*rand.Rand, n)
	for i := range r.recs {
		r.recs[i] = [2]*stats.Recorder{stats.NewRecorder(), stats.NewRecorder()}
		r.rngs[i] = sampler.NewRand(r.seed, i)
	}
	r.dropped[0].Store(0)
	r.dropped[1].Store(0)
	r.inflight.Store(0)
	r.live = stats.NewLatencyHistogram()
	r.ab = &abortState{ch: make(chan struct{})}
}

// Run waits for start to close, then drives one Warmup -> Measurement run
// and returns the merged measurement-phase result. In-flight requests are
// drained before the merge. A Runner executes one run at a time.
func (r *Runner) Run(ctx context.Context, runID string, start <-chan struct{}) (*RunResult, error) {
	r.reset(runID)

	select {
	case <-start:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	startedAt := time.Now()
	log := r.Log.With(zap.String("run_id", runID))
	log.Info("run started",
		zap.String("mode", r.Cfg.Workload.TestMode),
		zap.Int("slots", r.sched.Slots()),
		zap.Duration("warmup", r.Cfg.WarmupDuration()),
		zap.Duration("measurement", r.Cfg.MeasurementDuration()))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	ticksDone := r.StartTickLoop(tickCtx, 200*time.Millisecond)

	go r.ctl.Run(runCtx)

	var measureStart, measureEnd time.Time
	var samples []resource.Sample
	watch := make(chan struct{})
	go func() {
		defer close(watch)
		select {
		case <-r.ctl.Measuring():
			measureStart = time.Now()
			r.metrics.SetPhase(runID, phase.Measurement.String())
			log.Info("measurement phase started")
		case <-r.ctl.Done():
			return
		}
		if r.resources == nil {
			return
		}
		resCtx, cancel := context.WithCancel(ctx)
		go func() {
			<-r.ctl.Done()
			cancel()
		}()
		samples = r.resources.Run(resCtx)
	}()

	stop := make(chan struct{})
	go func() {
		select {
		case <-r.ctl.Done():
		case <-r.ab.ch:
			cancelRun()
			<-r.ctl.Done()
		}
		measureEnd = time.Now()
		close(stop)
	}()

	r.metrics.SetPhase(runID, phase.Warmup.String())
	r.sched.Run(ctx, scheduler.Signals{Stop: stop, Rebase: r.ctl.Measuring()}, r.issue)
	<-stop
	<-watch
	stopTicks()
	<-ticksDone
	r.sendUpdate()

	if err := r.ab.err; err != nil {
		log.Error("run aborted", zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := r.collect()
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	res.ClientID = r.ClientID
	res.StartedAt = startedAt
	res.WarmupSecs = r.Cfg.WarmupDuration().Seconds()
	if !measureStart.IsZero() {
		res.MeasurementSecs = measureEnd.Sub(measureStart).Seconds()
	}
	if r.Cfg.OpenLoop() {
		res.TargetRate = float64(r.Cfg.Workload.TargetRate)
	}
	res.Resources = samples
	res.Finalize()

	log.Info("run finished",
		zap.Uint64("completed", res.Completed),
		zap.Uint64("rejected", res.Rejected),
		zap.Uint64("failed", res.Failed),
		zap.Uint64("dropped", res.Dropped),
		zap.Float64("throughput_tps", res.ThroughputTPS),
		zap.Int64("p99_us", res.Latency.P99))
	return res, nil
}

// collect merges every slot's measurement recorder. The scheduler has
// returned, so no worker touches them any more.
func (r *Runner) collect() (*RunResult, error) {
	res := &RunResult{Histogram: stats.NewLatencyHistogram()}
	for _, rec := range r.recs {
		m := rec[phase.Measurement]
		res.CounterSnapshot.Add(m.Snapshot())
		if err := m.Latency.MergeInto(res.Histogram); err != nil {
			return nil, errors.Wrap(err, "merge worker histograms")
		}
	}
	res.Dropped = r.dropped[phase.Measurement].Load()
	return res, nil
}

func (r *Runner) abort(err error) {
	r.ab.once.Do(func() {
		r.ab.err = err
		close(r.ab.ch)
	})
}

// issue runs one transfer and records it against the phase it started in.
// It reports false once the run is over or aborted.
func (r *Runner) issue(ctx context.Context, slot int, issued time.Time) bool {
	ph := r.ctl.Current()
	if ph == phase.Done {
		return false
	}
	rng := r.rngs[slot]
	pair, err := r.Sampler.Pair(rng)
	if err != nil {
		r.abort(err)
		return false
	}
	amount := r.Sampler.Amount(rng)

	r.inflight.Add(1)
	r.metrics.InFlight(1)

	reqCtx, cancel := r.requestContext(ctx)
	out, retries := r.Policy.Do(reqCtx, func(c context.Context) outcome.Outcome {
		return r.Backend.Transfer(c, pair.Source, pair.Destination, amount)
	})
	cancel()
	latency := time.Since(issued)

	r.inflight.Add(-1)
	r.metrics.InFlight(-1)

	if err := r.recs[slot][ph].Observe(out, retries, latency, r.sched.ExpectedInterval()); err != nil {
		r.abort(errors.Wrapf(err, "record %s sample", ph))
		return false
	}
	r.metrics.Observe(ph.String(), out, retries, latency)
	if out.Kind == outcome.Failed && out.Reason == outcome.ConnectionError {
		r.Log.Debug("transfer failed", zap.Stringer("outcome", out), zap.Error(out.Err))
	}
	return true
}

func (r *Runner) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := r.Cfg.RequestTimeout(); t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

// drop counts an open-loop slot that found every worker busy, in the phase
// it was due.
func (r *Runner) drop(time.Time) {
	ph := r.ctl.Current()
	if ph == phase.Done {
		return
	}
	r.dropped[ph].Add(1)
	r.metrics.Drop(ph.String())
}

// StartTickLoop starts a goroutine that pushes stats updates. The returned
// channel is closed once it has exited.
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
	return done
}

func (r *Runner) snapshot() StatsSnapshot {
	ph := r.ctl.Current()
	idx := ph
	if idx == phase.Done {
		idx = phase.Measurement
	}
	s := StatsSnapshot{
		ClientID: r.ClientID,
		RunID:    r.ctl.RunID(),
		Phase:    ph,
		Elapsed:  r.ctl.Elapsed(),
		Total:    r.ctl.Total(),
		Dropped:  r.dropped[idx].Load(),
		Inflight: r.inflight.Load(),
	}
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	r.live.Reset()
	for _, rec := range r.recs {
		c := &rec[idx].Counters
		s.Completed += c.Completed()
		s.Rejected += c.Rejected()
		s.Failed += c.Failed()
		s.Retries += c.Retries()
		rec[idx].Latency.MergeInto(r.live)
	}
	q := r.live.Quantiles()
	s.P50Ms = float64(q.P50) / 1000
	s.P99Ms = float64(q.P99) / 1000
	s.MaxMs = float64(q.Max) / 1000
	return s
}

func (r *Runner) sendUpdate() {
	s := r.snapshot()
	// Non-blocking send
	select {
	case r.Updates <- s:
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

func (r *Runner) GetInflight() int64 {
	return r.inflight.Load()
}
