// Package aggregate reduces per-client results into one result per run and
// per-run results into cross-run statistics with validation warnings.
//
// Percentiles are only ever read from merged histograms. Nothing here
// averages percentiles within a run.
package aggregate

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"xferbench/internal/config"
	"xferbench/internal/runner"
	"xferbench/internal/stats"
)

// Thresholds are the validation limits. All come from configuration.
type Thresholds struct {
	ThroughputCV float64
	P99CV        float64
	MaxErrorRate float64
}

func ThresholdsFrom(cfg *config.Config) Thresholds {
	return Thresholds{
		ThroughputCV: cfg.Coordinator.MaxVarianceThreshold,
		P99CV:        cfg.Coordinator.P99VarianceThreshold,
		MaxErrorRate: cfg.Coordinator.MaxErrorRate,
	}
}

// MergeRun combines the results every client produced for one run. Counters
// add up, histograms merge exactly, throughput is the sum of the clients'
// locally measured rates.
func MergeRun(runID string, index int, parts []*runner.RunResult) (*runner.RunResult, error) {
	if len(parts) == 0 {
		return nil, errors.Newf("run %s: no client results to merge", runID)
	}
	merged := &runner.RunResult{
		RunID:     runID,
		RunIndex:  index,
		Histogram: stats.NewLatencyHistogram(),
		StartedAt: parts[0].StartedAt,
	}
	var tput, issue, target float64
	for _, p := range parts {
		if p.Histogram == nil {
			return nil, errors.Newf("run %s: client %s has no histogram", runID, p.ClientID)
		}
		if err := merged.Histogram.Merge(p.Histogram); err != nil {
			return nil, errors.Wrapf(err, "run %s: merge client %s", runID, p.ClientID)
		}
		merged.CounterSnapshot.Add(p.CounterSnapshot)
		merged.Clients = append(merged.Clients, p.ClientID)
		merged.Resources = append(merged.Resources, p.Resources...)
		if p.StartedAt.Before(merged.StartedAt) {
			merged.StartedAt = p.StartedAt
		}
		merged.WarmupSecs = math.Max(merged.WarmupSecs, p.WarmupSecs)
		merged.MeasurementSecs = math.Max(merged.MeasurementSecs, p.MeasurementSecs)
		tput += p.ThroughputTPS
		issue += p.IssueRate
		target += p.TargetRate
	}
	merged.TargetRate = target
	merged.Finalize()
	merged.ThroughputTPS = tput
	merged.IssueRate = issue
	merged.Valid = true
	return merged, nil
}

// ValidateRun marks r invalid when its error rate exceeds the limit. A run
// that is already invalid keeps its first reason.
func ValidateRun(r *runner.RunResult, th Thresholds) {
	if !r.Valid && r.InvalidReason != "" {
		return
	}
	if r.ErrorRate > th.MaxErrorRate {
		r.Valid = false
		r.InvalidReason = fmt.Sprintf("error rate %.2f%% exceeds max_error_rate %.2f%%",
			r.ErrorRate*100, th.MaxErrorRate*100)
		return
	}
	r.Valid = true
}

// Invalidate marks r invalid with reason.
func Invalidate(r *runner.RunResult, reason string) {
	r.Valid = false
	r.InvalidReason = reason
}

// Stat summarizes one metric over the valid runs.
type Stat struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	CV     float64 `json:"cv"`
	CILow  float64 `json:"ci95_low"`
	CIHigh float64 `json:"ci95_high"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Describe computes mean, sample standard deviation, coefficient of
// variation and a Student-t 95% confidence interval for the mean.
func Describe(x []float64) Stat {
	n := len(x)
	if n == 0 {
		return Stat{}
	}
	s := Stat{N: n, Min: x[0], Max: x[0]}
	for _, v := range x {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if n == 1 {
		s.Mean = x[0]
		s.CILow, s.CIHigh = s.Mean, s.Mean
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
	if s.Mean != 0 {
		s.CV = s.StdDev / s.Mean
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}.Quantile(0.975)
	half := t * stat.StdErr(s.StdDev, float64(n))
	s.CILow, s.CIHigh = s.Mean-half, s.Mean+half
	return s
}

// Summary is the cross-run aggregate for one configuration.
type Summary struct {
	TotalRuns   int      `json:"total_runs"`
	ValidRuns   int      `json:"valid_runs"`
	InvalidRuns []string `json:"invalid_runs,omitempty"`

	Throughput Stat `json:"throughput_tps"`
	P50        Stat `json:"p50_us"`
	P95        Stat `json:"p95_us"`
	P99        Stat `json:"p99_us"`
	P999       Stat `json:"p999_us"`
	ErrorRate  Stat `json:"error_rate"`

	Warnings []string `json:"warnings"`
}

// Summarize aggregates the valid runs and lists what the validation rules
// flagged. Invalid runs are named but contribute no numbers.
func Summarize(runs []*runner.RunResult, th Thresholds) Summary {
	sum := Summary{TotalRuns: len(runs), Warnings: []string{}}

	var tput, p50, p95, p99, p999, errRate []float64
	for _, r := range runs {
		if !r.Valid {
			sum.InvalidRuns = append(sum.InvalidRuns, r.RunID)
			sum.Warnings = append(sum.Warnings,
				fmt.Sprintf("run %d (%s) excluded: %s", r.RunIndex, r.RunID, r.InvalidReason))
			continue
		}
		tput = append(tput, r.ThroughputTPS)
		p50 = append(p50, float64(r.Latency.P50))
		p95 = append(p95, float64(r.Latency.P95))
		p99 = append(p99, float64(r.Latency.P99))
		p999 = append(p999, float64(r.Latency.P999))
		errRate = append(errRate, r.ErrorRate)
	}
	sum.ValidRuns = len(tput)

	sum.Throughput = Describe(tput)
	sum.P50 = Describe(p50)
	sum.P95 = Describe(p95)
	sum.P99 = Describe(p99)
	sum.P999 = Describe(p999)
	sum.ErrorRate = Describe(errRate)

	switch {
	case sum.ValidRuns == 0:
		sum.Warnings = append(sum.Warnings, "no valid runs; aggregate statistics are empty")
	case sum.ValidRuns == 1:
		sum.Warnings = append(sum.Warnings, "single valid run; variance cannot be estimated")
	}
	if sum.Throughput.CV > th.ThroughputCV {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf(
			"throughput CV %.1f%% exceeds threshold %.1f%%", sum.Throughput.CV*100, th.ThroughputCV*100))
	}
	if sum.P99.CV > th.P99CV {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf(
			"p99 latency CV %.1f%% exceeds threshold %.1f%%", sum.P99.CV*100, th.P99CV*100))
	}
	return sum
}
