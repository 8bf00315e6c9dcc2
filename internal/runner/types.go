package runner

import (
	"time"

	"xferbench/internal/phase"
	"xferbench/internal/resource"
	"xferbench/internal/stats"
)

// RunResult is the measurement-phase bundle of one run, either for a single
// client or merged across clients. It is not modified once built, except
// for the validation fields the coordinator fills in.
type RunResult struct {
	RunID    string   `json:"run_id"`
	RunIndex int      `json:"run_index"`
	ClientID string   `json:"client_id,omitempty"`
	Clients  []string `json:"clients,omitempty"`
	Phase    string   `json:"phase"`

	StartedAt       time.Time `json:"started_at"`
	WarmupSecs      float64   `json:"warmup_secs"`
	MeasurementSecs float64   `json:"measurement_secs"`

	stats.CounterSnapshot
	ErrorRate float64 `json:"error_rate"`

	// ThroughputTPS counts completed and rejected transfers per second.
	ThroughputTPS float64 `json:"throughput_tps"`
	// TargetRate and IssueRate are only set in open-loop mode.
	TargetRate float64 `json:"target_rate,omitempty"`
	IssueRate  float64 `json:"issue_rate,omitempty"`

	Latency stats.Quantiles `json:"latency"`

	Resources       []resource.Sample `json:"resources,omitempty"`
	ResourceSummary resource.Summary  `json:"resource_summary"`

	BalanceVerified bool   `json:"balance_verified"`
	Valid           bool   `json:"valid"`
	InvalidReason   string `json:"invalid_reason,omitempty"`

	Histogram *stats.LatencyHistogram `json:"-"`
}

// Finalize derives throughput, rates and percentiles from the counters and
// histogram.
func (r *RunResult) Finalize() {
	r.Phase = phase.Measurement.String()
	r.ErrorRate = r.CounterSnapshot.ErrorRate()
	if r.MeasurementSecs > 0 {
		r.ThroughputTPS = float64(r.Succeeded()) / r.MeasurementSecs
		if r.TargetRate > 0 {
			r.IssueRate = float64(r.Total()) / r.MeasurementSecs
		}
	}
	if r.Histogram != nil {
		r.Latency = r.Histogram.Quantiles()
	}
	r.ResourceSummary = resource.Summarize(r.Resources)
}

// StatsSnapshot is a cheap live view, sent every tick.
type StatsSnapshot struct {
	ClientID string
	RunID    string
	Phase    phase.Phase
	Elapsed  time.Duration
	Total    time.Duration

	Completed uint64
	Rejected  uint64
	Failed    uint64
	Dropped   uint64
	Retries   uint64
	Inflight  int64

	P50Ms float64
	P99Ms float64
	MaxMs float64
}

// Requests is every classified request of the current phase.
func (s StatsSnapshot) Requests() uint64 { return s.Completed + s.Rejected + s.Failed }

type StatsUpdateChan chan StatsSnapshot

