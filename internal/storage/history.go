package storage

import (
	"time"

	"xferbench/internal/aggregate"
	"xferbench/internal/export"
)

// HistoryItem is the compact record kept per finished suite. Full artifacts
// stay in the run directory it points to.
type HistoryItem struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	Dir       string               `json:"dir"`
	Config    export.ConfigSummary `json:"config"`
	Summary   RunSummary           `json:"summary"`
	Errors    []string             `json:"errors,omitempty"`
}

type RunSummary struct {
	Runs          int     `json:"runs"`
	ValidRuns     int     `json:"valid_runs"`
	ThroughputTPS float64 `json:"throughput_tps"`
	ThroughputCV  float64 `json:"throughput_cv"`
	P50Us         float64 `json:"p50_us"`
	P99Us         float64 `json:"p99_us"`
	Warnings      int     `json:"warnings"`
}

// NewHistoryItem condenses a results document.
func NewHistoryItem(res *export.TestResults, dir string) HistoryItem {
	return HistoryItem{
		ID:        res.SuiteID,
		Timestamp: res.StartedAt,
		Dir:       dir,
		Config:    res.Config,
		Summary:   summarize(res.Aggregate),
		Errors:    res.Errors,
	}
}

func summarize(a aggregate.Summary) RunSummary {
	return RunSummary{
		Runs:          a.TotalRuns,
		ValidRuns:     a.ValidRuns,
		ThroughputTPS: a.Throughput.Mean,
		ThroughputCV:  a.Throughput.CV,
		P50Us:         a.P50.Mean,
		P99Us:         a.P99.Mean,
		Warnings:      len(a.Warnings),
	}
}
