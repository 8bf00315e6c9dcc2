package result

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"xferbench/internal/aggregate"
	"xferbench/internal/export"
	"xferbench/internal/runner"
	"xferbench/internal/stats"
)

func TestViewListsRunsAndAggregate(t *testing.T) {
	m := NewModel()
	assert.Contains(t, m.View(), "no runs finished yet")

	m.AddRun(&runner.RunResult{RunIndex: 1, Valid: true, ThroughputTPS: 1234.5,
		Latency: stats.Quantiles{P50: 1500, P99: 9000}})
	m.AddRun(&runner.RunResult{RunIndex: 2, InvalidReason: "error rate 9.00% exceeds max_error_rate 5.00%"})
	m.AddRun(nil)
	assert.Len(t, m.Runs, 2)

	v := m.View()
	assert.Contains(t, v, "1,234.5")
	assert.Contains(t, v, "9.00ms")
	assert.Contains(t, v, "exceeds max_error_rate")
	assert.NotContains(t, v, "Suite complete")

	m.Results = &export.TestResults{Aggregate: aggregate.Summary{
		TotalRuns:  2,
		ValidRuns:  1,
		Throughput: aggregate.Stat{N: 1, Mean: 1234.5},
		Warnings:   []string{"single valid run; variance cannot be estimated"},
	}}
	m.Err = errors.New("balance")
	v = m.View()
	assert.Contains(t, v, "Suite complete: 1 of 2 runs valid")
	assert.Contains(t, v, "single valid run")
	assert.Contains(t, v, "suite stopped: balance")
}
