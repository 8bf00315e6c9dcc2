package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"xferbench/internal/aggregate"
	"xferbench/internal/config"
	"xferbench/internal/coordinator"
	"xferbench/internal/export"
	"xferbench/internal/phase"
	"xferbench/internal/runner"
	"xferbench/internal/stats"
	"xferbench/internal/storage"
)

func TestProgressLineSumsClients(t *testing.T) {
	line := progressLine(map[string]runner.StatsSnapshot{
		"a": {Phase: phase.Measurement, Elapsed: 2 * time.Second, Total: 4 * time.Second, Completed: 10, Failed: 1, P99Ms: 3},
		"b": {Phase: phase.Measurement, Elapsed: 2 * time.Second, Total: 4 * time.Second, Completed: 5, Dropped: 2, P99Ms: 7},
	})
	assert.Contains(t, line, " 50%")
	assert.Contains(t, line, "measurement")
	assert.Contains(t, line, "OK: 15")
	assert.Contains(t, line, "Drop: 2")
	assert.Contains(t, line, "p99: 7.00ms")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[██--]", progressBar(0.5, 4))
	assert.Equal(t, "[████]", progressBar(3, 4))
	assert.Equal(t, "[----]", progressBar(-1, 4))
}

func TestFormatTPSKeepsOneDecimal(t *testing.T) {
	assert.Equal(t, "1,500.0", formatTPS(1500))
	assert.Equal(t, "1,000.0", formatTPS(1000))
	assert.Equal(t, "1,234.6", formatTPS(1234.56))
	assert.Equal(t, "12,345,678.9", formatTPS(12345678.9))
	assert.Equal(t, "0.0", formatTPS(0))
}

func TestProgressPrintsRunLines(t *testing.T) {
	var buf bytes.Buffer
	updates := make(runner.StatsUpdateChan, 1)
	events := make(chan coordinator.RunEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Progress(ctx, &buf, updates, events)
		close(done)
	}()
	events <- coordinator.RunEvent{Index: 1, Of: 2, Result: &runner.RunResult{Valid: true, ThroughputTPS: 1500}}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	assert.Contains(t, buf.String(), "run 1/2 valid: 1,500.0 tps")
}

func TestPrintSummary(t *testing.T) {
	res := &export.TestResults{
		Runs: []*runner.RunResult{
			{RunIndex: 1, Valid: true, ThroughputTPS: 1000, Latency: stats.Quantiles{P50: 1200, P99: 5000}},
			{RunIndex: 2, InvalidReason: "x"},
		},
		Aggregate: aggregate.Summary{TotalRuns: 2, ValidRuns: 1, Throughput: aggregate.Stat{N: 1, Mean: 1000},
			Warnings: []string{"single valid run; variance cannot be estimated"}},
		Errors: []string{"run 2: clients not ready"},
	}
	var buf bytes.Buffer
	PrintSummary(&buf, res, "/tmp/run_x")
	out := buf.String()
	assert.Contains(t, out, "AGGREGATE (1 of 2 runs valid)")
	assert.Contains(t, out, "1,000.0")
	assert.Contains(t, out, "5.00")
	assert.Contains(t, out, "single valid run")
	assert.Contains(t, out, "clients not ready")
	assert.Contains(t, out, "/tmp/run_x")
}

func TestPrintHeader(t *testing.T) {
	cfg := &config.Config{
		Workload:   config.WorkloadConfig{TestMode: config.ModeOpenLoop, TargetRate: 2500, MaxConcurrency: 64, NumAccounts: 10000},
		Database:   config.DatabaseConfig{Type: config.DatabaseMock},
		Deployment: config.DeploymentConfig{Type: config.DeploymentLocal},
	}
	var buf bytes.Buffer
	PrintHeader(&buf, cfg)
	assert.Contains(t, buf.String(), "2,500/s (max in flight 64)")
	assert.NotContains(t, buf.String(), "Concurrency")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	PrintHistory(&buf, nil)
	assert.Contains(t, buf.String(), "no suites")

	buf.Reset()
	PrintHistory(&buf, []storage.HistoryItem{{
		ID:        "suite-42",
		Timestamp: time.Now(),
		Config:    export.ConfigSummary{TestMode: "max_throughput", Database: "mock", Concurrency: 8},
		Summary:   storage.RunSummary{Runs: 3, ValidRuns: 3, ThroughputTPS: 999.5, P99Us: 2500},
	}})
	out := buf.String()
	assert.Contains(t, out, "suite-42")
	assert.Contains(t, out, "8 w")
	assert.Contains(t, out, "3/3")
	assert.True(t, strings.Contains(out, "2.50"))
}
