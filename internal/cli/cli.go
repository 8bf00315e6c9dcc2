// Package cli is the headless front end: a one-line progress display while
// runs execute and tablewriter summaries once they finish.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"xferbench/internal/aggregate"
	"xferbench/internal/config"
	"xferbench/internal/coordinator"
	"xferbench/internal/export"
	"xferbench/internal/runner"
	"xferbench/internal/storage"
	"xferbench/internal/tui/history"
)

// Progress prints a carriage-return progress line from live snapshots and a
// line per finished run, until ctx is done.
func Progress(ctx context.Context, out io.Writer, updates runner.StatsUpdateChan, events <-chan coordinator.RunEvent) {
	latest := make(map[string]runner.StatsSnapshot)
	runID := ""
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-updates:
			if s.RunID != runID {
				latest = make(map[string]runner.StatsSnapshot)
				runID = s.RunID
			}
			latest[s.ClientID] = s
			fmt.Fprint(out, "\r"+progressLine(latest))
		case ev := <-events:
			fmt.Fprint(out, "\r"+strings.Repeat(" ", 100)+"\r")
			fmt.Fprintln(out, runLine(ev))
		}
	}
}

func progressLine(clients map[string]runner.StatsSnapshot) string {
	var sum runner.StatsSnapshot
	for _, c := range clients {
		sum.Phase = max(sum.Phase, c.Phase)
		sum.Elapsed = max(sum.Elapsed, c.Elapsed)
		sum.Total = max(sum.Total, c.Total)
		sum.Completed += c.Completed
		sum.Rejected += c.Rejected
		sum.Failed += c.Failed
		sum.Dropped += c.Dropped
		sum.Inflight += c.Inflight
		sum.P99Ms = max(sum.P99Ms, c.P99Ms)
	}
	pct := 0.0
	if sum.Total > 0 {
		pct = min(1, float64(sum.Elapsed)/float64(sum.Total))
	}
	return fmt.Sprintf("%s %3.0f%% | %-11s | %s/%s | Inf: %3d | OK: %d | Rej: %d | Fail: %d | Drop: %d | p99: %.2fms",
		progressBar(pct, 20), pct*100, sum.Phase,
		sum.Elapsed.Round(time.Second), sum.Total,
		sum.Inflight, sum.Completed, sum.Rejected, sum.Failed, sum.Dropped, sum.P99Ms)
}

func runLine(ev coordinator.RunEvent) string {
	if ev.Result == nil {
		return fmt.Sprintf("run %d/%d failed: %v", ev.Index, ev.Of, ev.Err)
	}
	r := ev.Result
	status := "valid"
	if !r.Valid {
		status = "INVALID (" + r.InvalidReason + ")"
	}
	return fmt.Sprintf("run %d/%d %s: %s tps, p50 %.2fms, p99 %.2fms, error rate %.2f%%",
		ev.Index, ev.Of, status,
		formatTPS(r.ThroughputTPS),
		float64(r.Latency.P50)/1000, float64(r.Latency.P99)/1000, r.ErrorRate*100)
}

// formatTPS always keeps one decimal so columns line up.
func formatTPS(v float64) string { return humanize.FormatFloat("#,###.#", v) }

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintHeader describes the suite about to start.
func PrintHeader(out io.Writer, cfg *config.Config) {
	w := cfg.Workload
	fmt.Fprintf(out, "\nXFERBENCH SUITE\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Mode        : %s\n", w.TestMode)
	if cfg.OpenLoop() {
		fmt.Fprintf(out, "Target rate : %s/s (max in flight %d)\n", humanize.Comma(int64(w.TargetRate)), w.MaxConcurrency)
	} else {
		fmt.Fprintf(out, "Concurrency : %d\n", w.Concurrency)
	}
	fmt.Fprintf(out, "Database    : %s\n", cfg.Database.Type)
	fmt.Fprintf(out, "Accounts    : %s (zipf s=%g)\n", humanize.Comma(int64(w.NumAccounts)), w.ZipfianExponent)
	fmt.Fprintf(out, "Duration    : %ds warmup + %ds measurement, %d runs, %d client(s)\n",
		w.WarmupDurationSecs, w.TestDurationSecs, cfg.Coordinator.TestRuns, cfg.NumClients())
	fmt.Fprintf(out, "======================================================================\n\n")
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(out)
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_RIGHT)
	t.SetHeader(header)
	return t
}

// PrintSummary renders the per-run table, the aggregate table and warnings.
func PrintSummary(out io.Writer, res *export.TestResults, dir string) {
	fmt.Fprintf(out, "\nRUNS\n")
	runs := newTable(out, []string{"run", "valid", "tps", "p50 ms", "p95 ms", "p99 ms", "p99.9 ms", "max ms", "errors", "dropped", "retries"})
	ms := func(us int64) string { return fmt.Sprintf("%.2f", float64(us)/1000) }
	for _, r := range res.Runs {
		valid := "yes"
		if !r.Valid {
			valid = "no"
		}
		runs.Append([]string{
			fmt.Sprint(r.RunIndex), valid,
			formatTPS(r.ThroughputTPS),
			ms(r.Latency.P50), ms(r.Latency.P95), ms(r.Latency.P99), ms(r.Latency.P999), ms(r.Latency.Max),
			fmt.Sprintf("%.2f%%", r.ErrorRate*100),
			humanize.Comma(int64(r.Dropped)), humanize.Comma(int64(r.Retries)),
		})
	}
	runs.Render()

	a := res.Aggregate
	fmt.Fprintf(out, "\nAGGREGATE (%d of %d runs valid)\n", a.ValidRuns, a.TotalRuns)
	agg := newTable(out, []string{"metric", "mean", "stddev", "cv", "95% ci low", "95% ci high", "min", "max"})
	row := func(name string, s aggregate.Stat, f func(float64) string) {
		agg.Append([]string{name, f(s.Mean), f(s.StdDev), fmt.Sprintf("%.2f%%", s.CV*100), f(s.CILow), f(s.CIHigh), f(s.Min), f(s.Max)})
	}
	msf := func(us float64) string { return fmt.Sprintf("%.2f", us/1000) }
	row("throughput tps", a.Throughput, formatTPS)
	row("p50 ms", a.P50, msf)
	row("p95 ms", a.P95, msf)
	row("p99 ms", a.P99, msf)
	row("p99.9 ms", a.P999, msf)
	agg.Render()

	if len(a.Warnings) > 0 {
		fmt.Fprintf(out, "\nWARNINGS\n")
		for _, w := range a.Warnings {
			fmt.Fprintf(out, "  ! %s\n", w)
		}
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  x %s\n", e)
	}
	if dir != "" {
		fmt.Fprintf(out, "\nArtifacts: %s\n", dir)
	}
}

// PrintHistory lists stored suites, newest first.
func PrintHistory(out io.Writer, items []storage.HistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(out, "no suites recorded yet")
		return
	}
	t := newTable(out, []string{"started", "mode", "db", "load", "runs", "tps", "cv", "p99 ms", "id"})
	for _, item := range items {
		t.Append(append(history.Row(item), item.ID))
	}
	t.Render()
}
