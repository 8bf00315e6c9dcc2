// Package export writes the artifacts of one suite into a timestamped run
// directory: the config snapshot, per-run JSON and histogram logs, the
// combined results document and a CSV summary.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"

	"xferbench/internal/aggregate"
	"xferbench/internal/config"
	"xferbench/internal/runner"
)

const (
	ConfigFile  = "config.toml"
	ResultsFile = "results.json"
	SummaryFile = "summary.csv"
	LogFile     = "coordinator.log"
)

// ConfigSummary is the part of the configuration a reader needs next to the
// numbers.
type ConfigSummary struct {
	TestMode        string  `json:"test_mode"`
	Database        string  `json:"database"`
	Concurrency     int     `json:"concurrency,omitempty"`
	TargetRate      float64 `json:"target_rate,omitempty"`
	MaxConcurrency  int     `json:"max_concurrency,omitempty"`
	NumAccounts     int     `json:"num_accounts"`
	ZipfianExponent float64 `json:"zipfian_exponent"`
	Clients         int     `json:"clients"`
	WarmupSecs      int     `json:"warmup_secs"`
	DurationSecs    int     `json:"duration_secs"`
	TestRuns        int     `json:"test_runs"`
}

func Summarize(cfg *config.Config) ConfigSummary {
	s := ConfigSummary{
		TestMode:        cfg.Workload.TestMode,
		Database:        cfg.Database.Type,
		NumAccounts:     cfg.Workload.NumAccounts,
		ZipfianExponent: cfg.Workload.ZipfianExponent,
		Clients:         cfg.NumClients(),
		WarmupSecs:      cfg.Workload.WarmupDurationSecs,
		DurationSecs:    cfg.Workload.TestDurationSecs,
		TestRuns:        cfg.Coordinator.TestRuns,
	}
	if cfg.OpenLoop() {
		s.TargetRate = float64(cfg.Workload.TargetRate)
		s.MaxConcurrency = cfg.Workload.MaxConcurrency
	} else {
		s.Concurrency = cfg.Workload.Concurrency
	}
	return s
}

// TestResults is the top-level results.json document.
type TestResults struct {
	SuiteID    string              `json:"suite_id"`
	Dir        string              `json:"dir"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Config     ConfigSummary       `json:"config"`
	Runs       []*runner.RunResult `json:"runs"`
	Aggregate  aggregate.Summary   `json:"aggregate"`
	Errors     []string            `json:"errors,omitempty"`
}

// Dir is one suite's output directory.
type Dir struct {
	Path string
}

// NewDir creates <base>/run_YYYYMMDD_HHMMSS. A second suite started within
// the same second gets a numeric suffix.
func NewDir(base string, now time.Time) (*Dir, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", base)
	}
	name := "run_" + now.Format("20060102_150405")
	path := filepath.Join(base, name)
	for i := 2; ; i++ {
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return &Dir{Path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrapf(err, "create %s", path)
		}
		path = filepath.Join(base, fmt.Sprintf("%s_%d", name, i))
	}
}

func (d *Dir) file(name string) string { return filepath.Join(d.Path, name) }

// LogPath is where the coordinator's file logger writes.
func (d *Dir) LogPath() string { return d.file(LogFile) }

// WriteConfig snapshots the effective configuration as TOML.
func (d *Dir) WriteConfig(cfg *config.Config) error {
	f, err := os.Create(d.file(ConfigFile))
	if err != nil {
		return errors.Wrap(err, "create config snapshot")
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config snapshot")
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal %s", filepath.Base(path))
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", filepath.Base(path))
}

// WriteRun stores one merged run as run_<n>.json and, when it carries a
// histogram, run_<n>.hlog.
func (d *Dir) WriteRun(r *runner.RunResult) error {
	if err := writeJSON(d.file(fmt.Sprintf("run_%d.json", r.RunIndex)), r); err != nil {
		return err
	}
	if r.Histogram == nil {
		return nil
	}
	f, err := os.Create(d.file(fmt.Sprintf("run_%d.hlog", r.RunIndex)))
	if err != nil {
		return errors.Wrap(err, "create histogram log")
	}
	defer f.Close()
	return WriteHistogramLog(f, r)
}

// WriteHistogramLog emits the merged measurement histogram as an HdrHistogram
// interval log with a single interval covering the measurement window, tagged
// with the run id. Values are microseconds, so Interval_Max reads in seconds.
func WriteHistogramLog(w io.Writer, r *runner.RunResult) error {
	h := r.Histogram.Copy().Hdr()
	start := r.StartedAt.Add(secsToDuration(r.WarmupSecs))
	h.SetStartTimeMs(start.UnixMilli())
	h.SetEndTimeMs(start.Add(secsToDuration(r.MeasurementSecs)).UnixMilli())
	h.SetTag(r.RunID)

	lw := hdrhistogram.NewHistogramLogWriter(w)
	lw.SetBaseTime(r.StartedAt.UnixMilli())
	for _, step := range []func() error{
		lw.OutputLogFormatVersion,
		func() error { return lw.OutputStartTime(r.StartedAt.UnixMilli()) },
		func() error { return lw.OutputComment("[values in microseconds]") },
		lw.OutputLegend,
		func() error { return lw.OutputIntervalHistogram(h) },
	} {
		if err := step(); err != nil {
			return errors.Wrap(err, "write histogram log")
		}
	}
	return nil
}

func secsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// WriteResults writes results.json.
func (d *Dir) WriteResults(res *TestResults) error {
	return writeJSON(d.file(ResultsFile), res)
}

var summaryHeader = []string{
	"run", "run_id", "valid", "invalid_reason", "measurement_secs",
	"completed", "rejected", "failed", "dropped", "retries", "error_rate",
	"throughput_tps", "issue_rate",
	"p50_us", "p95_us", "p99_us", "p999_us", "max_us", "mean_us",
	"cpu_mean", "mem_max",
}

// WriteSummaryCSV writes one row per run followed by mean, stddev and
// 95% CI rows computed over the valid runs.
func (d *Dir) WriteSummaryCSV(runs []*runner.RunResult, sum aggregate.Summary) error {
	f, err := os.Create(d.file(SummaryFile))
	if err != nil {
		return errors.Wrap(err, "create summary")
	}
	defer f.Close()
	return WriteSummary(f, runs, sum)
}

func WriteSummary(out io.Writer, runs []*runner.RunResult, sum aggregate.Summary) error {
	w := csv.NewWriter(out)
	if err := w.Write(summaryHeader); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	i := func(v int64) string { return strconv.FormatInt(v, 10) }

	for _, r := range runs {
		record := []string{
			strconv.Itoa(r.RunIndex), r.RunID, strconv.FormatBool(r.Valid), r.InvalidReason, f(r.MeasurementSecs),
			u(r.Completed), u(r.Rejected), u(r.Failed), u(r.Dropped), u(r.Retries), strconv.FormatFloat(r.ErrorRate, 'f', 6, 64),
			f(r.ThroughputTPS), f(r.IssueRate),
			i(r.Latency.P50), i(r.Latency.P95), i(r.Latency.P99), i(r.Latency.P999), i(r.Latency.Max), f(r.Latency.Mean),
			f(r.ResourceSummary.CPUMean), f(r.ResourceSummary.MemMax),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	rows := []struct {
		label string
		pick  func(aggregate.Stat) float64
	}{
		{"mean", func(s aggregate.Stat) float64 { return s.Mean }},
		{"stddev", func(s aggregate.Stat) float64 { return s.StdDev }},
		{"cv", func(s aggregate.Stat) float64 { return s.CV }},
		{"ci95_low", func(s aggregate.Stat) float64 { return s.CILow }},
		{"ci95_high", func(s aggregate.Stat) float64 { return s.CIHigh }},
	}
	for _, row := range rows {
		record := make([]string, len(summaryHeader))
		record[0] = row.label
		record[11] = f(row.pick(sum.Throughput))
		record[13] = f(row.pick(sum.P50))
		record[14] = f(row.pick(sum.P95))
		record[15] = f(row.pick(sum.P99))
		record[16] = f(row.pick(sum.P999))
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
