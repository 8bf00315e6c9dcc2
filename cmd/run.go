package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"xferbench/internal/backend"
	"xferbench/internal/cli"
	"xferbench/internal/config"
	"xferbench/internal/coordinator"
	"xferbench/internal/export"
	"xferbench/internal/logging"
	"xferbench/internal/metrics"
	"xferbench/internal/runner"
	"xferbench/internal/storage"
	"xferbench/internal/tui/app"
)

var headless bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a benchmark suite",
	Long: `Run executes coordinator.test_runs runs of warmup plus measurement and
writes results to coordinator.metrics_export_path. Without --headless the
suite is shown in an interactive terminal UI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runSuite(cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&headless, "headless", false, "print progress and summary instead of the TUI")

	f.String("mode", "", "test mode: max_throughput or fixed_rate")
	f.Int("concurrency", 0, "closed-loop worker count")
	f.Int("rate", 0, "open-loop target rate (transfers/s)")
	f.Int("max-concurrency", 0, "open-loop in-flight ceiling")
	f.Int("accounts", 0, "number of accounts")
	f.Float64("zipf", 0, "zipfian exponent (0 = uniform)")
	f.Int("warmup", 0, "warmup seconds")
	f.IntP("duration", "d", 0, "measurement seconds")
	f.IntP("runs", "n", 0, "number of runs")
	f.String("database", "", "back-end: postgresql, http or mock")
	f.String("dsn", "", "postgresql DSN")
	f.String("url", "", "base URL of an http back-end")
	f.StringP("out", "o", "", "metrics export path")
	f.Int("prometheus-port", 0, "serve /metrics on this port (0 = off)")

	bind := map[string]string{
		"mode":            "workload.test_mode",
		"concurrency":     "workload.concurrency",
		"rate":            "workload.target_rate",
		"max-concurrency": "workload.max_concurrency",
		"accounts":        "workload.num_accounts",
		"zipf":            "workload.zipfian_exponent",
		"warmup":          "workload.warmup_duration_secs",
		"duration":        "workload.test_duration_secs",
		"runs":            "coordinator.test_runs",
		"database":        "database.type",
		"dsn":             "postgresql.dsn",
		"url":             "http.base_url",
		"out":             "coordinator.metrics_export_path",
		"prometheus-port": "monitoring.prometheus_port",
	}
	for flag, key := range bind {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func openHistory(cfg *config.Config, log *zap.Logger) *storage.Store {
	path := cfg.Coordinator.HistoryPath
	if path == "" {
		p, err := storage.DefaultPath()
		if err != nil {
			log.Warn("history disabled", zap.Error(err))
			return nil
		}
		path = p
	}
	s, err := storage.Open(path)
	if err != nil {
		log.Warn("history disabled", zap.Error(err))
		return nil
	}
	return s
}

func runSuite(cfg *config.Config) error {
	log, err := logging.New(logging.Options{Level: logLevel, Quiet: !headless})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New()
	if port := cfg.Monitoring.PrometheusPort; port > 0 {
		m.Serve(ctx, port, log)
	}

	hist := openHistory(cfg, log)
	if hist != nil {
		defer hist.Close()
	}

	updates := make(runner.StatsUpdateChan, 100)
	events := make(chan coordinator.RunEvent, cfg.Coordinator.TestRuns)
	coord, err := coordinator.New(cfg, b, log, coordinator.Options{
		Metrics:         m,
		Updates:         updates,
		History:         hist,
		SampleResources: true,
		Events:          events,
		Seed:            uint64(time.Now().UnixNano()),
	})
	if err != nil {
		return err
	}

	if headless {
		cli.PrintHeader(os.Stdout, cfg)
		progCtx, stopProgress := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			cli.Progress(progCtx, os.Stdout, updates, events)
			close(done)
		}()
		res, err := coord.RunSuite(ctx)
		stopProgress()
		<-done
		if res != nil {
			cli.PrintSummary(os.Stdout, res, res.Dir)
		}
		return err
	}

	sigCtx := ctx
	model := app.NewModel(cfg, updates, events, hist, func(tuiCtx context.Context) (*export.TestResults, error) {
		runCtx, cancel := context.WithCancel(tuiCtx)
		defer cancel()
		stopAfter := context.AfterFunc(sigCtx, cancel)
		defer stopAfter()
		return coord.RunSuite(runCtx)
	})
	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	fm, ok := final.(app.Model)
	if !ok {
		return nil
	}
	if fm.Results != nil {
		cli.PrintSummary(os.Stdout, fm.Results, fm.Results.Dir)
	}
	return fm.Err
}
