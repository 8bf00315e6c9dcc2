// Package result renders the per-run rows and the cross-run aggregate.
package result

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"xferbench/internal/aggregate"
	"xferbench/internal/export"
	"xferbench/internal/runner"
	"xferbench/internal/tui/styles"
)

type Model struct {
	Runs    []*runner.RunResult
	Results *export.TestResults
	Err     error

	Width  int
	Height int
}

func NewModel() Model {
	return Model{}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// AddRun appends a finished run as soon as the coordinator reports it.
func (m *Model) AddRun(r *runner.RunResult) {
	if r != nil {
		m.Runs = append(m.Runs, r)
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func runRow(r *runner.RunResult) string {
	row := fmt.Sprintf("%3d  %s %10s tps  p50 %8s  p99 %8s  err %6.2f%%  drop %s",
		r.RunIndex, styles.RunStatus(r.Valid),
		humanize.CommafWithDigits(r.ThroughputTPS, 1),
		micros(float64(r.Latency.P50)), micros(float64(r.Latency.P99)),
		r.ErrorRate*100, humanize.Comma(int64(r.Dropped)))
	if r.InvalidReason != "" {
		row += styles.Subtle.Render("  " + r.InvalidReason)
	}
	return row
}

func micros(us float64) string {
	return fmt.Sprintf("%.2fms", us/1000)
}

func statRow(name string, s aggregate.Stat, format func(float64) string) string {
	return fmt.Sprintf("%-11s mean %10s  sd %10s  cv %6.2f%%  95%% CI [%s, %s]  min %s  max %s",
		name, format(s.Mean), format(s.StdDev), s.CV*100,
		format(s.CILow), format(s.CIHigh), format(s.Min), format(s.Max))
}

func (m Model) View() string {
	s := strings.Builder{}

	s.WriteString(styles.Active.Render("Runs"))
	s.WriteString("\n")
	if len(m.Runs) == 0 {
		s.WriteString(styles.Subtle.Render("  no runs finished yet"))
	}
	rows := make([]string, len(m.Runs))
	for i, r := range m.Runs {
		rows[i] = runRow(r)
	}
	if len(rows) > 0 {
		s.WriteString(styles.Box.Render(strings.Join(rows, "\n")))
	}
	s.WriteString("\n\n")

	if m.Results == nil {
		return s.String()
	}
	a := m.Results.Aggregate
	s.WriteString(styles.Title.Render(fmt.Sprintf("Suite complete: %d of %d runs valid", a.ValidRuns, a.TotalRuns)))
	s.WriteString("\n\n")

	tps := func(v float64) string { return humanize.CommafWithDigits(v, 1) }
	stats := []string{
		statRow("throughput", a.Throughput, tps),
		statRow("p50", a.P50, micros),
		statRow("p95", a.P95, micros),
		statRow("p99", a.P99, micros),
		statRow("p99.9", a.P999, micros),
	}
	s.WriteString(styles.Box.Render(strings.Join(stats, "\n")))
	s.WriteString("\n\n")

	for _, w := range a.Warnings {
		s.WriteString(styles.Warn.Render("! " + w))
		s.WriteString("\n")
	}
	if m.Err != nil {
		s.WriteString(styles.Error.Render("suite stopped: " + m.Err.Error()))
		s.WriteString("\n")
	}
	return s.String()
}
