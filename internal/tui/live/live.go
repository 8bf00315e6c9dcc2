// Package live renders the in-progress run: phase, counters, tps and
// latency sparklines, and a progress bar over warmup plus measurement.
package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"xferbench/internal/phase"
	"xferbench/internal/runner"
	"xferbench/internal/tui/components"
	"xferbench/internal/tui/styles"
)

// Totals sums the latest snapshot of every client in the current run.
type Totals struct {
	RunID    string
	Phase    phase.Phase
	Elapsed  time.Duration
	Total    time.Duration
	Clients  int
	Counters runner.StatsSnapshot
}

type Model struct {
	RunIndex  int
	RunsTotal int
	MaxError  float64

	clients map[string]runner.StatsSnapshot
	Totals  Totals

	Progress    progress.Model
	TPSLine     components.Sparkline
	LatencyLine components.Sparkline

	lastUpdate    time.Time
	lastSucceeded uint64

	Width  int
	Height int
}

func NewModel(runs int, maxError float64) Model {
	return Model{
		RunsTotal:   runs,
		MaxError:    maxError,
		clients:     make(map[string]runner.StatsSnapshot),
		Progress:    progress.New(progress.WithDefaultGradient()),
		TPSLine:     components.NewSparkline(40, "Throughput (tps)", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency p99 (ms)", styles.Warn),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// apply folds one client's snapshot into the totals. A new run id clears the
// previous run's clients and charts.
func (m *Model) apply(s runner.StatsSnapshot, now time.Time) {
	if s.RunID != m.Totals.RunID {
		m.clients = make(map[string]runner.StatsSnapshot)
		m.TPSLine.Reset()
		m.LatencyLine.Reset()
		m.lastSucceeded = 0
		m.lastUpdate = now
		m.RunIndex++
	}
	m.clients[s.ClientID] = s

	t := Totals{RunID: s.RunID, Phase: s.Phase, Clients: len(m.clients)}
	for _, c := range m.clients {
		t.Counters.Completed += c.Completed
		t.Counters.Rejected += c.Rejected
		t.Counters.Failed += c.Failed
		t.Counters.Dropped += c.Dropped
		t.Counters.Retries += c.Retries
		t.Counters.Inflight += c.Inflight
		t.Counters.P50Ms = max(t.Counters.P50Ms, c.P50Ms)
		t.Counters.P99Ms = max(t.Counters.P99Ms, c.P99Ms)
		t.Counters.MaxMs = max(t.Counters.MaxMs, c.MaxMs)
		t.Elapsed = max(t.Elapsed, c.Elapsed)
		t.Total = max(t.Total, c.Total)
		if c.Phase > t.Phase {
			t.Phase = c.Phase
		}
	}
	m.Totals = t
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.StatsSnapshot:
		now := time.Now()
		prevPhase := m.Totals.Phase
		m.apply(msg, now)

		succeeded := m.Totals.Counters.Completed + m.Totals.Counters.Rejected
		if m.Totals.Phase != prevPhase || succeeded < m.lastSucceeded {
			// counters restart at the phase boundary
			m.lastSucceeded = 0
		}
		if dt := now.Sub(m.lastUpdate).Seconds(); dt >= 0.1 {
			m.TPSLine.Add(float64(succeeded-m.lastSucceeded) / dt)
			m.LatencyLine.Add(m.Totals.Counters.P99Ms)
			m.lastSucceeded = succeeded
			m.lastUpdate = now
		}

		pct := 0.0
		if m.Totals.Total > 0 {
			pct = min(1, float64(m.Totals.Elapsed)/float64(m.Totals.Total))
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 8
		half := max(10, msg.Width/2-8)
		m.TPSLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.Totals.RunID == "" {
		return styles.Subtle.Render("Waiting for the first run to start...")
	}
	c := m.Totals.Counters
	s := strings.Builder{}

	phaseStyle := styles.Phase(m.Totals.Phase == phase.Measurement)
	s.WriteString(styles.Title.Render(fmt.Sprintf("Run %d/%d", m.RunIndex, m.RunsTotal)))
	s.WriteString("  ")
	s.WriteString(phaseStyle.Render(strings.ToUpper(m.Totals.Phase.String())))
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("  %s  clients: %d", m.Totals.RunID, m.Totals.Clients)))
	s.WriteString("\n\n")

	errRate := 0.0
	if n := c.Requests(); n > 0 {
		errRate = float64(c.Failed) / float64(n)
	}
	col1 := fmt.Sprintf("OK:   %s\nREJ:  %s", humanize.Comma(int64(c.Completed)), humanize.Comma(int64(c.Rejected)))
	col2 := styles.ErrorRate(errRate, m.MaxError).Render(
		fmt.Sprintf("FAIL: %s\nERR:  %.2f%%", humanize.Comma(int64(c.Failed)), errRate*100))
	col3 := fmt.Sprintf("INF:  %d\nDROP: %s\nRTY:  %s", c.Inflight, humanize.Comma(int64(c.Dropped)), humanize.Comma(int64(c.Retries)))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.TPSLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf("p50: %.2f ms  |  p99: %.2f ms  |  max: %.2f ms", c.P50Ms, c.P99Ms, c.MaxMs)
	s.WriteString(styles.Box.Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("  %s / %s",
		m.Totals.Elapsed.Round(time.Second), m.Totals.Total)))
	return s.String()
}
