// Package app is the interactive front end of a suite: live run view,
// finished runs with the aggregate, and the history table.
package app

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"xferbench/internal/config"
	"xferbench/internal/coordinator"
	"xferbench/internal/export"
	"xferbench/internal/runner"
	"xferbench/internal/storage"
	"xferbench/internal/tui/history"
	"xferbench/internal/tui/live"
	"xferbench/internal/tui/result"
	"xferbench/internal/tui/styles"
)

type ViewID int

const (
	ViewLive ViewID = iota
	ViewResults
	ViewHistory
	numViews
)

// SuiteFunc runs the whole suite. It is started once from Init.
type SuiteFunc func(ctx context.Context) (*export.TestResults, error)

type StatsMsg runner.StatsSnapshot
type RunMsg coordinator.RunEvent
type suiteDoneMsg struct {
	res *export.TestResults
	err error
}

type Model struct {
	Updates runner.StatsUpdateChan
	Events  <-chan coordinator.RunEvent

	suite  SuiteFunc
	ctx    context.Context
	cancel context.CancelFunc

	Running bool
	Results *export.TestResults
	Err     error

	Width  int
	Height int

	CurrentView ViewID
	MenuItems   []string

	LiveView    live.Model
	ResultView  result.Model
	HistoryView history.Model

	StatusMsg string
}

func NewModel(cfg *config.Config, updates runner.StatsUpdateChan, events <-chan coordinator.RunEvent, store *storage.Store, suite SuiteFunc) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		Updates:     updates,
		Events:      events,
		suite:       suite,
		ctx:         ctx,
		cancel:      cancel,
		Running:     true,
		CurrentView: ViewLive,
		MenuItems:   []string{"[1] Live", "[2] Results", "[3] History"},
		LiveView:    live.NewModel(cfg.Coordinator.TestRuns, cfg.Coordinator.MaxErrorRate),
		ResultView:  result.NewModel(),
		HistoryView: history.NewModel(store),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		runSuite(m.ctx, m.suite),
		waitForUpdate(m.Updates),
		waitForEvent(m.Events),
	)
}

func runSuite(ctx context.Context, suite SuiteFunc) tea.Cmd {
	return func() tea.Msg {
		res, err := suite(ctx)
		return suiteDoneMsg{res: res, err: err}
	}
}

func waitForUpdate(sub runner.StatsUpdateChan) tea.Cmd {
	return func() tea.Msg {
		return StatsMsg(<-sub)
	}
}

func waitForEvent(sub <-chan coordinator.RunEvent) tea.Cmd {
	if sub == nil {
		return nil
	}
	return func() tea.Msg {
		return RunMsg(<-sub)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.Running {
				m.cancel()
				m.StatusMsg = "Stopping suite..."
				return m, nil
			}
			return m, tea.Quit
		case "q", "esc":
			if !m.Running {
				return m, tea.Quit
			}
		case "1", "2", "3":
			m.CurrentView = ViewID(msg.String()[0] - '1')
			return m, nil
		case "tab", "ctrl+right":
			m.CurrentView = (m.CurrentView + 1) % numViews
			return m, nil
		case "shift+tab", "ctrl+left":
			m.CurrentView = (m.CurrentView + numViews - 1) % numViews
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		content := tea.WindowSizeMsg{Width: msg.Width, Height: msg.Height - 7}
		m.LiveView, _ = m.LiveView.Update(content)
		m.ResultView, _ = m.ResultView.Update(content)
		m.HistoryView, _ = m.HistoryView.Update(content)
		return m, nil

	case StatsMsg:
		var c tea.Cmd
		m.LiveView, c = m.LiveView.Update(runner.StatsSnapshot(msg))
		return m, tea.Batch(c, waitForUpdate(m.Updates))

	case RunMsg:
		m.ResultView.AddRun(msg.Result)
		return m, waitForEvent(m.Events)

	case suiteDoneMsg:
		m.Running = false
		m.Results, m.Err = msg.res, msg.err
		m.ResultView.Results, m.ResultView.Err = msg.res, msg.err
		m.HistoryView.Refresh()
		m.CurrentView = ViewResults
		m.StatusMsg = "Suite finished. Press q to quit."
		if msg.res == nil && msg.err != nil {
			m.StatusMsg = "Suite failed: " + msg.err.Error()
		}
		return m, nil
	}

	var c tea.Cmd
	switch m.CurrentView {
	case ViewLive:
		m.LiveView, c = m.LiveView.Update(msg)
	case ViewResults:
		m.ResultView, c = m.ResultView.Update(msg)
	case ViewHistory:
		m.HistoryView, c = m.HistoryView.Update(msg)
	}
	cmds = append(cmds, c)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.Width == 0 {
		return "Loading..."
	}

	nav := strings.Builder{}
	for i, item := range m.MenuItems {
		if ViewID(i) == m.CurrentView {
			nav.WriteString(styles.TabActive.Render(item))
		} else {
			nav.WriteString(styles.TabBase.Render(item))
		}
	}
	navBar := styles.FooterBase.Width(m.Width).Render(nav.String())

	var content string
	switch m.CurrentView {
	case ViewLive:
		content = m.LiveView.View()
	case ViewResults:
		content = m.ResultView.View()
	case ViewHistory:
		content = m.HistoryView.View()
	}
	panel := styles.Panel.Width(m.Width - 2).Height(m.Height - 6).Render(content)

	keys := []string{
		styles.RenderKey("1-3/Tab", "View"),
		styles.RenderKey("Ctrl+C", "Stop"),
	}
	if !m.Running {
		keys = append(keys, styles.RenderKey("q", "Quit"))
	}
	footer := styles.FooterBase.Width(m.Width).Render(strings.Join(keys, "   "))

	if m.StatusMsg != "" {
		status := styles.Box.BorderForeground(styles.ColorHighlight).Render(m.StatusMsg)
		return lipgloss.JoinVertical(lipgloss.Left, navBar, panel, status, footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, navBar, panel, footer)
}
