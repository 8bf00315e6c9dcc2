// Package history shows past suites from the bbolt store.
package history

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"xferbench/internal/storage"
	"xferbench/internal/tui/styles"
)

type Model struct {
	Store *storage.Store
	Table table.Model
	Items []storage.HistoryItem
	Err   error

	Width  int
	Height int
}

func NewModel(store *storage.Store) Model {
	columns := []table.Column{
		{Title: "Started", Width: 20},
		{Title: "Mode", Width: 15},
		{Title: "DB", Width: 11},
		{Title: "Load", Width: 10},
		{Title: "Runs", Width: 6},
		{Title: "TPS", Width: 12},
		{Title: "CV", Width: 7},
		{Title: "p99 (ms)", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.ColorPrimary)
	s.Selected = s.Selected.
		Foreground(styles.ColorBg).
		Background(styles.ColorPrimary).
		Bold(true)
	t.SetStyles(s)

	m := Model{Store: store, Table: t}
	m.Refresh()
	return m
}

// Row formats one item the way both the table and the plain CLI listing
// show it.
func Row(item storage.HistoryItem) []string {
	load := fmt.Sprintf("%d w", item.Config.Concurrency)
	if item.Config.TargetRate > 0 {
		load = fmt.Sprintf("%s/s", humanize.Comma(int64(item.Config.TargetRate)))
	}
	return []string{
		item.Timestamp.Local().Format(time.DateTime),
		item.Config.TestMode,
		item.Config.Database,
		load,
		fmt.Sprintf("%d/%d", item.Summary.ValidRuns, item.Summary.Runs),
		humanize.CommafWithDigits(item.Summary.ThroughputTPS, 1),
		fmt.Sprintf("%.1f%%", item.Summary.ThroughputCV*100),
		fmt.Sprintf("%.2f", item.Summary.P99Us/1000),
	}
}

func (m *Model) Refresh() {
	if m.Store == nil {
		return
	}
	m.Items, m.Err = m.Store.List(0)
	rows := make([]table.Row, len(m.Items))
	for i, item := range m.Items {
		rows[i] = Row(item)
	}
	m.Table.SetRows(rows)
}

// Selected is the highlighted suite, or nil.
func (m Model) Selected() *storage.HistoryItem {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Items) {
		return nil
	}
	return &m.Items[i]
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
		m.Table.SetHeight(max(5, msg.Height-6))
	}
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Err != nil {
		return styles.Error.Render("history: " + m.Err.Error())
	}
	out := styles.Box.Render(m.Table.View())
	if sel := m.Selected(); sel != nil {
		out += "\n" + styles.Subtle.Render("  "+sel.Dir)
	}
	return out
}
