package app

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xferbench/internal/config"
	"xferbench/internal/coordinator"
	"xferbench/internal/export"
	"xferbench/internal/runner"
)

func newTestModel() Model {
	cfg := &config.Config{Coordinator: config.CoordinatorConfig{TestRuns: 2, MaxErrorRate: 0.05}}
	suite := func(context.Context) (*export.TestResults, error) { return nil, nil }
	return NewModel(cfg, make(runner.StatsUpdateChan, 1), nil, nil, suite)
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestCtrlCStopsSuiteBeforeQuitting(t *testing.T) {
	m := newTestModel()
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Error(t, m.ctx.Err())
	assert.True(t, m.Running)

	m = update(t, m, suiteDoneMsg{err: context.Canceled})
	assert.False(t, m.Running)
	assert.Equal(t, ViewResults, m.CurrentView)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestViewSwitching(t *testing.T) {
	m := newTestModel()
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("3")})
	assert.Equal(t, ViewHistory, m.CurrentView)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, ViewLive, m.CurrentView)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, ViewHistory, m.CurrentView)
}

func TestRunEventsReachResults(t *testing.T) {
	m := newTestModel()
	m = update(t, m, RunMsg(coordinator.RunEvent{Index: 1, Of: 2, Result: &runner.RunResult{RunIndex: 1, Valid: true}}))
	assert.Len(t, m.ResultView.Runs, 1)

	m = update(t, m, suiteDoneMsg{res: &export.TestResults{}, err: errors.New("boom")})
	assert.Equal(t, "boom", m.ResultView.Err.Error())
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Contains(t, m.View(), "Suite finished")
}
