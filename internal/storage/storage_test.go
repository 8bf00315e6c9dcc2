package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xferbench/internal/aggregate"
	"xferbench/internal/export"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(id string, at time.Time) HistoryItem {
	res := &export.TestResults{
		SuiteID:   id,
		StartedAt: at,
		Config:    export.ConfigSummary{TestMode: "max_throughput", Concurrency: 8},
		Aggregate: aggregate.Summary{
			TotalRuns:  3,
			ValidRuns:  2,
			Throughput: aggregate.Stat{Mean: 1234.5, CV: 0.02},
			P99:        aggregate.Stat{Mean: 800},
			Warnings:   []string{"one"},
		},
	}
	return NewHistoryItem(res, "/tmp/"+id)
}

func TestSaveListNewestFirst(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(item("b", base.Add(time.Hour))))
	require.NoError(t, s.Save(item("a", base)))
	require.NoError(t, s.Save(item("c", base.Add(2*time.Hour))))

	items, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "a", items[2].ID)

	items, err = s.List(2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestGet(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Save(item("suite-1", time.Now())))

	got, err := s.Get("suite-1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/suite-1", got.Dir)
	assert.Equal(t, 2, got.Summary.ValidRuns)
	assert.Equal(t, 1234.5, got.Summary.ThroughputTPS)
	assert.Equal(t, 1, got.Summary.Warnings)
	assert.Equal(t, 8, got.Config.Concurrency)

	_, err = s.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(item("x", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	items, err := s.List(0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
