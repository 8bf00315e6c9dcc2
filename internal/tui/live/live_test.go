package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"xferbench/internal/phase"
	"xferbench/internal/runner"
)

func snap(client, run string, ph phase.Phase, completed uint64, p99 float64) runner.StatsSnapshot {
	return runner.StatsSnapshot{
		ClientID:  client,
		RunID:     run,
		Phase:     ph,
		Elapsed:   time.Second,
		Total:     4 * time.Second,
		Completed: completed,
		Inflight:  2,
		P99Ms:     p99,
	}
}

func TestTotalsAcrossClients(t *testing.T) {
	m := NewModel(3, 0.05)
	m, _ = m.Update(snap("a", "r1", phase.Measurement, 100, 4))
	m, _ = m.Update(snap("b", "r1", phase.Measurement, 50, 9))
	m, _ = m.Update(snap("a", "r1", phase.Measurement, 120, 5))

	assert.Equal(t, 1, m.RunIndex)
	assert.Equal(t, 2, m.Totals.Clients)
	assert.Equal(t, uint64(170), m.Totals.Counters.Completed)
	assert.Equal(t, int64(4), m.Totals.Counters.Inflight)
	assert.Equal(t, 9.0, m.Totals.Counters.P99Ms)
	assert.Contains(t, m.View(), "Run 1/3")
}

func TestNewRunResets(t *testing.T) {
	m := NewModel(2, 0.05)
	m, _ = m.Update(snap("a", "r1", phase.Measurement, 100, 4))
	m, _ = m.Update(snap("a", "r2", phase.Warmup, 3, 1))

	assert.Equal(t, 2, m.RunIndex)
	assert.Equal(t, uint64(3), m.Totals.Counters.Completed)
	assert.Equal(t, phase.Warmup, m.Totals.Phase)
	assert.Contains(t, m.View(), "WARMUP")
}

func TestWaitingView(t *testing.T) {
	assert.Contains(t, NewModel(1, 0.05).View(), "Waiting")
}
