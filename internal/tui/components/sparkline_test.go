package components

import (
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestSparklineWindow(t *testing.T) {
	s := NewSparkline(3, "tps", lipgloss.NewStyle())
	for _, v := range []float64{100, 1, 2, 4} {
		s.Add(v)
	}
	assert.Equal(t, []float64{1, 2, 4}, s.Data)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, "▂▄█", s.Render())
}

func TestSparklinePadsAndClamps(t *testing.T) {
	s := NewSparkline(5, "p99", lipgloss.NewStyle())
	s.Add(-3)
	s.Add(0)
	out := s.Render()
	assert.Equal(t, 5, utf8.RuneCountInString(out))
	assert.Equal(t, "     ", out)

	s.Reset()
	assert.Empty(t, s.Data)
}
