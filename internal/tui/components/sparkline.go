package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline is a one-row scrolling chart scaled to the max of the visible
// window.
type Sparkline struct {
	Data  []float64
	Width int
	Max   float64
	Style lipgloss.Style
	Label string
}

func NewSparkline(width int, label string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Style: style,
		Data:  make([]float64, 0, width),
	}
}

func (s *Sparkline) Add(val float64) {
	if val < 0 {
		val = 0
	}
	s.Data = append(s.Data, val)
	if len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}
	s.Max = 0
	for _, v := range s.Data {
		if v > s.Max {
			s.Max = v
		}
	}
}

// Reset clears the series, e.g. when a new run starts.
func (s *Sparkline) Reset() {
	s.Data = s.Data[:0]
	s.Max = 0
}

func (s Sparkline) Render() string {
	var graph strings.Builder
	for _, v := range s.Data {
		if s.Max == 0 {
			graph.WriteString(levels[0])
			continue
		}
		idx := int(v / s.Max * float64(len(levels)-1))
		idx = max(0, min(idx, len(levels)-1))
		graph.WriteString(levels[idx])
	}
	if pad := s.Width - len(s.Data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}
	return graph.String()
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	return s.Style.Render(s.Label) + "\n" + s.Style.Render(s.Render())
}
