package components

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestSparklineWindow(t *testing.T) {
	s := NewSparkline(3, "ops/s", "ops", lipgloss.NewStyle())
	for _, v := range []float64{100, 0, 4, 8} {
		s.Add(v)
	}
	assert.Equal(t, []float64{0, 4, 8}, s.Data)
	assert.Equal(t, 8.0, s.Max)
	assert.Equal(t, 8.0, s.Last())
	assert.Equal(t, " ▄█", s.Graph())
}

func TestSparklinePadsAndClamps(t *testing.T) {
	s := NewSparkline(4, "p99", "ms", lipgloss.NewStyle())
	s.Add(-5)
	assert.Equal(t, "    ", s.Graph())
	assert.Zero(t, s.Max)

	assert.Empty(t, Sparkline{}.View())
}
