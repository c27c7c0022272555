package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var graphBlocks = []string{" ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// renderMultiLineGraph draws the throughput history as a bar graph over a
// dashed grid, newest sample on the right. Values are scaled to maxVal.
func renderMultiLineGraph(data []float64, width, height int, maxVal float64, color lipgloss.Color) string {
	if width < 1 || height < 1 {
		return ""
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	grid := lipgloss.NewStyle().Foreground(ColorGray)
	bar := lipgloss.NewStyle().Foreground(color)

	canvas := make([][]string, height)
	for row := range canvas {
		canvas[row] = make([]string, width)
		for col := range canvas[row] {
			if row%2 == 0 {
				canvas[row][col] = grid.Render("╌")
			} else {
				canvas[row][col] = " "
			}
		}
	}

	samples := data
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}
	// Short histories leave the grid visible on the left
	offset := width - len(samples)

	for i, v := range samples {
		frac := v / maxVal
		if frac < 0 {
			frac = 0
		} else if frac > 1 {
			frac = 1
		}
		eighths := frac * float64(height) * 8

		for level := 0; level < height; level++ {
			fill := eighths - float64(level*8)
			if fill <= 0 {
				break
			}
			block := graphBlocks[len(graphBlocks)-1]
			if fill < 8 {
				block = graphBlocks[int(fill)]
			}
			canvas[height-1-level][offset+i] = bar.Render(block)
		}
	}

	lines := make([]string, height)
	for row := range canvas {
		lines[row] = strings.Join(canvas[row], "")
	}
	return strings.Join(lines, "\n")
}
