package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/surge-downloader/offline/internal/engine/types"
)

func (m RootModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if len(m.downloads) == 0 {
		b.WriteString(StatsStyle.Render("No downloads"))
		b.WriteString("\n")
	}
	for i, d := range m.downloads {
		b.WriteString(m.renderCard(d, i == m.cursor))
		b.WriteString("\n")
	}

	if len(m.speedHistory) > 0 {
		width := m.width - HeaderWidthOffset*2
		b.WriteString(renderMultiLineGraph(m.speedHistory, width, GraphHeight, maxOf(m.speedHistory), ColorSuccess))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(ErrorStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(HelpStyle.Render("↑/↓ select • p pause • r resume • x remove • q quit"))
	return AppStyle.Render(b.String())
}

func (m RootModel) renderHeader() string {
	var downloaded, total int64
	var speed float64
	active := 0
	for _, d := range m.downloads {
		downloaded += d.Downloaded
		total += d.Total
		speed += d.Speed
		if d.State == types.StateInProgress {
			active++
		}
	}
	stats := fmt.Sprintf("%d active • %s / %s • %s/s",
		active, formatBytes(downloaded), formatBytes(total), formatBytes(int64(speed)))

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		HeaderStyle.Render("offline"),
		StatsStyle.Render(stats))
	return header
}

func (m RootModel) renderCard(d *DownloadModel, selected bool) string {
	style := CardStyle
	if selected {
		style = SelectedCardStyle
	}
	width := m.width - HeaderWidthOffset*2
	if width > 0 {
		style = style.Width(width)
	}

	title := CardTitleStyle.Render(d.ID) + "  " + stateLabel(d.State)

	percent := 0.0
	if d.Total > 0 {
		percent = float64(d.Downloaded) / float64(d.Total)
		if percent > 1 {
			percent = 1
		}
	}
	d.progress.Width = m.progressWidth()
	bar := d.progress.ViewAs(percent)

	stats := fmt.Sprintf("%s / %s", formatBytes(d.Downloaded), formatBytes(d.Total))
	switch {
	case d.State == types.StateInProgress:
		stats += fmt.Sprintf(" • %s/s", formatBytes(int64(d.Speed)))
	case d.State == types.StateCompleted && d.Elapsed > 0:
		stats += fmt.Sprintf(" • took %s", d.Elapsed.Round(100*time.Millisecond))
	}

	lines := []string{title, bar, CardStatsStyle.Render(stats)}
	if d.err != nil {
		lines = append(lines, ErrorStyle.Render(d.err.Error()))
	}
	return style.Render(strings.Join(lines, "\n"))
}

func (m RootModel) progressWidth() int {
	w := m.width - HeaderWidthOffset*2 - ProgressBarWidthOffset*2
	if w < 10 {
		w = 10
	}
	return w
}

func stateLabel(s types.ItemState) string {
	color := ColorSubtext
	switch s {
	case types.StateInProgress:
		color = ColorPrimary
	case types.StatePaused:
		color = ColorWarning
	case types.StateCompleted:
		color = ColorSuccess
	case types.StateFailed:
		color = ColorError
	}
	return lipgloss.NewStyle().Foreground(color).Render(strings.ToLower(s.String()))
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

func maxOf(values []float64) float64 {
	var m float64
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}
