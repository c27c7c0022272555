package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/surge-downloader/offline/internal/config"
)

var (
	// Colors
	ColorPrimary   = lipgloss.Color("#bd93f9") // Dracula Purple
	ColorSecondary = lipgloss.Color("#ff79c6") // Dracula Pink
	ColorSuccess   = lipgloss.Color("#50fa7b") // Dracula Green
	ColorError     = lipgloss.Color("#ff5555") // Dracula Red
	ColorWarning   = lipgloss.Color("#ffb86c") // Dracula Orange
	ColorText      = lipgloss.Color("#f8f8f2") // Dracula Foreground
	ColorSubtext   = lipgloss.Color("#6272a4") // Dracula Comment
	ColorBorder    = lipgloss.Color("#44475a") // Dracula Selection
	ColorGray      = lipgloss.Color("#3b3d4a")
)

var (
	AppStyle          lipgloss.Style
	HeaderStyle       lipgloss.Style
	StatsStyle        lipgloss.Style
	CardStyle         lipgloss.Style
	SelectedCardStyle lipgloss.Style
	CardTitleStyle    lipgloss.Style
	CardStatsStyle    lipgloss.Style
	ErrorStyle        lipgloss.Style
	HelpStyle         lipgloss.Style
)

func init() {
	buildStyles()
}

// ApplyTheme switches the palette. The adaptive theme follows the terminal
// background reported by termenv.
func ApplyTheme(theme int) {
	dark := true
	switch theme {
	case config.ThemeLight:
		dark = false
	case config.ThemeAdaptive:
		dark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(dark)

	if dark {
		ColorText = lipgloss.Color("#f8f8f2")
		ColorSubtext = lipgloss.Color("#6272a4")
		ColorBorder = lipgloss.Color("#44475a")
		ColorGray = lipgloss.Color("#3b3d4a")
	} else {
		ColorText = lipgloss.Color("#282a36")
		ColorSubtext = lipgloss.Color("#6c6f85")
		ColorBorder = lipgloss.Color("#bcc0cc")
		ColorGray = lipgloss.Color("#dce0e8")
	}
	buildStyles()
}

func buildStyles() {
	AppStyle = lipgloss.NewStyle().
		Padding(DefaultPaddingY, DefaultPaddingX).
		Foreground(ColorText)

	HeaderStyle = lipgloss.NewStyle().
		Foreground(ColorText).
		Bold(true).
		Padding(DefaultPaddingY, DefaultPaddingX).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorPrimary).
		BorderBottom(true)

	// Stats Style in Header
	StatsStyle = lipgloss.NewStyle().
		Foreground(ColorSubtext).
		Padding(DefaultPaddingY, DefaultPaddingX)

	CardStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(DefaultPaddingY, DefaultPaddingX)

	// Selected Card Style (highlighted border)
	SelectedCardStyle = CardStyle.
		BorderForeground(ColorSecondary)

	CardTitleStyle = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true)

	CardStatsStyle = lipgloss.NewStyle().
		Foreground(ColorSubtext).
		Italic(true)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(ColorError)

	HelpStyle = lipgloss.NewStyle().
		Foreground(ColorSubtext)
}
