package ui

import "github.com/charmbracelet/lipgloss"

var (
	green   = lipgloss.Color("#04B575")
	yellow  = lipgloss.AdaptiveColor{Light: "#A48200", Dark: "#ECFD65"}
	blue    = lipgloss.Color("#00AAFF")
	orange  = lipgloss.Color("#FF8800")
	red     = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}
	gray    = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}
	fuchsia = lipgloss.Color("#EE6FF8")
)

var (
	dimStyle     = lipgloss.NewStyle().Foreground(gray)
	captionStyle = lipgloss.NewStyle().Italic(true)
	cueStyle     = lipgloss.NewStyle().Foreground(fuchsia)
	errorStyle   = lipgloss.NewStyle().Foreground(red)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(fuchsia).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(orange).
			Padding(1, 0)
)
