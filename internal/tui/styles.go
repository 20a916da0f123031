package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorGreen  = lipgloss.Color("#4CAF50")
	colorRed    = lipgloss.Color("#FF6B6B")
	colorBlue   = lipgloss.Color("#5B8DEF")
	colorYellow = lipgloss.Color("#F7B801")
	colorMuted  = lipgloss.Color("#999999")
	colorText   = lipgloss.Color("#CCCCCC")
	colorDetail = lipgloss.Color("#A0AEC0")
)

var (
	nameStyle    = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(colorYellow)
	idleStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	detailStyle  = lipgloss.NewStyle().Foreground(colorDetail)
	headingStyle = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
)

const (
	colContract = 24
	colBuild    = 20
	colPhase    = 3
	colAddress  = 14
	barWidth    = 12
)
