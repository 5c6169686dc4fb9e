package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorSuccess = lipgloss.Color("#10B981") // Green
	ColorWarning = lipgloss.Color("#F59E0B") // Amber
	ColorError   = lipgloss.Color("#EF4444") // Red
	ColorInfo    = lipgloss.Color("#3B82F6") // Blue

	ColorText      = lipgloss.Color("#F3F4F6") // Light gray
	ColorTextMuted = lipgloss.Color("#9CA3AF") // Gray
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorInfo)

	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorText)
	DimStyle    = lipgloss.NewStyle().Foreground(ColorTextMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
	URLStyle    = lipgloss.NewStyle().Foreground(ColorInfo).Underline(true)
)
