package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	SurfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray
	BlueColor      = lipgloss.Color("#60A5FA") // Blue

	// Status colors
	StatusQueued     = MutedColor
	StatusAwaiting   = WarningColor
	StatusProcessing = BlueColor
	StatusApproved   = SecondaryColor
	StatusRejected   = PrimaryColor
	StatusFailed     = ErrorColor

	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor)
	Success = lipgloss.NewStyle().Foreground(SecondaryColor)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor).
		MarginBottom(1)

	ActionBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(1, 2)

	ActionBoxFocused = ActionBox.
				BorderForeground(WarningColor)

	ActionTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor)

	Label = lipgloss.NewStyle().
		Foreground(MutedColor).
		Width(12)

	Amount = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextColor)

	QueueRow = lipgloss.NewStyle().
			PaddingLeft(2)

	QueueRowSelected = lipgloss.NewStyle().
				PaddingLeft(1).
				BorderStyle(lipgloss.ThickBorder()).
				BorderLeft(true).
				BorderForeground(PrimaryColor)

	StatusBadge = lipgloss.NewStyle().
			Padding(0, 1).
			MarginRight(1)

	StatusBar = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(SurfaceColor).
			Padding(0, 1).
			MarginTop(1)
)

// StatusColor returns the color for an action status string.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "awaiting_user":
		return StatusAwaiting
	case "processing":
		return StatusProcessing
	case "approved":
		return StatusApproved
	case "rejected":
		return StatusRejected
	case "failed":
		return StatusFailed
	default:
		return StatusQueued
	}
}

// Badge renders a status badge.
func Badge(status string) string {
	return StatusBadge.
		Foreground(SurfaceColor).
		Background(StatusColor(status)).
		Render(status)
}
