// Package ui provides consistent styling and components for the Waypolicy CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	ColorText   = lipgloss.Color("252") // Light gray
	ColorSubtle = lipgloss.Color("241") // Medium gray
	ColorMuted  = lipgloss.Color("238") // Dark gray

	ColorEnabled  = ColorSuccess
	ColorDisabled = ColorSubtle
	ColorActive   = ColorPrimary
)

var (
	TextStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	SubheaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorMuted).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSubtle).
			Padding(0, 1)

	ListItemStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	EnabledIndicator = lipgloss.NewStyle().
				Foreground(ColorEnabled).
				Render("●")

	DisabledIndicator = lipgloss.NewStyle().
				Foreground(ColorDisabled).
				Render("○")

	ControlKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	ControlDescStyle = lipgloss.NewStyle().
				Foreground(ColorText)
)

// Shortcut context states, keyed by the names the daemon reports.
var shortcutStateStyles = map[string]lipgloss.Style{
	"granted":  SuccessStyle,
	"pending":  WarningStyle,
	"denied":   ErrorStyle,
	"released": SubtleStyle,
}

var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconPrimary = "★"
	IconVirtual = "⧉"
	IconArrow   = "→"
)

func FormatControl(key, desc string) string {
	return ControlKeyStyle.Render(key) + " - " + ControlDescStyle.Render(desc)
}

// FormatStatus prefixes status with a filled or empty indicator.
func FormatStatus(enabled bool, status string) string {
	indicator := DisabledIndicator
	if enabled {
		indicator = EnabledIndicator
	}
	return indicator + " " + status
}

func FormatListItem(item string, active bool) string {
	style := ListItemStyle
	if active {
		style = style.Foreground(ColorActive)
	}
	return "  • " + style.Render(item)
}

// FormatShortcutState colors a shortcut context state.
func FormatShortcutState(state string) string {
	style, ok := shortcutStateStyles[state]
	if !ok {
		style = TextStyle
	}
	return style.Render(state)
}

func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess + " " + msg)
}

func FormatError(msg string) string {
	return ErrorStyle.Render(IconError + " " + msg)
}

func CreateSeparator(width int, char string) string {
	if width <= 0 {
		return ""
	}
	return SubtleStyle.Render(strings.Repeat(char, width))
}
