// Package styles contains Lip Gloss style definitions.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/zjrosen/mandelgather/internal/orchestration/events"
)

var (
	// Text hierarchy
	TextPrimaryColor   = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#CCCCCC"}
	TextSecondaryColor = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BBBBBB"}
	TextMutedColor     = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#696969"}

	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	// Status
	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	StatusActiveColor  = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#54A0FF"}

	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(TextPrimaryColor)
	LabelStyle   = lipgloss.NewStyle().Foreground(TextSecondaryColor)
	MutedStyle   = lipgloss.NewStyle().Foreground(TextMutedColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(StatusErrorColor)
	SuccessStyle = lipgloss.NewStyle().Foreground(StatusSuccessColor)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDefaultColor).
			Padding(0, 1)
)

// WorkerStatusColor maps a rank status to its color.
func WorkerStatusColor(s events.WorkerStatus) lipgloss.TerminalColor {
	switch s {
	case events.WorkerDone:
		return StatusSuccessColor
	case events.WorkerFailed:
		return StatusErrorColor
	case events.WorkerComputing:
		return StatusActiveColor
	case events.WorkerReady:
		return StatusWarningColor
	default:
		return TextMutedColor
	}
}

// RunStatusColor maps a run status to its color.
func RunStatusColor(s events.RunStatus) lipgloss.TerminalColor {
	switch s {
	case events.RunComplete:
		return StatusSuccessColor
	case events.RunFailed:
		return StatusErrorColor
	case events.RunComputing, events.RunTransferring:
		return StatusActiveColor
	default:
		return TextMutedColor
	}
}

// TruncateString shortens s to maxWidth cells, ending in "..." when cut.
func TruncateString(s string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return truncate.String("...", uint(maxWidth))
	}
	return truncate.StringWithTail(s, uint(maxWidth), "...")
}
