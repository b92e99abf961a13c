package monitor

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/vistoria/internal/models"
	vsync "github.com/marcus/vistoria/internal/sync"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))

	// Connectivity badges
	onlineBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(successColor)
	offlineBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(warningColor)

	outcomeStyles = map[vsync.Outcome]lipgloss.Style{
		vsync.OutcomeComplete:       lipgloss.NewStyle().Foreground(successColor),
		vsync.OutcomePending:        lipgloss.NewStyle().Foreground(warningColor),
		vsync.OutcomePartialFailure: lipgloss.NewStyle().Foreground(errorColor),
	}

	fileStyles = map[models.FileStatus]lipgloss.Style{
		models.FilePending:   lipgloss.NewStyle().Foreground(warningColor),
		models.FileUploading: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.FileUploaded:  lipgloss.NewStyle().Foreground(successColor),
		models.FileError:     lipgloss.NewStyle().Foreground(errorColor),
	}
)

// formatOutcome renders a run outcome with color
func formatOutcome(o vsync.Outcome) string {
	if o == "" {
		return subtleStyle.Render("no run yet")
	}
	style, ok := outcomeStyles[o]
	if !ok {
		return string(o)
	}
	return style.Render(string(o))
}

// formatFileStatus renders an upload status with color
func formatFileStatus(s models.FileStatus) string {
	style, ok := fileStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}
