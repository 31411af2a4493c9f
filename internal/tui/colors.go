package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/balkashynov/tracker/internal/models"
)

// Color constants for the board theme
const (
	// Base Colors
	ColorBorder = "#3A3F55" // Grey-blue

	// Text Colors
	ColorPrimaryText   = "#E6EAF2" // Titles, selected values
	ColorSecondaryText = "#B1B8C7" // Subtle purple-tinted grey
	ColorDisabledText  = "#6D7383" // Muted text
	ColorHelpText      = "240"     // Dark grey for help text

	// Accent Colors (Purple theme)
	ColorAccentMain   = "#7C3AED" // Logo, active borders, progress start
	ColorAccentBright = "#A78BFA" // Highlights, progress end

	// State Colors
	ColorError   = "#EF4444" // Blocked, failed, overdue
	ColorSuccess = "#22C55E" // Done, completed
	ColorWarning = "#F59E0B" // Pending acknowledgments, due soon
)

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func taskStatusColor(s models.TaskStatus) string {
	switch s {
	case models.TaskDone:
		return ColorSuccess
	case models.TaskInProgress:
		return ColorAccentBright
	default:
		return ColorSecondaryText
	}
}

func phaseStatusColor(s models.PhaseStatus) string {
	switch s {
	case models.PhaseCompleted:
		return ColorSuccess
	case models.PhaseInProgress:
		return ColorAccentBright
	case models.PhaseBlocked:
		return ColorError
	default:
		return ColorDisabledText
	}
}

func assignmentColor(s models.AssignmentStatus) string {
	switch s {
	case models.AssignmentAcknowledged, models.AssignmentCompleted:
		return ColorSuccess
	case models.AssignmentPending:
		return ColorWarning
	case models.AssignmentFailed:
		return ColorError
	default:
		return ColorSecondaryText
	}
}

func priorityColor(p models.Priority) string {
	switch p {
	case models.PriorityCritical, models.PriorityHigh:
		return ColorError
	case models.PriorityMedium:
		return ColorWarning
	default:
		return ColorSecondaryText
	}
}
