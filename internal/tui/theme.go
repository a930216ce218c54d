package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/volley/internal/dispatch"
)

// Theme keeps every colour used by the progress view in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusPartial lipgloss.Style
	StatusFailed  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusPartial: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

func (t Theme) status(s dispatch.Status) lipgloss.Style {
	switch s {
	case dispatch.StatusSuccess:
		return t.StatusOK
	case dispatch.StatusPartialError:
		return t.StatusPartial
	default:
		return t.StatusFailed
	}
}

func (t Theme) outcome(o dispatch.Outcome) lipgloss.Style {
	switch o {
	case dispatch.OutcomeSuccess:
		return t.StatusOK
	case dispatch.OutcomeNotExecuted:
		return t.Dim
	default:
		return t.StatusFailed
	}
}
