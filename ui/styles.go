package ui

import "github.com/charmbracelet/lipgloss"

type Theme struct {
	Primary lipgloss.Color
	Warn    lipgloss.Color
	Dim     lipgloss.Color
}

var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Warn:    lipgloss.Color("#ffaf00"),
	Dim:     lipgloss.Color("#6e7681"),
}

type Styles struct {
	State    lipgloss.Style
	Enabled  lipgloss.Style
	Disabled lipgloss.Style
	Status   lipgloss.Style
	Help     lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		State:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Enabled:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Disabled: lipgloss.NewStyle().Foreground(t.Dim).Strikethrough(true),
		Status:   lipgloss.NewStyle().Foreground(t.Warn),
		Help:     lipgloss.NewStyle().Foreground(t.Dim),
	}
}
