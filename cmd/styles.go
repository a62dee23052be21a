package cmd

import "github.com/charmbracelet/lipgloss"

// theme groups the styles used by command output.
type theme struct {
	header   lipgloss.Style
	meta     lipgloss.Style
	divider  lipgloss.Style
	name     lipgloss.Style
	healthy  lipgloss.Style
	failed   lipgloss.Style
	timedOut lipgloss.Style
	hint     lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		meta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("130")),
		name: lipgloss.NewStyle().
			Bold(true).
			Width(24),
		healthy: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		timedOut: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
	}
}
