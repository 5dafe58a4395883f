package ctag

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Terminal palette. Outcomes are marked with symbols, colour only highlights.
var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	removeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
)

func formatAdded(tags TagSet) string {
	return addStyle.Render(prefixed("+", tags))
}

func formatRemoved(tags TagSet) string {
	return removeStyle.Render(prefixed("-", tags))
}

func prefixed(prefix string, tags TagSet) string {
	sorted := tags.Sorted()
	for i, tag := range sorted {
		sorted[i] = prefix + tag
	}
	return strings.Join(sorted, " ")
}
