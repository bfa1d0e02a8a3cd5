package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Accent lipgloss.Color
	User   lipgloss.Color
	Error  lipgloss.Color
	Hint   lipgloss.Color
}

// defaultTheme matches the green accent of the web page.
var defaultTheme = Theme{
	Accent: lipgloss.Color("#2ECC71"), // green
	User:   lipgloss.Color("#5FAFD7"), // light blue
	Error:  lipgloss.Color("#FF005F"), // red
	Hint:   lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}
