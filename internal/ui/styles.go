// Package ui holds the lipgloss styles shared by furrow's CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Header styles section titles in command output.
	Header = lipgloss.NewStyle().Bold(true)

	// Key styles the label half of a key/value row.
	Key = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	// Faint de-emphasizes secondary detail (ids, timestamps).
	Faint = lipgloss.NewStyle().Faint(true)

	// Success styles positive outcomes.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	// Warn styles degraded-but-working states.
	Warn = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	// Fail styles failures and offline states.
	Fail = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Status renders a connectivity status string in its conventional color:
// green online, yellow syncing, red offline.
func Status(status string) string {
	switch status {
	case "online":
		return Success.Render(status)
	case "syncing":
		return Warn.Render(status)
	case "offline":
		return Fail.Render(status)
	default:
		return status
	}
}

// KV renders one aligned key/value row.
func KV(key, value string) string {
	return Key.Render(key+":") + " " + value
}
