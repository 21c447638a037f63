// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the receiver monitor
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// NewModel creates a new monitor model.
func NewModel() Model {
	return Model{}
}

// Run starts the monitor TUI.
func Run() (*tea.Program, error) {
	p := tea.NewProgram(NewModel(), tea.WithAltScreen())
	return p, nil
}
