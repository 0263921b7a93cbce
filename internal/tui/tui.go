package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the interactive search browser and blocks until the user quits.
func Run(engine SearchPort) error {
	p := tea.NewProgram(New(engine), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
