package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// RunBoardTUI starts the live task board
func RunBoardTUI(store BoardStore) error {
	p := tea.NewProgram(NewBoardModel(store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
