package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/iamruinous/meshcore-companion/internal/supervisor"
)

// Run starts the dashboard over an already-connected Supervisor, fed
// events through sink (which the caller must have wired into the
// Supervisor's Notifier before calling Run).
func Run(sup *supervisor.Supervisor, sink *EventSink) error {
	m := New(sup, sink)
	program := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: run: %w", err)
	}

	return nil
}
