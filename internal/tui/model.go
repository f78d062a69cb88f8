// Package tui provides the terminal dashboard for an in-progress
// connection: device identity, link state, pending sends, and a
// scrolling feed of notify.Events, rendered over whichever Supervisor
// the CLI's run command hands it (run --interactive). Grounded directly on the
// teacher's internal/tui (bubbletea/bubbles/lipgloss), re-pointed from
// a single packet feed at the Supervisor's broader state.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/notify"
	"github.com/iamruinous/meshcore-companion/internal/supervisor"
)

// MaxEvents is the maximum number of feed lines kept for display.
const MaxEvents = 100

// Model represents the TUI state.
type Model struct {
	sup  *supervisor.Supervisor
	sink *EventSink

	width    int
	height   int
	ready    bool
	quitting bool

	spinner  spinner.Model
	viewport viewport.Model

	events       []notify.Event
	device       model.Device
	linkState    link.State
	pendingCount int
	contactCount int
	sessionCount int
	startTime    time.Time
	errorMessage string
}

// New creates a TUI model over sup, consuming events pushed to sink.
// The caller is responsible for wiring sink into the Notifier (directly
// or via notify.Fanout) passed to supervisor.New so this view actually
// receives events.
func New(sup *supervisor.Supervisor, sink *EventSink) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		sup:       sup,
		sink:      sink,
		spinner:   s,
		events:    make([]notify.Event, 0),
		startTime: time.Now(),
	}
}

//nolint:gocritic // hugeParam: Model must be value receiver to implement tea.Model interface
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
		waitForEvent(m.sink),
	)
}

// tickMsg is sent periodically to refresh stats pulled from Supervisor.
type tickMsg time.Time

// eventMsg wraps a notify.Event delivered through the EventSink.
type eventMsg notify.Event

// errMsg is sent when an error occurs.
type errMsg error

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent blocks on the sink's channel and reports the next event.
func waitForEvent(sink *EventSink) tea.Cmd {
	return func() tea.Msg {
		if sink == nil {
			return nil
		}
		ev, ok := <-sink.events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m *Model) refreshStats() {
	if m.sup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m.device = m.sup.Device()
	m.linkState = m.sup.LinkState()
	m.pendingCount = m.sup.Engine().PendingCount()

	if contacts, err := m.sup.Store().ListContacts(ctx, m.device.ID); err == nil {
		m.contactCount = len(contacts)
	}
	if sessions, err := m.sup.Store().ListSessions(ctx, m.device.ID); err == nil {
		m.sessionCount = len(sessions)
	}
}
