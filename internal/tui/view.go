package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/notify"
)

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if !m.ready {
		return fmt.Sprintf("%s Initializing...\n", m.spinner.View())
	}

	var b strings.Builder

	title := titleStyle.Render("meshcore-companion")
	b.WriteString(title)
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")

	b.WriteString(m.renderStats())
	b.WriteString("\n")

	eventsBox := boxStyle.Width(m.width - 4).Render(m.viewport.View())
	b.WriteString(eventsBox)
	b.WriteString("\n")

	if m.errorMessage != "" {
		b.WriteString(errorStyle.Render("Error: " + m.errorMessage))
		b.WriteString("\n")
	}

	help := helpStyle.Render("q: quit • c: clear events • ↑/↓: scroll")
	b.WriteString(help)

	return b.String()
}

func (m Model) renderStatusBar() string {
	status := StatusIndicator(m.linkState == link.StateReady || m.linkState == link.StateConnected)

	devInfo := ""
	if m.device.Name != "" {
		devInfo = statLabelStyle.Render(" | ") + statValueStyle.Render(m.device.Name)
	}

	stateInfo := statLabelStyle.Render(" | Link: ") + statValueStyle.Render(m.linkState.String())

	uptime := time.Since(m.startTime).Round(time.Second)
	uptimeInfo := statLabelStyle.Render(" | Uptime: ") + statValueStyle.Render(uptime.String())

	return status + devInfo + stateInfo + uptimeInfo
}

func (m Model) renderStats() string {
	contacts := statLabelStyle.Render("Contacts: ") + statValueStyle.Render(fmt.Sprintf("%d", m.contactCount))
	sessions := statLabelStyle.Render(" | Sessions: ") + statValueStyle.Render(fmt.Sprintf("%d", m.sessionCount))
	pending := statLabelStyle.Render(" | Pending sends: ")
	if m.pendingCount > 0 {
		pending += statValueStyle.Render(fmt.Sprintf("%d", m.pendingCount))
	} else {
		pending += statValueStyle.Render("0")
	}

	return contacts + sessions + pending
}

func (m Model) renderEvents() string {
	if len(m.events) == 0 {
		return statLabelStyle.Render("No events yet. Waiting for messages and pushes...")
	}

	var b strings.Builder
	for _, ev := range m.events {
		b.WriteString(m.renderEvent(ev))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderEvent(ev notify.Event) string {
	timeStr := messageTimeStyle.Render(ev.Time.Format("15:04:05"))
	kind := messageTypeStyle.Render(fmt.Sprintf("[%s]", ev.Kind))

	var content string
	switch ev.Kind {
	case notify.KindUnknownSender:
		content = fmt.Sprintf("unknown sender %x", ev.Prefix)
	case notify.KindSessionUnsynced:
		content = "session " + ev.SessionID + " has unsynced messages"
	default:
		from := messageFromStyle.Render(fmt.Sprintf("%x", ev.Message.SenderKeyPrefix))
		content = from + ": " + messageContentStyle.Render(ev.Message.Text)
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top, timeStr, " ", kind)
	return header + "\n  " + content
}
