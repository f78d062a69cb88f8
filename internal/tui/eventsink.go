package tui

import (
	"context"

	"github.com/iamruinous/meshcore-companion/internal/notify"
)

// EventSink is a notify.Notifier that forwards events into the TUI's
// event loop instead of an external sink. Grounded on notify.Fake's
// shape, channel-based rather than slice-recording since the TUI needs
// to block on the next event rather than poll a snapshot.
type EventSink struct {
	events chan notify.Event
}

// NewEventSink creates an EventSink with a small internal buffer so a
// burst of pushes doesn't stall the Supervisor's dispatch goroutine.
func NewEventSink() *EventSink {
	return &EventSink{events: make(chan notify.Event, 64)}
}

// Send enqueues ev for the TUI to pick up. If the buffer is full the
// event is dropped rather than blocking the caller; the TUI is a
// best-effort view, not a delivery-guaranteed sink.
func (s *EventSink) Send(_ context.Context, ev notify.Event) error {
	select {
	case s.events <- ev:
	default:
	}
	return nil
}

func (s *EventSink) Close() error  { close(s.events); return nil }
func (s *EventSink) Name() string  { return "tui" }
func (s *EventSink) Enabled() bool { return true }

var _ notify.Notifier = (*EventSink)(nil)
