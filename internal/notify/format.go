package notify

import (
	"encoding/hex"
	"fmt"
)

// formatText renders ev as a single human-readable line, the shape
// every non-JSON sink (stdout text mode, file text mode, Apprise body)
// shares.
func formatText(ev Event) string {
	switch ev.Kind {
	case KindMessageDelivered:
		return fmt.Sprintf("delivered: %q (contact %s)", ev.Message.Text, ev.Message.ContactID)
	case KindMessageFailed:
		return fmt.Sprintf("failed: %q (contact %s, status %s)", ev.Message.Text, ev.Message.ContactID, ev.Message.Status)
	case KindDirectMessage:
		return fmt.Sprintf("message from %s: %q", ev.Message.ContactID, ev.Message.Text)
	case KindChannelMessage:
		idx := uint8(0)
		if ev.Message.ChannelIndex != nil {
			idx = *ev.Message.ChannelIndex
		}
		return fmt.Sprintf("channel %d: %q", idx, ev.Message.Text)
	case KindUnknownSender:
		return fmt.Sprintf("message from unknown sender %s", hex.EncodeToString(ev.Prefix[:]))
	case KindSessionUnsynced:
		return fmt.Sprintf("session %s has unsynced messages", ev.SessionID)
	default:
		return string(ev.Kind)
	}
}

// formatTitle renders a short summary line for sinks that separate a
// title from a body (Apprise).
func formatTitle(ev Event) string {
	return fmt.Sprintf("meshcore: %s", ev.Kind)
}
