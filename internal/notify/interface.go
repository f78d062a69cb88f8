// Package notify defines the Notifier port: the spec's external
// "user-facing notifications" collaborator (spec.md §1). The
// Supervisor translates component-level callbacks (SendEngine's
// OnDelivered/OnFailed, InboxDrainer's Handlers, SessionManager's
// UnsyncedHandler) into Events and fans them out to every configured
// Notifier.
package notify

import (
	"context"
	"time"

	"github.com/iamruinous/meshcore-companion/internal/model"
)

// Kind classifies an Event so a Notifier implementation can format or
// filter on it without a type switch over payload shape.
type Kind string

const (
	// KindMessageDelivered fires when SendEngine confirms delivery.
	KindMessageDelivered Kind = "message_delivered"
	// KindMessageFailed fires when SendEngine exhausts retries or the
	// link drops mid-send.
	KindMessageFailed Kind = "message_failed"
	// KindDirectMessage fires when InboxDrainer persists an inbound
	// direct message from a known contact.
	KindDirectMessage Kind = "direct_message"
	// KindChannelMessage fires when InboxDrainer persists an inbound
	// channel message.
	KindChannelMessage Kind = "channel_message"
	// KindUnknownSender fires when InboxDrainer cannot resolve a
	// direct message's sender key prefix to a known contact.
	KindUnknownSender Kind = "unknown_sender"
	// KindSessionUnsynced fires when a keep-alive ACK reports
	// unsynced_count > 0 for a remote-node session.
	KindSessionUnsynced Kind = "session_unsynced"
)

// Event is the payload delivered to every Notifier. Only the fields
// relevant to Kind are populated; the rest are the zero value.
type Event struct {
	Kind      Kind
	Time      time.Time
	Message   model.Message // KindMessageDelivered, KindMessageFailed, KindDirectMessage, KindChannelMessage
	Prefix    [6]byte       // KindUnknownSender
	SessionID string        // KindSessionUnsynced
}

// Notifier is the port SPEC_FULL's supplemented output adapters
// implement. Send must not block the caller for longer than an
// implementation-defined timeout; a slow or unreachable sink must
// never stall delivery confirmation or inbox draining.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
	Close() error
	Name() string
	Enabled() bool
}
