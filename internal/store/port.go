// Package store defines the persistence port (spec.md §4.8) and its two
// implementations: a SQLite-backed Store for production use and an
// in-memory Store for tests. Callers throughout the module depend on the
// narrow interfaces they need (sendengine.Persister, inbox.Persister,
// session.Persister) rather than this package directly; Store satisfies
// all of them structurally.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iamruinous/meshcore-companion/internal/model"
)

// StoreError wraps a persistence failure. The underlying cause is kept
// opaque to callers per spec.md §7; they branch on ErrNotFound via
// errors.Is, not on StoreError's internals.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// ErrNotFound is returned (wrapped in StoreError) when a lookup by id,
// prefix, or key finds no row.
var ErrNotFound = errors.New("not found")

// MessagePage requests a page of messages ordered newest-first.
type MessagePage struct {
	Limit  int
	Before time.Time // zero means "most recent"
}

// Store is the full persistence port (spec.md §4.8). It composes the
// narrow interfaces each consuming package defines locally
// (sendengine.Persister, inbox.Persister/ContactLookup/SessionLookup,
// session.Persister/ContactPathLookup) plus the device/contact/channel
// management operations not otherwise covered by those ports.
type Store interface {
	// Devices
	SaveDevice(ctx context.Context, d *model.Device) error
	DeviceByID(ctx context.Context, id uuid.UUID) (model.Device, bool, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	ActiveDeviceID(ctx context.Context) (uuid.UUID, bool, error)
	SetActiveDeviceID(ctx context.Context, id uuid.UUID) error

	// Contacts
	SaveContact(ctx context.Context, c *model.Contact) error
	ContactByID(ctx context.Context, id uuid.UUID) (model.Contact, bool, error)
	ContactByPublicKey(ctx context.Context, deviceID uuid.UUID, publicKey [32]byte) (model.Contact, bool, error)
	ContactByKeyPrefix(ctx context.Context, prefix [6]byte) (model.Contact, bool, error)
	ListContacts(ctx context.Context, deviceID uuid.UUID) ([]model.Contact, error)
	DeleteContact(ctx context.Context, id uuid.UUID) error
	// IncrementContactUnread bumps a contact's unread_count and sets
	// last_message_date to messageTimestamp, applied together as each
	// inbound contact message drains (spec.md §4.6).
	IncrementContactUnread(ctx context.Context, contactID uuid.UUID, messageTimestamp uint32) error

	// Messages
	SaveMessage(ctx context.Context, m *model.Message) error
	MessageByID(ctx context.Context, id uuid.UUID) (model.Message, bool, error)
	MessageByAckCode(ctx context.Context, ackCode uint32) (model.Message, bool, error)
	MessagesByContact(ctx context.Context, contactID uuid.UUID, page MessagePage) ([]model.Message, error)
	MessagesByChannel(ctx context.Context, deviceID uuid.UUID, channelIndex uint8, page MessagePage) ([]model.Message, error)
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status model.MessageStatus) error
	UpdateMessageAck(ctx context.Context, id uuid.UUID, ackCode uint32, roundTripMs uint32) error
	IncrementHeardRepeats(ctx context.Context, id uuid.UUID) error

	// Channels
	SaveChannel(ctx context.Context, c *model.Channel) error
	ChannelByIndex(ctx context.Context, deviceID uuid.UUID, index uint8) (model.Channel, bool, error)
	ListChannels(ctx context.Context, deviceID uuid.UUID) ([]model.Channel, error)
	MarkChannelRead(ctx context.Context, deviceID uuid.UUID, index uint8) error
	IncrementChannelUnread(ctx context.Context, deviceID uuid.UUID, index uint8) error

	// Remote-node sessions
	SaveSession(ctx context.Context, s *model.RemoteNodeSession) error
	SessionByID(ctx context.Context, id uuid.UUID) (model.RemoteNodeSession, bool, error)
	SessionByKeyPrefix(ctx context.Context, prefix [6]byte) (model.RemoteNodeSession, bool, error)
	ListSessions(ctx context.Context, deviceID uuid.UUID) ([]model.RemoteNodeSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// Room message dedup (spec.md §4.6)
	RoomMessageSeen(ctx context.Context, key string) (bool, error)
	MarkRoomMessageSeen(ctx context.Context, key string) error

	// OutPathLength is the ContactPathLookup port SessionManager uses to
	// skip keep-alive ticks while flood-routed.
	OutPathLength(ctx context.Context, publicKey [32]byte) (int8, bool)

	Close() error
}
