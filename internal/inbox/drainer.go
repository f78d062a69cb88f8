// Package inbox implements the InboxDrainer: on a messages_waiting push
// it repeatedly issues SYNC_NEXT_MESSAGE until the radio replies
// NO_MORE_MESSAGES, persisting and routing each drained message
// (spec.md §4.6).
package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/requestmux"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// ContactLookup resolves a contact by its 6-byte key prefix.
type ContactLookup interface {
	ContactByKeyPrefix(ctx context.Context, prefix [6]byte) (model.Contact, bool, error)
}

// SessionLookup resolves a remote-node session by its 6-byte key prefix,
// used to detect whether a signed_plain message is room-bound
// (spec.md §4.6).
type SessionLookup interface {
	SessionByKeyPrefix(ctx context.Context, prefix [6]byte) (model.RemoteNodeSession, bool, error)
}

// Persister is the subset of the persistence port the drainer needs.
type Persister interface {
	SaveMessage(ctx context.Context, msg *model.Message) error
	// RoomMessageSeen reports whether the given dedup key has already
	// been persisted, so duplicate room deliveries across hops are
	// saved at most once (spec.md §4.6).
	RoomMessageSeen(ctx context.Context, key string) (bool, error)
	MarkRoomMessageSeen(ctx context.Context, key string) error
	// IncrementContactUnread and IncrementChannelUnread bump the
	// unread counters (and, for contacts, last_message_date) that each
	// drained message carries (spec.md §4.6).
	IncrementContactUnread(ctx context.Context, contactID uuid.UUID, messageTimestamp uint32) error
	IncrementChannelUnread(ctx context.Context, deviceID uuid.UUID, index uint8) error
}

// Handlers groups the notification callbacks fired as messages drain.
type Handlers struct {
	UnknownSender  func(prefix [6]byte)
	DirectMessage  func(msg model.Message)
	ChannelMessage func(msg model.Message)
}

// Drainer implements spec.md §4.6. Only one drain runs at a time;
// concurrent messages_waiting pushes increment a counter that is
// absorbed by the running drain rather than starting a second one.
type Drainer struct {
	mux       *requestmux.Mux
	contacts  ContactLookup
	sessions  SessionLookup
	persister Persister
	handlers  Handlers
	selfKeyPrefix [6]byte
	deviceID  uuid.UUID
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	pendingDrains int
}

// New creates a Drainer. selfKeyPrefix is this device's own 6-byte
// public-key prefix, used to set is_from_self on signed_plain room
// messages; deviceID is this device's persistence-layer identity, used
// to attribute channel messages that carry no contact reference.
func New(mux *requestmux.Mux, contacts ContactLookup, sessions SessionLookup, persister Persister, handlers Handlers, selfKeyPrefix [6]byte, deviceID uuid.UUID) *Drainer {
	return &Drainer{
		mux:           mux,
		contacts:      contacts,
		sessions:      sessions,
		persister:     persister,
		handlers:      handlers,
		selfKeyPrefix: selfKeyPrefix,
		deviceID:      deviceID,
		timeout:       5 * time.Second,
		logger:        logging.With(zap.String("component", "inbox")),
	}
}

// HandleMessagesWaiting is the push handler for code 0x03
// (spec.md §4.4, §4.6).
func (d *Drainer) HandleMessagesWaiting() {
	d.mu.Lock()
	d.pendingDrains++
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go d.drainLoop()
}

func (d *Drainer) drainLoop() {
	ctx := context.Background()
	for {
		d.mu.Lock()
		if d.pendingDrains == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		d.pendingDrains = 0
		d.mu.Unlock()

		if err := d.drainOnce(ctx); err != nil {
			d.logger.Debug("drain failed", zap.Error(err))
		}
	}
}

// drainOnce issues SYNC_NEXT_MESSAGE until NO_MORE_MESSAGES.
func (d *Drainer) drainOnce(ctx context.Context) error {
	for {
		frame := meshcore.EncodeSyncNextMessage()
		payload, code, err := d.sendAndClassify(ctx, frame)
		if err != nil {
			return err
		}

		switch code {
		case meshcore.RespNoMoreMessages:
			return nil
		case meshcore.RespContactMsgV3:
			if err := d.handleContactMsg(ctx, payload); err != nil {
				d.logger.Debug("handle contact message failed", zap.Error(err))
			}
		case meshcore.RespChannelMsgV3:
			if err := d.handleChannelMsg(ctx, payload); err != nil {
				d.logger.Debug("handle channel message failed", zap.Error(err))
			}
		case meshcore.RespContactMsgLegacy, meshcore.RespChannelMsgLegacy:
			// Accepted and ignored for forward-compatibility
			// (spec.md §9 Open Question (b)).
		default:
			return fmt.Errorf("inbox: unexpected response code 0x%02x", code)
		}
	}
}

func (d *Drainer) sendAndClassify(ctx context.Context, frame []byte) ([]byte, byte, error) {
	resp, err := d.mux.DoRaw(ctx, frame, link.SendOptions{Timeout: d.timeout})
	if err != nil {
		return nil, 0, err
	}
	return resp[1:], resp[0], nil
}

func (d *Drainer) handleContactMsg(ctx context.Context, payload []byte) error {
	m, err := meshcore.DecodeContactMsgV3(payload)
	if err != nil {
		return err
	}

	contact, ok, err := d.contacts.ContactByKeyPrefix(ctx, m.SenderPrefix)
	if err != nil {
		return err
	}
	if !ok {
		if d.handlers.UnknownSender != nil {
			d.handlers.UnknownSender(m.SenderPrefix)
		}
		return nil
	}

	if m.TextType == meshcore.TextTypeSignedPlain {
		return d.handleSignedPlain(ctx, contact, m)
	}

	msg := model.MessageFromContactMsgV3(contact.DeviceID, contact.ID, m, time.Now())
	if err := d.persister.SaveMessage(ctx, &msg); err != nil {
		return err
	}
	if err := d.persister.IncrementContactUnread(ctx, contact.ID, m.Timestamp); err != nil {
		d.logger.Warn("failed to persist contact unread bump", zap.Error(err))
	}
	if d.handlers.DirectMessage != nil {
		d.handlers.DirectMessage(msg)
	}
	return nil
}

// handleSignedPlain implements spec.md §4.6's room dedup/attribution
// path: when the sender is a known room session and the text carries a
// signed_plain envelope, extract the embedded author prefix, dedup on
// (ts, author_prefix, text), and attribute authorship.
func (d *Drainer) handleSignedPlain(ctx context.Context, contact model.Contact, m meshcore.ContactMsgV3) error {
	session, isRoom, err := d.sessions.SessionByKeyPrefix(ctx, m.SenderPrefix)
	if err != nil {
		return err
	}
	if !isRoom || session.Role != model.SessionRoleRoom {
		// Not room-bound traffic; treat as a normal direct message.
		msg := model.MessageFromContactMsgV3(contact.DeviceID, contact.ID, m, time.Now())
		if err := d.persister.SaveMessage(ctx, &msg); err != nil {
			return err
		}
		if err := d.persister.IncrementContactUnread(ctx, contact.ID, m.Timestamp); err != nil {
			d.logger.Warn("failed to persist contact unread bump", zap.Error(err))
		}
		if d.handlers.DirectMessage != nil {
			d.handlers.DirectMessage(msg)
		}
		return nil
	}

	authorPrefix, body, err := meshcore.SignedPlainAuthor(m.Text)
	if err != nil {
		return err
	}

	dedupKey := fmt.Sprintf("%d:%x:%s", m.Timestamp, authorPrefix, body)
	seen, err := d.persister.RoomMessageSeen(ctx, dedupKey)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	msg := model.MessageFromContactMsgV3(contact.DeviceID, contact.ID, m, time.Now())
	msg.Text = body
	msg.IsFromSelf = authorPrefix == d.selfAuthorPrefix()

	authorContact, found, lookupErr := d.contacts.ContactByKeyPrefix(ctx, authorKeyPrefix(authorPrefix))
	if lookupErr == nil && found {
		msg.Text = fmt.Sprintf("%s: %s", authorContact.Name, body)
	}

	if err := d.persister.SaveMessage(ctx, &msg); err != nil {
		return err
	}
	if err := d.persister.MarkRoomMessageSeen(ctx, dedupKey); err != nil {
		return err
	}
	if d.handlers.DirectMessage != nil {
		d.handlers.DirectMessage(msg)
	}
	return nil
}

func (d *Drainer) selfAuthorPrefix() [4]byte {
	var p [4]byte
	copy(p[:], d.selfKeyPrefix[:4])
	return p
}

func authorKeyPrefix(authorPrefix [4]byte) [6]byte {
	var p [6]byte
	copy(p[:], authorPrefix[:])
	return p
}

func (d *Drainer) handleChannelMsg(ctx context.Context, payload []byte) error {
	m, err := meshcore.DecodeChannelMsgV3(payload)
	if err != nil {
		return err
	}
	msg := model.MessageFromChannelMsgV3(d.deviceID, m, time.Now())
	if err := d.persister.SaveMessage(ctx, &msg); err != nil {
		return err
	}
	if err := d.persister.IncrementChannelUnread(ctx, d.deviceID, m.ChannelIndex); err != nil {
		d.logger.Warn("failed to persist channel unread bump", zap.Error(err))
	}
	if d.handlers.ChannelMessage != nil {
		d.handlers.ChannelMessage(msg)
	}
	return nil
}
