package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/iamruinous/meshcore-companion/internal/model"
)

// MemoryStore is an in-memory Store used by tests and by the "memory"
// store backend; it satisfies the same interfaces the SQLite Store does.
type MemoryStore struct {
	mu sync.Mutex

	devices      map[uuid.UUID]model.Device
	activeDevice uuid.UUID
	hasActive    bool

	contacts      map[uuid.UUID]model.Contact
	contactByPref map[[6]byte]uuid.UUID

	messages    map[uuid.UUID]model.Message
	msgByAck    map[uint32]uuid.UUID

	channels map[channelKey]model.Channel

	sessions      map[uuid.UUID]model.RemoteNodeSession
	sessionByPref map[[6]byte]uuid.UUID

	roomSeen map[string]bool
}

type channelKey struct {
	deviceID uuid.UUID
	index    uint8
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:       make(map[uuid.UUID]model.Device),
		contacts:      make(map[uuid.UUID]model.Contact),
		contactByPref: make(map[[6]byte]uuid.UUID),
		messages:      make(map[uuid.UUID]model.Message),
		msgByAck:      make(map[uint32]uuid.UUID),
		channels:      make(map[channelKey]model.Channel),
		sessions:      make(map[uuid.UUID]model.RemoteNodeSession),
		sessionByPref: make(map[[6]byte]uuid.UUID),
		roomSeen:      make(map[string]bool),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) SaveDevice(ctx context.Context, d *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	s.devices[d.ID] = *d
	return nil
}

func (s *MemoryStore) DeviceByID(ctx context.Context, id uuid.UUID) (model.Device, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d, ok, nil
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *MemoryStore) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
	if s.hasActive && s.activeDevice == id {
		s.hasActive = false
	}
	return nil
}

func (s *MemoryStore) ActiveDeviceID(ctx context.Context) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeDevice, s.hasActive, nil
}

func (s *MemoryStore) SetActiveDeviceID(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeDevice = id
	s.hasActive = true
	return nil
}

func (s *MemoryStore) SaveContact(ctx context.Context, c *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.contacts[c.ID] = *c
	s.contactByPref[c.KeyPrefix()] = c.ID
	return nil
}

func (s *MemoryStore) ContactByID(ctx context.Context, id uuid.UUID) (model.Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	return c, ok, nil
}

func (s *MemoryStore) ContactByPublicKey(ctx context.Context, deviceID uuid.UUID, publicKey [32]byte) (model.Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.DeviceID == deviceID && c.PublicKey == publicKey {
			return c, true, nil
		}
	}
	return model.Contact{}, false, nil
}

func (s *MemoryStore) ContactByKeyPrefix(ctx context.Context, prefix [6]byte) (model.Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.contactByPref[prefix]
	if !ok {
		return model.Contact{}, false, nil
	}
	c := s.contacts[id]
	return c, true, nil
}

func (s *MemoryStore) ListContacts(ctx context.Context, deviceID uuid.UUID) ([]model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Contact
	for _, c := range s.contacts {
		if c.DeviceID == deviceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteContact(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contacts[id]; ok {
		delete(s.contactByPref, c.KeyPrefix())
	}
	delete(s.contacts, id)
	return nil
}

func (s *MemoryStore) IncrementContactUnread(ctx context.Context, contactID uuid.UUID, messageTimestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return &StoreError{Op: "IncrementContactUnread", Err: ErrNotFound}
	}
	c.UnreadCount++
	c.LastMessageDate = messageTimestamp
	s.contacts[contactID] = c
	return nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.messages[m.ID] = *m
	if m.AckCode != nil {
		s.msgByAck[*m.AckCode] = m.ID
	}
	return nil
}

func (s *MemoryStore) MessageByID(ctx context.Context, id uuid.UUID) (model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok, nil
}

func (s *MemoryStore) MessageByAckCode(ctx context.Context, ackCode uint32) (model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.msgByAck[ackCode]
	if !ok {
		return model.Message{}, false, nil
	}
	return s.messages[id], true, nil
}

func (s *MemoryStore) MessagesByContact(ctx context.Context, contactID uuid.UUID, page MessagePage) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ContactID == contactID {
			if !page.Before.IsZero() && !m.ReceivedAt.Before(page.Before) {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return limitPage(out, page.Limit), nil
}

func (s *MemoryStore) MessagesByChannel(ctx context.Context, deviceID uuid.UUID, channelIndex uint8, page MessagePage) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.DeviceID == deviceID && m.ChannelIndex != nil && *m.ChannelIndex == channelIndex {
			if !page.Before.IsZero() && !m.ReceivedAt.Before(page.Before) {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return limitPage(out, page.Limit), nil
}

func limitPage(msgs []model.Message, limit int) []model.Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[:limit]
	}
	return msgs
}

func (s *MemoryStore) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status model.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return &StoreError{Op: "UpdateMessageStatus", Err: ErrNotFound}
	}
	m.Status = status
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) UpdateMessageAck(ctx context.Context, id uuid.UUID, ackCode uint32, roundTripMs uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return &StoreError{Op: "UpdateMessageAck", Err: ErrNotFound}
	}
	m.AckCode = &ackCode
	m.RoundTripMs = &roundTripMs
	m.Status = model.StatusDelivered
	s.messages[id] = m
	s.msgByAck[ackCode] = id
	return nil
}

func (s *MemoryStore) IncrementHeardRepeats(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return &StoreError{Op: "IncrementHeardRepeats", Err: ErrNotFound}
	}
	m.HeardRepeats++
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) SaveChannel(ctx context.Context, c *model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelKey{c.DeviceID, c.Index}] = *c
	return nil
}

func (s *MemoryStore) ChannelByIndex(ctx context.Context, deviceID uuid.UUID, index uint8) (model.Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[channelKey{deviceID, index}]
	return c, ok, nil
}

func (s *MemoryStore) ListChannels(ctx context.Context, deviceID uuid.UUID) ([]model.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Channel
	for k, c := range s.channels {
		if k.deviceID == deviceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) MarkChannelRead(ctx context.Context, deviceID uuid.UUID, index uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelKey{deviceID, index}
	c, ok := s.channels[key]
	if !ok {
		return &StoreError{Op: "MarkChannelRead", Err: ErrNotFound}
	}
	c.UnreadCount = 0
	s.channels[key] = c
	return nil
}

func (s *MemoryStore) IncrementChannelUnread(ctx context.Context, deviceID uuid.UUID, index uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelKey{deviceID, index}
	c := s.channels[key]
	c.DeviceID = deviceID
	c.Index = index
	c.UnreadCount++
	s.channels[key] = c
	return nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, sess *model.RemoteNodeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	s.sessions[sess.ID] = *sess
	s.sessionByPref[sess.KeyPrefix()] = sess.ID
	return nil
}

func (s *MemoryStore) SessionByID(ctx context.Context, id uuid.UUID) (model.RemoteNodeSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *MemoryStore) SessionByKeyPrefix(ctx context.Context, prefix [6]byte) (model.RemoteNodeSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessionByPref[prefix]
	if !ok {
		return model.RemoteNodeSession{}, false, nil
	}
	return s.sessions[id], true, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, deviceID uuid.UUID) ([]model.RemoteNodeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RemoteNodeSession
	for _, sess := range s.sessions {
		if sess.DeviceID == deviceID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		delete(s.sessionByPref, sess.KeyPrefix())
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) RoomMessageSeen(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomSeen[key], nil
}

func (s *MemoryStore) MarkRoomMessageSeen(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomSeen[key] = true
	return nil
}

func (s *MemoryStore) OutPathLength(ctx context.Context, publicKey [32]byte) (int8, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.PublicKey == publicKey {
			return c.OutPathLength, true
		}
	}
	return 0, false
}

func (s *MemoryStore) Close() error { return nil }
