package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/requestmux"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

type fakeContacts struct {
	byPrefix map[[6]byte]model.Contact
}

func (f *fakeContacts) ContactByKeyPrefix(ctx context.Context, prefix [6]byte) (model.Contact, bool, error) {
	c, ok := f.byPrefix[prefix]
	return c, ok, nil
}

type fakeSessions struct {
	byPrefix map[[6]byte]model.RemoteNodeSession
}

func (f *fakeSessions) SessionByKeyPrefix(ctx context.Context, prefix [6]byte) (model.RemoteNodeSession, bool, error) {
	s, ok := f.byPrefix[prefix]
	return s, ok, nil
}

type fakePersister struct {
	mu                  sync.Mutex
	messages            []model.Message
	seen                map[string]bool
	contactUnreadBumps  []uuid.UUID
	channelUnreadBumps  []uint8
}

func newFakePersister() *fakePersister {
	return &fakePersister{seen: make(map[string]bool)}
}

func (p *fakePersister) SaveMessage(ctx context.Context, msg *model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, *msg)
	return nil
}

func (p *fakePersister) RoomMessageSeen(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[key], nil
}

func (p *fakePersister) MarkRoomMessageSeen(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[key] = true
	return nil
}

func (p *fakePersister) IncrementContactUnread(ctx context.Context, contactID uuid.UUID, messageTimestamp uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contactUnreadBumps = append(p.contactUnreadBumps, contactID)
	return nil
}

func (p *fakePersister) IncrementChannelUnread(ctx context.Context, deviceID uuid.UUID, index uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channelUnreadBumps = append(p.channelUnreadBumps, index)
	return nil
}

func contactMsgFrame(prefix [6]byte, text string, textType meshcore.TextType) []byte {
	out := []byte{meshcore.RespContactMsgV3, 0, 0, 0}
	out = append(out, prefix[:]...)
	out = append(out, 0, byte(textType), 0, 0, 0, 0)
	out = append(out, []byte(text)...)
	return out
}

func TestDrainerDirectMessage(t *testing.T) {
	prefix := [6]byte{1, 2, 3, 4, 5, 6}
	contact := model.Contact{ID: uuid.New(), DeviceID: uuid.New(), PublicKey: [32]byte{1, 2, 3, 4, 5, 6}, Name: "Bob"}

	fl := link.NewFakeLink()
	calls := 0
	fl.Responder = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return contactMsgFrame(prefix, "hi there", meshcore.TextTypePlain), nil
		}
		return []byte{meshcore.RespNoMoreMessages}, nil
	}
	mux := requestmux.New(fl)
	contacts := &fakeContacts{byPrefix: map[[6]byte]model.Contact{prefix: contact}}
	persister := newFakePersister()

	var gotMsg model.Message
	done := make(chan struct{})
	d := New(mux, contacts, &fakeSessions{byPrefix: map[[6]byte]model.RemoteNodeSession{}}, persister, Handlers{
		DirectMessage: func(m model.Message) { gotMsg = m; close(done) },
	}, [6]byte{}, uuid.New())

	d.HandleMessagesWaiting()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for direct message")
	}

	if gotMsg.Text != "hi there" {
		t.Errorf("expected text %q, got %q", "hi there", gotMsg.Text)
	}
	if gotMsg.ContactID != contact.ID {
		t.Errorf("expected contact id %v, got %v", contact.ID, gotMsg.ContactID)
	}

	if len(persister.contactUnreadBumps) != 1 || persister.contactUnreadBumps[0] != contact.ID {
		t.Errorf("expected one unread bump for contact %v, got %v", contact.ID, persister.contactUnreadBumps)
	}
}

func TestDrainerUnknownSender(t *testing.T) {
	prefix := [6]byte{9, 9, 9, 9, 9, 9}
	fl := link.NewFakeLink()
	calls := 0
	fl.Responder = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return contactMsgFrame(prefix, "mystery", meshcore.TextTypePlain), nil
		}
		return []byte{meshcore.RespNoMoreMessages}, nil
	}
	mux := requestmux.New(fl)
	persister := newFakePersister()

	var gotPrefix [6]byte
	done := make(chan struct{})
	d := New(mux, &fakeContacts{byPrefix: map[[6]byte]model.Contact{}}, &fakeSessions{byPrefix: map[[6]byte]model.RemoteNodeSession{}}, persister, Handlers{
		UnknownSender: func(p [6]byte) { gotPrefix = p; close(done) },
	}, [6]byte{}, uuid.New())

	d.HandleMessagesWaiting()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unknown sender notification")
	}
	if gotPrefix != prefix {
		t.Errorf("expected prefix %v, got %v", prefix, gotPrefix)
	}
}

func TestDrainerLegacyFrameIgnored(t *testing.T) {
	fl := link.NewFakeLink()
	calls := 0
	fl.Responder = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte{meshcore.RespContactMsgLegacy, 1, 2, 3}, nil
		}
		return []byte{meshcore.RespNoMoreMessages}, nil
	}
	mux := requestmux.New(fl)
	persister := newFakePersister()
	d := New(mux, &fakeContacts{byPrefix: map[[6]byte]model.Contact{}}, &fakeSessions{}, persister, Handlers{}, [6]byte{}, uuid.New())

	done := make(chan struct{})
	go func() {
		_ = d.drainOnce(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drainOnce did not return")
	}
	if len(persister.messages) != 0 {
		t.Errorf("expected no persisted messages for legacy frame, got %d", len(persister.messages))
	}
}

func TestDrainerChannelMessage(t *testing.T) {
	fl := link.NewFakeLink()
	calls := 0
	fl.Responder = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			out := []byte{meshcore.RespChannelMsgV3, 0, 0, 0, 2, 0, byte(meshcore.TextTypePlain), 0, 0, 0, 0}
			return append(out, []byte("bcast")...), nil
		}
		return []byte{meshcore.RespNoMoreMessages}, nil
	}
	mux := requestmux.New(fl)
	persister := newFakePersister()

	var gotMsg model.Message
	done := make(chan struct{})
	d := New(mux, &fakeContacts{byPrefix: map[[6]byte]model.Contact{}}, &fakeSessions{}, persister, Handlers{
		ChannelMessage: func(m model.Message) { gotMsg = m; close(done) },
	}, [6]byte{}, uuid.New())

	d.HandleMessagesWaiting()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel message")
	}
	if gotMsg.Text != "bcast" || gotMsg.ChannelIndex == nil || *gotMsg.ChannelIndex != 2 {
		t.Errorf("unexpected channel message: %+v", gotMsg)
	}

	if len(persister.channelUnreadBumps) != 1 || persister.channelUnreadBumps[0] != 2 {
		t.Errorf("expected one unread bump for channel 2, got %v", persister.channelUnreadBumps)
	}
}
