package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iamruinous/meshcore-companion/internal/model"
)

// newStores returns one of each Store implementation so the shared test
// bodies below exercise identical behavior on both backends.
func newStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlitePath := filepath.Join(t.TempDir(), "companion.db")
	sqliteStore, err := OpenSQLite(sqlitePath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStoreDeviceCRUDAndActiveSelection(t *testing.T) {
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := model.Device{Transport: model.TransportBLE, Address: "AA:BB:CC:DD:EE:FF", Name: "Node1", LastConnectedAt: time.Now()}
			if err := st.SaveDevice(ctx, &d); err != nil {
				t.Fatalf("SaveDevice: %v", err)
			}
			if d.ID == uuid.Nil {
				t.Fatal("expected device ID to be assigned")
			}

			got, ok, err := st.DeviceByID(ctx, d.ID)
			if err != nil || !ok {
				t.Fatalf("DeviceByID: ok=%v err=%v", ok, err)
			}
			if got.Name != "Node1" {
				t.Errorf("expected name Node1, got %q", got.Name)
			}

			if err := st.SetActiveDeviceID(ctx, d.ID); err != nil {
				t.Fatalf("SetActiveDeviceID: %v", err)
			}
			active, ok, err := st.ActiveDeviceID(ctx)
			if err != nil || !ok || active != d.ID {
				t.Errorf("expected active device %v, got %v (ok=%v err=%v)", d.ID, active, ok, err)
			}

			if err := st.DeleteDevice(ctx, d.ID); err != nil {
				t.Fatalf("DeleteDevice: %v", err)
			}
			if _, ok, _ := st.DeviceByID(ctx, d.ID); ok {
				t.Error("expected device deleted")
			}
		})
	}
}

func TestStoreContactCRUDAndPrefixLookup(t *testing.T) {
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deviceID := uuid.New()
			var pubkey [32]byte
			for i := range pubkey {
				pubkey[i] = byte(i + 1)
			}
			c := model.Contact{DeviceID: deviceID, PublicKey: pubkey, Name: "Alice", Type: model.ContactTypeChat, OutPathLength: 2}
			if err := st.SaveContact(ctx, &c); err != nil {
				t.Fatalf("SaveContact: %v", err)
			}

			byID, ok, err := st.ContactByID(ctx, c.ID)
			if err != nil || !ok || byID.Name != "Alice" {
				t.Fatalf("ContactByID: %+v ok=%v err=%v", byID, ok, err)
			}

			byPrefix, ok, err := st.ContactByKeyPrefix(ctx, c.KeyPrefix())
			if err != nil || !ok || byPrefix.ID != c.ID {
				t.Fatalf("ContactByKeyPrefix: ok=%v err=%v", ok, err)
			}

			byKey, ok, err := st.ContactByPublicKey(ctx, deviceID, pubkey)
			if err != nil || !ok || byKey.ID != c.ID {
				t.Fatalf("ContactByPublicKey: ok=%v err=%v", ok, err)
			}

			list, err := st.ListContacts(ctx, deviceID)
			if err != nil || len(list) != 1 {
				t.Fatalf("ListContacts: len=%d err=%v", len(list), err)
			}

			if pathLen, ok := st.OutPathLength(ctx, pubkey); !ok || pathLen != 2 {
				t.Errorf("OutPathLength: got %d ok=%v, want 2/true", pathLen, ok)
			}

			if err := st.DeleteContact(ctx, c.ID); err != nil {
				t.Fatalf("DeleteContact: %v", err)
			}
			if _, ok, _ := st.ContactByID(ctx, c.ID); ok {
				t.Error("expected contact deleted")
			}
		})
	}
}

func TestStoreMessageLifecycle(t *testing.T) {
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deviceID := uuid.New()
			contactID := uuid.New()
			m := model.Message{
				DeviceID:   deviceID,
				ContactID:  contactID,
				Text:       "hello",
				Status:     model.StatusPending,
				ReceivedAt: time.Now(),
			}
			if err := st.SaveMessage(ctx, &m); err != nil {
				t.Fatalf("SaveMessage: %v", err)
			}

			if err := st.UpdateMessageAck(ctx, m.ID, 42, 1500); err != nil {
				t.Fatalf("UpdateMessageAck: %v", err)
			}
			byAck, ok, err := st.MessageByAckCode(ctx, 42)
			if err != nil || !ok || byAck.Status != model.StatusDelivered {
				t.Fatalf("MessageByAckCode: %+v ok=%v err=%v", byAck, ok, err)
			}

			if err := st.IncrementHeardRepeats(ctx, m.ID); err != nil {
				t.Fatalf("IncrementHeardRepeats: %v", err)
			}
			got, ok, err := st.MessageByID(ctx, m.ID)
			if err != nil || !ok || got.HeardRepeats != 1 {
				t.Fatalf("expected heard_repeats=1, got %+v ok=%v err=%v", got, ok, err)
			}

			list, err := st.MessagesByContact(ctx, contactID, MessagePage{Limit: 10})
			if err != nil || len(list) != 1 {
				t.Fatalf("MessagesByContact: len=%d err=%v", len(list), err)
			}

			if err := st.UpdateMessageStatus(ctx, m.ID, model.StatusFailed); err != nil {
				t.Fatalf("UpdateMessageStatus: %v", err)
			}
			got, _, _ = st.MessageByID(ctx, m.ID)
			if got.Status != model.StatusFailed {
				t.Errorf("expected status failed, got %v", got.Status)
			}
		})
	}
}

func TestStoreChannelUnreadManagement(t *testing.T) {
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deviceID := uuid.New()

			if err := st.IncrementChannelUnread(ctx, deviceID, 3); err != nil {
				t.Fatalf("IncrementChannelUnread: %v", err)
			}
			if err := st.IncrementChannelUnread(ctx, deviceID, 3); err != nil {
				t.Fatalf("IncrementChannelUnread: %v", err)
			}
			c, ok, err := st.ChannelByIndex(ctx, deviceID, 3)
			if err != nil || !ok || c.UnreadCount != 2 {
				t.Fatalf("expected unread_count=2, got %+v ok=%v err=%v", c, ok, err)
			}

			if err := st.MarkChannelRead(ctx, deviceID, 3); err != nil {
				t.Fatalf("MarkChannelRead: %v", err)
			}
			c, _, _ = st.ChannelByIndex(ctx, deviceID, 3)
			if c.UnreadCount != 0 {
				t.Errorf("expected unread_count=0 after mark read, got %d", c.UnreadCount)
			}

			list, err := st.ListChannels(ctx, deviceID)
			if err != nil || len(list) != 1 {
				t.Fatalf("ListChannels: len=%d err=%v", len(list), err)
			}
		})
	}
}

func TestStoreSessionCRUDAndPrefixLookup(t *testing.T) {
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deviceID := uuid.New()
			var pubkey [32]byte
			for i := range pubkey {
				pubkey[i] = byte(0xA0 + i)
			}
			sess := model.RemoteNodeSession{DeviceID: deviceID, PublicKey: pubkey, Role: model.SessionRoleRoom, Name: "room1"}
			if err := st.SaveSession(ctx, &sess); err != nil {
				t.Fatalf("SaveSession: %v", err)
			}

			byPrefix, ok, err := st.SessionByKeyPrefix(ctx, sess.KeyPrefix())
			if err != nil || !ok || byPrefix.ID != sess.ID {
				t.Fatalf("SessionByKeyPrefix: ok=%v err=%v", ok, err)
			}

			sess.IsConnected = true
			sess.PermissionLevel = model.PermissionAdmin
			if err := st.SaveSession(ctx, &sess); err != nil {
				t.Fatalf("SaveSession (update): %v", err)
			}
			byID, ok, err := st.SessionByID(ctx, sess.ID)
			if err != nil || !ok || !byID.IsConnected || byID.PermissionLevel != model.PermissionAdmin {
				t.Fatalf("expected updated session, got %+v ok=%v err=%v", byID, ok, err)
			}

			list, err := st.ListSessions(ctx, deviceID)
			if err != nil || len(list) != 1 {
				t.Fatalf("ListSessions: len=%d err=%v", len(list), err)
			}

			if err := st.DeleteSession(ctx, sess.ID); err != nil {
				t.Fatalf("DeleteSession: %v", err)
			}
			if _, ok, _ := st.SessionByID(ctx, sess.ID); ok {
				t.Error("expected session deleted")
			}
		})
	}
}

func TestStoreRoomMessageDedup(t *testing.T) {
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seen, err := st.RoomMessageSeen(ctx, "key-1")
			if err != nil || seen {
				t.Fatalf("expected not seen initially, got seen=%v err=%v", seen, err)
			}
			if err := st.MarkRoomMessageSeen(ctx, "key-1"); err != nil {
				t.Fatalf("MarkRoomMessageSeen: %v", err)
			}
			seen, err = st.RoomMessageSeen(ctx, "key-1")
			if err != nil || !seen {
				t.Fatalf("expected seen after marking, got seen=%v err=%v", seen, err)
			}
		})
	}
}

func TestStoreUpdateMissingMessageReturnsNotFound(t *testing.T) {
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := st.UpdateMessageStatus(ctx, uuid.New(), model.StatusFailed)
			if err == nil {
				t.Fatal("expected error for unknown message id")
			}
		})
	}
}
