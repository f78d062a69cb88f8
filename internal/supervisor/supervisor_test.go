package supervisor

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/notify"
	"github.com/iamruinous/meshcore-companion/internal/secret"
	"github.com/iamruinous/meshcore-companion/internal/store"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

func encodedSelfInfo(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, meshcore.PublicKeyLen+32+4+4+4+4+1+1+1+4)
	off := meshcore.PublicKeyLen
	copy(buf[off:off+32], "field node")
	off += 32 + 4 + 4 // skip name, lat, lon
	binary.LittleEndian.PutUint32(buf[off:off+4], 915000)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], 250000)
	return append([]byte{meshcore.RespSelfInfo}, buf...)
}

func encodedDeviceInfo() []byte {
	buf := make([]byte, 4+4+32+32+32)
	binary.LittleEndian.PutUint32(buf[0:4], 100)
	binary.LittleEndian.PutUint32(buf[4:8], 8)
	copy(buf[8:40], "v1.0.0")
	return append([]byte{meshcore.RespDeviceInfo}, buf...)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *link.FakeLink, *notify.Fake) {
	t.Helper()
	fl := link.NewFakeLink()
	fl.Responder = func(frame []byte) ([]byte, error) {
		if len(frame) == 0 {
			return nil, nil
		}
		switch frame[0] {
		case meshcore.CmdAppStart:
			return encodedSelfInfo(t), nil
		case meshcore.CmdDeviceQuery:
			return encodedDeviceInfo(), nil
		case meshcore.CmdGetContacts:
			return []byte{meshcore.RespEndOfContacts}, nil
		default:
			return []byte{meshcore.RespOK}, nil
		}
	}

	st := store.NewMemoryStore()
	sec := secret.NewMemory()
	notifier := notify.NewFake()

	sup := New(fl, st, sec, Config{Notifier: notifier})
	return sup, fl, notifier
}

func TestConnectRunsHandshakeAndPersistsDevice(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)

	dev, err := sup.Connect(context.Background(), model.TransportBLE, "aa:bb:cc:dd:ee:ff", "")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if dev.MaxContacts != 100 || dev.MaxChannels != 8 {
		t.Errorf("device info not decoded into device record: %+v", dev)
	}
	if dev.Name != "field node" {
		t.Errorf("expected device name fallback to self info name, got %q", dev.Name)
	}

	got, ok, err := sup.Store().DeviceByID(context.Background(), dev.ID)
	if err != nil || !ok {
		t.Fatalf("expected device persisted, ok=%v err=%v", ok, err)
	}
	if got.Address != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("unexpected persisted address: %q", got.Address)
	}

	if _, ok := LoadActiveDeviceID(); !ok {
		t.Error("expected active device id persisted to prefs file")
	}
}

func TestHandleNewAdvertPersistsContact(t *testing.T) {
	sup, fl, _ := newTestSupervisor(t)
	if _, err := sup.Connect(context.Background(), model.TransportBLE, "aa:bb:cc:dd:ee:ff", ""); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	c := meshcore.Contact{Name: "Repeater One"}
	for i := range c.PublicKey {
		c.PublicKey[i] = byte(i + 1)
	}
	encoded, err := meshcore.EncodeContact(c)
	if err != nil {
		t.Fatalf("encode contact failed: %v", err)
	}
	fl.Push(append([]byte{meshcore.PushNewAdvert}, encoded...))

	var prefix [6]byte
	copy(prefix[:], c.PublicKey[:6])
	saved, ok, err := sup.Store().ContactByKeyPrefix(context.Background(), prefix)
	if err != nil || !ok {
		t.Fatalf("expected contact saved from new_advert push, ok=%v err=%v", ok, err)
	}
	if saved.Name != "Repeater One" {
		t.Errorf("unexpected contact name: %q", saved.Name)
	}
}

func TestReconnectFailsPendingSends(t *testing.T) {
	sup, fl, _ := newTestSupervisor(t)
	dev, err := sup.Connect(context.Background(), model.TransportBLE, "aa:bb:cc:dd:ee:ff", "")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	fl.Responder = func(frame []byte) ([]byte, error) {
		if len(frame) > 0 && frame[0] == meshcore.CmdSendTextMsg {
			return []byte{meshcore.RespSent, 0, 1, 0, 0, 0, 0xff, 0xff, 0, 0}, nil
		}
		return []byte{meshcore.RespOK}, nil
	}

	go func() {
		_, _ = sup.Engine().SendWithRetry(context.Background(), model.Contact{DeviceID: dev.ID, Type: model.ContactTypeChat}, "hi", model.TextTypePlain)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sup.Engine().PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sup.Engine().PendingCount() == 0 {
		t.Fatal("expected a pending entry before reconnect")
	}

	fl.TriggerReconnect()

	deadline = time.Now().Add(2 * time.Second)
	for sup.Engine().PendingCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sup.Engine().PendingCount() != 0 {
		t.Error("expected reconnect to fail all pending sends")
	}
}

func TestDisconnectFailsPendingSends(t *testing.T) {
	sup, fl, _ := newTestSupervisor(t)
	if _, err := sup.Connect(context.Background(), model.TransportBLE, "aa:bb:cc:dd:ee:ff", ""); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := sup.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if fl.ConnectionState() != link.StateDisconnected {
		t.Errorf("expected link disconnected, got %v", fl.ConnectionState())
	}
}
