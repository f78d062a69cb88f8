package model

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

func TestContactFromWirePreservesBookkeeping(t *testing.T) {
	existing := &Contact{
		ID:       uuid.New(),
		DeviceID: uuid.New(),
		Nickname: "Bob",
		Favorite: true,
	}
	wire := meshcore.Contact{Name: "Basecamp", OutPathLength: meshcore.FloodPathLength}

	got := ContactFromWire(wire, existing)
	if got.ID != existing.ID || got.DeviceID != existing.DeviceID {
		t.Errorf("expected identity to be preserved, got %+v", got)
	}
	if got.Nickname != "Bob" || !got.Favorite {
		t.Errorf("expected bookkeeping fields preserved, got %+v", got)
	}
	if got.Name != "Basecamp" {
		t.Errorf("expected name from wire, got %q", got.Name)
	}
}

func TestContactFromWireAssignsNewID(t *testing.T) {
	got := ContactFromWire(meshcore.Contact{Name: "New"}, nil)
	if got.ID == uuid.Nil {
		t.Error("expected a fresh ID to be assigned")
	}
}

func TestContactRoundTripToWire(t *testing.T) {
	c := Contact{
		Name:          "Repeater1",
		Type:          ContactTypeRepeater,
		OutPathLength: 3,
		OutPath:       []byte{1, 2, 3},
	}
	w := c.ToWire()
	if w.Name != c.Name || w.OutPathLength != c.OutPathLength {
		t.Errorf("unexpected wire conversion: %+v", w)
	}
}

func TestMessageFromContactMsgV3(t *testing.T) {
	deviceID := uuid.New()
	contactID := uuid.New()
	wire := meshcore.ContactMsgV3{Text: "hi", Timestamp: 123, TextType: meshcore.TextTypePlain}

	m := MessageFromContactMsgV3(deviceID, contactID, wire, time.Now())
	if m.Text != "hi" || m.Direction != DirectionIn || m.Status != StatusDelivered {
		t.Errorf("unexpected message: %+v", m)
	}
	if m.ContactID != contactID {
		t.Errorf("expected contact id %v, got %v", contactID, m.ContactID)
	}
}

func TestMessageFromChannelMsgV3(t *testing.T) {
	deviceID := uuid.New()
	wire := meshcore.ChannelMsgV3{Text: "bcast", ChannelIndex: 2}

	m := MessageFromChannelMsgV3(deviceID, wire, time.Now())
	if m.ChannelIndex == nil || *m.ChannelIndex != 2 {
		t.Errorf("expected channel index 2, got %+v", m.ChannelIndex)
	}
	if m.ContactID != uuid.Nil {
		t.Errorf("expected zero contact id for channel message, got %v", m.ContactID)
	}
}

func TestNewOutboundMessage(t *testing.T) {
	deviceID, contactID := uuid.New(), uuid.New()
	m := NewOutboundMessage(deviceID, contactID, "hello", TextTypePlain, 1000)
	if m.Status != StatusPending || m.Direction != DirectionOut || !m.IsFromSelf {
		t.Errorf("unexpected outbound message: %+v", m)
	}
}

func TestPermissionFromACL(t *testing.T) {
	cases := map[uint8]PermissionLevel{
		0: PermissionGuest,
		1: PermissionMember,
		2: PermissionAdmin,
		4: PermissionGuest, // low bits 0
	}
	for acl, want := range cases {
		if got := PermissionFromACL(acl); got != want {
			t.Errorf("PermissionFromACL(%d) = %v, want %v", acl, got, want)
		}
	}
}

func TestContactIsFlood(t *testing.T) {
	c := Contact{OutPathLength: -1}
	if !c.IsFlood() {
		t.Error("expected flood path to report IsFlood")
	}
	c.OutPathLength = 0
	if c.IsFlood() {
		t.Error("expected direct path to not report IsFlood")
	}
}
