package link

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestFakeLinkSendRoundTrip(t *testing.T) {
	l := NewFakeLink()
	l.Responder = func(frame []byte) ([]byte, error) {
		return append([]byte{0xAA}, frame...), nil
	}

	resp, err := l.Send(context.Background(), []byte{0x01, 0x02}, SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(resp) != 3 || resp[0] != 0xAA {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestFakeLinkNotConnected(t *testing.T) {
	l := NewFakeLink()
	l.SetState(StateDisconnected)

	_, err := l.Send(context.Background(), []byte{0x01}, SendOptions{})
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestFakeLinkTimeoutReturnsNilNil(t *testing.T) {
	l := NewFakeLink()
	l.Responder = func(frame []byte) ([]byte, error) { return nil, nil }

	resp, err := l.Send(context.Background(), []byte{0x01}, SendOptions{})
	if err != nil || resp != nil {
		t.Errorf("expected nil,nil on timeout-style response, got %v,%v", resp, err)
	}
}

func TestFakeLinkPushDispatch(t *testing.T) {
	l := NewFakeLink()
	var got []byte
	l.SetPushHandler(func(frame []byte) { got = frame })

	l.Push([]byte{0x80, 0x01})
	if len(got) != 2 || got[0] != 0x80 {
		t.Errorf("expected push delivered, got %v", got)
	}
}

func TestFakeLinkDisconnectFiresHandler(t *testing.T) {
	l := NewFakeLink()
	var gotDeviceID string
	l.SetDisconnectHandler(func(deviceID string, cause error) { gotDeviceID = deviceID })
	_ = l.Connect(context.Background(), "device-1")

	if err := l.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if gotDeviceID != "device-1" {
		t.Errorf("expected disconnect handler called with device-1, got %q", gotDeviceID)
	}
	if l.ConnectionState() != StateDisconnected {
		t.Errorf("expected StateDisconnected, got %v", l.ConnectionState())
	}
}

func TestTryExtractFrame(t *testing.T) {
	wire := putLengthFrame([]byte{0x01, 0x02, 0x03})
	frame, rest, ok := tryExtractFrame(wire)
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if len(frame) != 3 || len(rest) != 0 {
		t.Errorf("unexpected frame/rest: %v %v", frame, rest)
	}
}

func TestTryExtractFramePartial(t *testing.T) {
	wire := putLengthFrame([]byte{0x01, 0x02, 0x03})
	_, _, ok := tryExtractFrame(wire[:2])
	if ok {
		t.Error("expected incomplete frame to not extract")
	}
}

func TestIsPairingFatalClassifiesBlueZAuthErrors(t *testing.T) {
	err := dbus.Error{Name: "org.bluez.Error.AuthenticationFailed"}
	if !isPairingFatal(err) {
		t.Error("expected AuthenticationFailed dbus error to be fatal")
	}
	if isTransientWriteErr(err) {
		t.Error("expected a fatal error not to also be classified transient")
	}
}

func TestIsPairingFatalClassifiesSubstringFallback(t *testing.T) {
	err := errors.New("gatt write failed: insufficient encryption")
	if !isPairingFatal(err) {
		t.Error("expected insufficient-encryption error to be fatal")
	}
}

func TestIsTransientWriteErrForOrdinaryFailure(t *testing.T) {
	err := errors.New("gatt write failed: link layer timeout")
	if isPairingFatal(err) {
		t.Error("expected ordinary link timeout not to be classified fatal")
	}
	if !isTransientWriteErr(err) {
		t.Error("expected ordinary link timeout to be classified transient")
	}
}

func TestIsPairingFatalNilError(t *testing.T) {
	if isPairingFatal(nil) {
		t.Error("expected nil error not to be fatal")
	}
}
