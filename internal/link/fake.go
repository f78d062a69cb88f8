package link

import (
	"context"
	"sync"
)

// FakeLink is an in-memory Link used by tests throughout the module in
// place of a real BLE or serial connection (spec.md §4.1's contract is
// transport-agnostic by design). Callers install a Responder to script
// what each Send call returns.
type FakeLink struct {
	mu        sync.Mutex
	state     State
	deviceID  string
	Responder func(frame []byte) ([]byte, error)
	sentFrames [][]byte

	pushHandler         PushHandler
	disconnectHandler   DisconnectHandler
	reconnectHandler    ReconnectHandler
	sendActivityHandler SendActivityHandler
}

// NewFakeLink returns a FakeLink starting in StateReady, suitable for
// most component tests that assume an already-established connection.
func NewFakeLink() *FakeLink {
	return &FakeLink{state: StateReady}
}

func (f *FakeLink) Connect(ctx context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateReady
	f.deviceID = deviceID
	return nil
}

func (f *FakeLink) Disconnect() error {
	f.mu.Lock()
	f.state = StateDisconnected
	handler := f.disconnectHandler
	deviceID := f.deviceID
	f.mu.Unlock()
	if handler != nil {
		handler(deviceID, nil)
	}
	return nil
}

func (f *FakeLink) Send(ctx context.Context, frame []byte, opts SendOptions) ([]byte, error) {
	f.mu.Lock()
	state := f.state
	responder := f.Responder
	f.sentFrames = append(f.sentFrames, append([]byte(nil), frame...))
	f.mu.Unlock()

	if state != StateReady && state != StateConnected {
		return nil, ErrNotConnected
	}
	if responder == nil {
		return nil, nil
	}
	return responder(frame)
}

func (f *FakeLink) ConnectionState() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeLink) ConnectedDeviceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceID
}

func (f *FakeLink) SetPushHandler(h PushHandler)                 { f.pushHandler = h }
func (f *FakeLink) SetDisconnectHandler(h DisconnectHandler)       { f.disconnectHandler = h }
func (f *FakeLink) SetReconnectHandler(h ReconnectHandler)         { f.reconnectHandler = h }
func (f *FakeLink) SetSendActivityHandler(h SendActivityHandler)   { f.sendActivityHandler = h }

// SetState forces the connection state, for tests exercising
// NotConnected paths.
func (f *FakeLink) SetState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

// Push delivers a synthetic push frame to the installed push handler, as
// if it had arrived from the radio.
func (f *FakeLink) Push(frame []byte) {
	f.mu.Lock()
	h := f.pushHandler
	f.mu.Unlock()
	if h != nil {
		h(frame)
	}
}

// SentFrames returns every frame passed to Send so far, in order.
func (f *FakeLink) SentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sentFrames...)
}

// TriggerReconnect invokes the installed reconnect handler, as if the
// Link had just re-established the connection after a drop.
func (f *FakeLink) TriggerReconnect() {
	f.mu.Lock()
	h := f.reconnectHandler
	deviceID := f.deviceID
	f.mu.Unlock()
	if h != nil {
		h(deviceID)
	}
}

var _ Link = (*FakeLink)(nil)
