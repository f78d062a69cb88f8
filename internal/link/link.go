// Package link owns the single peripheral connection to a mesh radio and
// speaks frame_bytes in, response/push bytes out. It implements the
// transport contract (spec.md §4.1): connect/disconnect, request/response
// with a per-call timeout, and separate push/disconnect/reconnect/
// send-activity callbacks. Two concrete transports are provided: BLELink
// for the primary Nordic-UART-style Bluetooth LE connection and SerialLink
// for a wired USB debug-bench connection; both share the same State
// machine and error taxonomy so upper layers never know which is active.
package link

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the connection lifecycle state of a Link (spec.md §4.1).
// It is monotonic disconnected -> connecting -> connected -> ready except
// for the auto-reconnect path, which re-enters connecting without first
// clearing identity.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// PairingWindow is the duration during which transient write errors are
// ignored on a send marked as initial pairing (spec.md §4.1).
const PairingWindow = 35 * time.Second

// ReconnectStabilizationDelay is the pause observed after re-subscribing
// following an auto-reconnect, before the link is declared connected again
// (spec.md §4.1).
const ReconnectStabilizationDelay = 150 * time.Millisecond

// Sentinel errors making up the Link failure taxonomy (spec.md §4.1).
var (
	ErrNotConnected          = errors.New("link: not connected")
	ErrPairingCancelled      = errors.New("link: pairing cancelled")
	ErrBluetoothUnavailable  = errors.New("link: bluetooth unavailable")
	ErrBluetoothUnauthorized = errors.New("link: bluetooth unauthorized")
	ErrBluetoothPoweredOff   = errors.New("link: bluetooth powered off")
	ErrCharacteristicMissing = errors.New("link: characteristic not found")
)

// WriteError wraps a low-level write failure from the underlying driver.
type WriteError struct {
	Detail error
}

func (e *WriteError) Error() string { return fmt.Sprintf("link: write error: %v", e.Detail) }
func (e *WriteError) Unwrap() error { return e.Detail }

// PairingFailed is returned when an ATT-level error (insufficient
// authentication/authorization, encryption failure, peer removed pairing)
// ends the pairing window immediately rather than being tolerated as
// transient (spec.md §4.1).
type PairingFailed struct {
	Cause error
}

func (e *PairingFailed) Error() string { return fmt.Sprintf("link: pairing failed: %v", e.Cause) }
func (e *PairingFailed) Unwrap() error { return e.Cause }

// PushHandler receives raw push-frame bytes (first byte already known to
// be a push code per the caller's demux).
type PushHandler func(frame []byte)

// DisconnectHandler is invoked on a real (non-auto-reconnecting)
// disconnect, with an optional cause.
type DisconnectHandler func(deviceID string, cause error)

// ReconnectHandler is invoked once an auto-reconnect completes
// resubscription and the link returns to StateConnected.
type ReconnectHandler func(deviceID string)

// SendActivityHandler fires on the busy/idle edge of the outbound send
// queue so upper layers can show a sending indicator.
type SendActivityHandler func(busy bool)

// SendOptions customizes a single Send call.
type SendOptions struct {
	// Timeout bounds how long Send waits for a response. Zero means use
	// the Link's default.
	Timeout time.Duration
	// Pairing marks this send as part of an initial-pairing handshake,
	// enabling the 35s transient-error tolerance window (spec.md §4.1).
	Pairing bool
}

// Link owns exactly one peripheral connection and exposes the
// request/response and push primitives every upper layer is built on
// (spec.md §4.1).
type Link interface {
	// Connect opens the connection to deviceID. It blocks until the
	// link reaches StateConnected or fails.
	Connect(ctx context.Context, deviceID string) error

	// Disconnect tears the connection down and performs disconnect
	// cleanup (spec.md §4.1): cancels any pending response with a nil
	// result, clears the send queue, clears subscriptions.
	Disconnect() error

	// Send transmits frame and waits for a single response. A nil
	// response with a nil error means the per-call timeout elapsed
	// without a response; it is the caller's decision whether that is
	// fatal for the command in question.
	Send(ctx context.Context, frame []byte, opts SendOptions) ([]byte, error)

	// ConnectionState returns the current lifecycle state.
	ConnectionState() State

	// ConnectedDeviceID returns the identifier of the connected device,
	// or "" if not connected.
	ConnectedDeviceID() string

	// SetPushHandler installs the callback invoked for every inbound
	// push frame (spec.md §4.1 demux: high-bit-set first byte).
	SetPushHandler(h PushHandler)

	// SetDisconnectHandler installs the real-disconnect callback.
	SetDisconnectHandler(h DisconnectHandler)

	// SetReconnectHandler installs the auto-reconnect-complete callback.
	SetReconnectHandler(h ReconnectHandler)

	// SetSendActivityHandler installs the busy/idle callback.
	SetSendActivityHandler(h SendActivityHandler)
}
