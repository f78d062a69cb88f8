package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// Nordic UART Service UUIDs (spec.md §4.1, Glossary: "BLE transport
// modeled as a Nordic-UART-style serial service"). RX is the
// host-writable characteristic the radio reads from; TX is the
// radio-notified characteristic the host subscribes to.
var (
	nusServiceUUID = bluetooth.NewUUID([16]byte{
		0x6e, 0x40, 0x00, 0x01, 0xb5, 0xa3, 0xf3, 0x93,
		0xe0, 0xa9, 0xe5, 0x0e, 0x24, 0xdc, 0xca, 0x9e,
	})
	nusRXCharUUID = bluetooth.NewUUID([16]byte{
		0x6e, 0x40, 0x00, 0x02, 0xb5, 0xa3, 0xf3, 0x93,
		0xe0, 0xa9, 0xe5, 0x0e, 0x24, 0xdc, 0xca, 0x9e,
	})
	nusTXCharUUID = bluetooth.NewUUID([16]byte{
		0x6e, 0x40, 0x00, 0x03, 0xb5, 0xa3, 0xf3, 0x93,
		0xe0, 0xa9, 0xe5, 0x0e, 0x24, 0xdc, 0xca, 0x9e,
	})
)

// defaultBLEMTU is the write-chunk size used when the negotiated MTU is
// unknown; tinygo.org/x/bluetooth does not expose MTU negotiation on every
// OS backend, so fragmentation always assumes the conservative default
// unless overridden (spec.md §4.1 Fragmentation).
const defaultBLEMTU = 20

// defaultSendTimeout is used when SendOptions.Timeout is zero.
const defaultSendTimeout = 10 * time.Second

// BLEConfig configures a BLELink.
type BLEConfig struct {
	MTU                int
	DefaultSendTimeout  time.Duration
	ScanTimeout         time.Duration
}

// BLELink is the primary Link implementation: a central-role connection
// to one mesh radio peripheral speaking a Nordic-UART-style GATT service
// (spec.md §4.1). Adapted from the central/peripheral connect-and-
// subscribe pattern in arnnvv-bluetalk's BLEManager, generalized from a
// symmetric chat peer into a single fixed central role with request/
// response correlation and a dedicated push channel.
type BLELink struct {
	cfg     BLEConfig
	adapter *bluetooth.Adapter
	logger  *zap.Logger

	mu                sync.Mutex
	state             State
	deviceID          string
	device            *bluetooth.Device
	rxChar            bluetooth.DeviceCharacteristic // host writes here
	txChar            bluetooth.DeviceCharacteristic // host subscribes here
	needsResubscribe  bool
	sendMu            sync.Mutex // serializes Send calls FIFO
	pendingResp       chan []byte
	assembling        []byte

	pushHandler         PushHandler
	disconnectHandler   DisconnectHandler
	reconnectHandler    ReconnectHandler
	sendActivityHandler SendActivityHandler
}

// NewBLELink creates a BLELink bound to the system's default Bluetooth
// adapter.
func NewBLELink(cfg BLEConfig) *BLELink {
	if cfg.MTU <= 0 {
		cfg.MTU = defaultBLEMTU
	}
	if cfg.DefaultSendTimeout <= 0 {
		cfg.DefaultSendTimeout = defaultSendTimeout
	}
	return &BLELink{
		cfg:     cfg,
		adapter: bluetooth.DefaultAdapter,
		logger:  logging.With(zap.String("link", "ble")),
		state:   StateDisconnected,
	}
}

func (l *BLELink) ConnectionState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *BLELink) ConnectedDeviceID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deviceID
}

func (l *BLELink) SetPushHandler(h PushHandler)                 { l.pushHandler = h }
func (l *BLELink) SetDisconnectHandler(h DisconnectHandler)       { l.disconnectHandler = h }
func (l *BLELink) SetReconnectHandler(h ReconnectHandler)         { l.reconnectHandler = h }
func (l *BLELink) SetSendActivityHandler(h SendActivityHandler)   { l.sendActivityHandler = h }

// Connect scans for deviceID (a MAC/UUID address string), connects,
// discovers the NUS service and characteristics, and subscribes to
// notifications. It blocks until StateConnected or an error (spec.md
// §4.1 state machine).
func (l *BLELink) Connect(ctx context.Context, deviceID string) error {
	l.mu.Lock()
	l.state = StateConnecting
	l.deviceID = deviceID
	l.mu.Unlock()

	if err := l.adapter.Enable(); err != nil {
		l.setDisconnected()
		return classifyAdapterError(err)
	}

	addr, err := bluetooth.ParseMAC(deviceID)
	if err != nil {
		l.setDisconnected()
		return fmt.Errorf("link: invalid device id %q: %w", deviceID, err)
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanCtx, cancel := context.WithTimeout(ctx, l.scanTimeout())
	defer cancel()

	go func() {
		_ = l.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.Address.String() == addr.String() {
				a.StopScan()
				select {
				case found <- result:
				default:
				}
			}
		})
	}()

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	case <-scanCtx.Done():
		l.adapter.StopScan()
		l.setDisconnected()
		return fmt.Errorf("link: %w: scan timed out for %s", ErrNotConnected, deviceID)
	}

	device, err := l.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		l.setDisconnected()
		return classifyConnectError(err)
	}

	if err := l.discoverAndSubscribe(&device); err != nil {
		device.Disconnect()
		l.setDisconnected()
		return err
	}

	l.mu.Lock()
	l.device = &device
	l.state = StateConnected
	wasReconnect := l.needsResubscribe
	l.needsResubscribe = false
	l.mu.Unlock()

	if wasReconnect {
		time.Sleep(ReconnectStabilizationDelay)
		if l.reconnectHandler != nil {
			l.reconnectHandler(deviceID)
		}
	}

	l.logger.Info("ble link connected", zap.String("device_id", deviceID))
	return nil
}

func (l *BLELink) scanTimeout() time.Duration {
	if l.cfg.ScanTimeout > 0 {
		return l.cfg.ScanTimeout
	}
	return 30 * time.Second
}

func (l *BLELink) discoverAndSubscribe(device *bluetooth.Device) error {
	services, err := device.DiscoverServices([]bluetooth.UUID{nusServiceUUID})
	if err != nil || len(services) == 0 {
		return ErrCharacteristicMissing
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{nusRXCharUUID, nusTXCharUUID})
	if err != nil {
		return ErrCharacteristicMissing
	}

	var rx, tx bluetooth.DeviceCharacteristic
	var haveRX, haveTX bool
	for _, c := range chars {
		switch c.UUID() {
		case nusRXCharUUID:
			rx, haveRX = c, true
		case nusTXCharUUID:
			tx, haveTX = c, true
		}
	}
	if !haveRX || !haveTX {
		return ErrCharacteristicMissing
	}

	if err := tx.EnableNotifications(l.handleNotification); err != nil {
		return ErrCharacteristicMissing
	}

	l.mu.Lock()
	l.rxChar = rx
	l.txChar = tx
	l.mu.Unlock()
	return nil
}

// handleNotification reassembles MTU-sized fragments into logical frames
// using the length-framer wire format, then demuxes each frame by code
// byte (spec.md §4.1 Demux).
func (l *BLELink) handleNotification(value []byte) {
	l.mu.Lock()
	l.assembling = append(l.assembling, value...)
	buf := l.assembling
	l.mu.Unlock()

	for {
		frame, rest, ok := tryExtractFrame(buf)
		if !ok {
			break
		}
		buf = rest
		l.dispatchFrame(frame)
	}

	l.mu.Lock()
	l.assembling = buf
	l.mu.Unlock()
}

func (l *BLELink) dispatchFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}
	if meshcore.IsPush(frame[0]) {
		if l.pushHandler != nil {
			l.pushHandler(frame)
		}
		return
	}
	l.mu.Lock()
	ch := l.pendingResp
	l.mu.Unlock()
	if ch != nil {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Send writes frame in MTU-sized chunks and waits for the single
// outstanding response, honoring the pairing-window tolerance for
// transient write errors (spec.md §4.1 Fragmentation, Pairing window).
func (l *BLELink) Send(ctx context.Context, frame []byte, opts SendOptions) ([]byte, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if l.ConnectionState() != StateConnected && l.ConnectionState() != StateReady {
		return nil, ErrNotConnected
	}

	if l.sendActivityHandler != nil {
		l.sendActivityHandler(true)
		defer l.sendActivityHandler(false)
	}

	respCh := make(chan []byte, 1)
	l.mu.Lock()
	l.pendingResp = respCh
	rx := l.rxChar
	l.mu.Unlock()

	wire := putLengthFrame(frame)
	deadline := time.Now().Add(l.pairingDeadline(opts))
	for off := 0; off < len(wire); off += l.cfg.MTU {
		end := off + l.cfg.MTU
		if end > len(wire) {
			end = len(wire)
		}
		if _, err := rx.Write(wire[off:end]); err != nil {
			if isPairingFatal(err) {
				return nil, &PairingFailed{Cause: err}
			}
			if opts.Pairing && time.Now().Before(deadline) && isTransientWriteErr(err) {
				time.Sleep(50 * time.Millisecond)
				off -= l.cfg.MTU
				continue
			}
			return nil, &WriteError{Detail: err}
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = l.cfg.DefaultSendTimeout
	}
	select {
	case resp := <-respCh:
		return resp, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect tears down the connection and performs the disconnect
// cleanup described in spec.md §4.1: cancel any pending response,
// clear characteristic handles.
func (l *BLELink) Disconnect() error {
	l.mu.Lock()
	device := l.device
	pending := l.pendingResp
	l.device = nil
	l.rxChar = bluetooth.DeviceCharacteristic{}
	l.txChar = bluetooth.DeviceCharacteristic{}
	l.pendingResp = nil
	deviceID := l.deviceID
	l.state = StateDisconnected
	l.mu.Unlock()

	if pending != nil {
		select {
		case pending <- nil:
		default:
		}
	}
	if device != nil {
		if err := device.Disconnect(); err != nil {
			return err
		}
	}
	if l.disconnectHandler != nil {
		l.disconnectHandler(deviceID, nil)
	}
	return nil
}

func (l *BLELink) setDisconnected() {
	l.mu.Lock()
	l.state = StateDisconnected
	l.mu.Unlock()
}

func (l *BLELink) pairingDeadline(opts SendOptions) time.Duration {
	if opts.Pairing {
		return PairingWindow
	}
	return 0
}

func classifyAdapterError(err error) error {
	return fmt.Errorf("%w: %v", ErrBluetoothUnavailable, err)
}

func classifyConnectError(err error) error {
	return &WriteError{Detail: err}
}

// fatalPairingDBusErrors are BlueZ D-Bus error names that mean the
// authentication/authorization/encryption handshake itself failed,
// rather than a transient radio hiccup (spec.md §4.1 Pairing window).
// tinygo.org/x/bluetooth's Linux backend surfaces BlueZ failures as
// *dbus.Error with these names.
var fatalPairingDBusErrors = map[string]bool{
	"org.bluez.Error.AuthenticationFailed":    true,
	"org.bluez.Error.AuthenticationCanceled":  true,
	"org.bluez.Error.AuthenticationRejected":  true,
	"org.bluez.Error.AuthenticationTimeout":   true,
	"org.bluez.Error.ConnectionAttemptFailed": true,
	"org.bluez.Error.NotAuthorized":           true,
	"org.bluez.Error.NotPermitted":            true,
}

// fatalPairingSubstrings catches the same ATT error classes on backends
// that don't surface a *dbus.Error (e.g. CoreBluetooth on darwin, which
// reports them as plain strings).
var fatalPairingSubstrings = []string{
	"insufficient authentication",
	"insufficient encryption",
	"insufficient authorization",
	"authentication failed",
	"not authorized",
	"not permitted",
	"peer removed pairing",
}

// isPairingFatal reports whether err is an ATT-level authentication,
// authorization, or encryption failure that must end the pairing window
// immediately via PairingFailed rather than being retried (spec.md
// §4.1).
func isPairingFatal(err error) bool {
	if err == nil {
		return false
	}
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return fatalPairingDBusErrors[dbusErr.Name]
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range fatalPairingSubstrings {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// isTransientWriteErr reports whether err is worth retrying within the
// pairing window: any write failure not already classified fatal
// (spec.md §4.1 tolerates link flakiness while the peripheral is still
// completing its own pairing handshake).
func isTransientWriteErr(err error) bool {
	return err != nil && !isPairingFatal(err)
}

// tryExtractFrame pulls one length-prefixed frame off the front of buf if
// a complete frame is present, mirroring pkg/meshcore.LengthFramer's wire
// format but operating on an in-memory byte accumulator rather than an
// io.Reader, since BLE delivers data as discrete notification callbacks
// rather than a blocking stream.
func tryExtractFrame(buf []byte) (frame, rest []byte, ok bool) {
	const headerSize = 2
	if len(buf) < headerSize {
		return nil, buf, false
	}
	length := int(buf[0]) | int(buf[1])<<8
	total := headerSize + length
	if len(buf) < total {
		return nil, buf, false
	}
	frame = append([]byte(nil), buf[headerSize:total]...)
	rest = append([]byte(nil), buf[total:]...)
	return frame, rest, true
}

func putLengthFrame(frame []byte) []byte {
	out := make([]byte, 2+len(frame))
	out[0] = byte(len(frame))
	out[1] = byte(len(frame) >> 8)
	copy(out[2:], frame)
	return out
}
