package link

import (
	"context"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// SerialConfig configures a SerialLink. SerialLink is a secondary
// transport for wired USB debug-bench connections (spec.md §4.1: "a
// faithful implementation can be written against any serial-style
// byte-stream transport"); it is not the primary BLE path but shares the
// same Link contract and wire framing.
type SerialConfig struct {
	Port               string
	Baud               int
	DefaultSendTimeout time.Duration
}

// SerialLink implements Link over a byte-stream serial port, using
// pkg/meshcore.LengthFramer for frame reconstruction. Adapted from the
// teacher's internal/connection Serial type: same port-open/read-loop/
// stop-channel shape, generalized from an unframed Meshtastic protobuf
// stream to this protocol's length-prefixed frames and from a
// fire-and-forget packet channel to synchronous request/response with a
// push side-channel.
type SerialLink struct {
	cfg    SerialConfig
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	port      serial.Port
	framer    *meshcore.LengthFramer
	stopCh    chan struct{}
	sendMu    sync.Mutex
	pendingResp chan []byte

	pushHandler         PushHandler
	disconnectHandler   DisconnectHandler
	reconnectHandler    ReconnectHandler
	sendActivityHandler SendActivityHandler
}

// NewSerialLink creates a SerialLink for the given port configuration.
func NewSerialLink(cfg SerialConfig) *SerialLink {
	if cfg.DefaultSendTimeout <= 0 {
		cfg.DefaultSendTimeout = defaultSendTimeout
	}
	return &SerialLink{
		cfg:    cfg,
		logger: logging.With(zap.String("link", "serial")),
		state:  StateDisconnected,
	}
}

func (l *SerialLink) ConnectionState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *SerialLink) ConnectedDeviceID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected {
		return ""
	}
	return l.cfg.Port
}

func (l *SerialLink) SetPushHandler(h PushHandler)               { l.pushHandler = h }
func (l *SerialLink) SetDisconnectHandler(h DisconnectHandler)     { l.disconnectHandler = h }
func (l *SerialLink) SetReconnectHandler(h ReconnectHandler)       { l.reconnectHandler = h }
func (l *SerialLink) SetSendActivityHandler(h SendActivityHandler) { l.sendActivityHandler = h }

// Connect opens the serial port and starts the read loop. deviceID is
// ignored; the port path is fixed at construction (a debug-bench
// connection targets one known device).
func (l *SerialLink) Connect(ctx context.Context, deviceID string) error {
	l.mu.Lock()
	if l.state != StateDisconnected {
		l.mu.Unlock()
		return nil
	}
	l.state = StateConnecting
	l.mu.Unlock()

	mode := &serial.Mode{
		BaudRate: l.cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(l.cfg.Port, mode)
	if err != nil {
		l.setDisconnected()
		return &WriteError{Detail: err}
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		l.setDisconnected()
		return &WriteError{Detail: err}
	}

	l.mu.Lock()
	l.port = port
	l.framer = meshcore.NewLengthFramer(port, port)
	l.stopCh = make(chan struct{})
	l.state = StateConnected
	l.mu.Unlock()

	go l.readLoop()

	l.logger.Info("serial link connected", zap.String("port", l.cfg.Port))
	return nil
}

func (l *SerialLink) readLoop() {
	l.mu.Lock()
	stopCh := l.stopCh
	framer := l.framer
	l.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		frame, err := framer.ReadFrame()
		if err != nil {
			if err == io.EOF {
				continue
			}
			l.logger.Debug("read error", zap.Error(err))
			continue
		}
		l.dispatchFrame(frame)
	}
}

func (l *SerialLink) dispatchFrame(frame []byte) {
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

// Send writes frame as a single length-prefixed write and waits for the
// response (spec.md §4.1).
func (l *SerialLink) Send(ctx context.Context, frame []byte, opts SendOptions) ([]byte, error) {
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
	framer := l.framer
	l.mu.Unlock()

	if err := framer.WriteFrame(frame); err != nil {
		return nil, &WriteError{Detail: err}
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

// Disconnect closes the port and performs disconnect cleanup (spec.md
// §4.1).
func (l *SerialLink) Disconnect() error {
	l.mu.Lock()
	if l.state == StateDisconnected {
		l.mu.Unlock()
		return nil
	}
	port := l.port
	stopCh := l.stopCh
	pending := l.pendingResp
	l.port = nil
	l.pendingResp = nil
	l.state = StateDisconnected
	l.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if pending != nil {
		select {
		case pending <- nil:
		default:
		}
	}

	var err error
	if port != nil {
		err = port.Close()
	}
	if l.disconnectHandler != nil {
		l.disconnectHandler(l.cfg.Port, err)
	}
	return err
}

func (l *SerialLink) setDisconnected() {
	l.mu.Lock()
	l.state = StateDisconnected
	l.mu.Unlock()
}
