// Package supervisor wires Link, RequestMux, PushRouter, SendEngine,
// InboxDrainer, and SessionManager together into one running connection
// to a single paired device (spec.md §9 Supervisor, the ninth
// component). It owns the active-device identity, bridges Link
// disconnect/reconnect events into the other components' cleanup/
// re-auth paths, and applies the advert/path-update/new-advert pushes
// spec.md §4.4 routes to an "AdvertisementHandler" external
// collaborator, which this package implements directly against the
// persistence port. Grounded on the teacher's relay.Service: the one
// place that owns every other component's lifecycle behind a single
// Start/Stop surface.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/inbox"
	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/notify"
	"github.com/iamruinous/meshcore-companion/internal/pushrouter"
	"github.com/iamruinous/meshcore-companion/internal/requestmux"
	"github.com/iamruinous/meshcore-companion/internal/secret"
	"github.com/iamruinous/meshcore-companion/internal/sendengine"
	"github.com/iamruinous/meshcore-companion/internal/session"
	"github.com/iamruinous/meshcore-companion/internal/store"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// HandshakeTimeout bounds the app-start + device-query exchange
// (spec.md §5 Timeouts: "initial setup 40s, spans pairing").
const HandshakeTimeout = 40 * time.Second

// Config tunes the Supervisor's owned components.
type Config struct {
	SendEngine sendengine.Config
	Notifier   notify.Notifier
}

// Supervisor implements spec.md §9.
type Supervisor struct {
	cfg      Config
	link     link.Link
	mux      *requestmux.Mux
	router   *pushrouter.Router
	engine   *sendengine.Engine
	drainer  *inbox.Drainer
	sessions *session.Manager
	store    store.Store
	secret   secret.Secret
	notifier notify.Notifier
	logger   *zap.Logger

	mu            sync.Mutex
	device        model.Device
	selfKeyPrefix [6]byte
}

// New wires every component around a concrete Link, Store, and Secret.
// It does not connect; call Connect to bring up a device.
func New(l link.Link, st store.Store, sec secret.Secret, cfg Config) *Supervisor {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewFake()
	}
	if cfg.SendEngine == (sendengine.Config{}) {
		cfg.SendEngine = sendengine.DefaultConfig()
	}

	s := &Supervisor{
		cfg:      cfg,
		link:     l,
		store:    st,
		secret:   sec,
		notifier: cfg.Notifier,
		logger:   logging.With(zap.String("component", "supervisor")),
	}

	s.mux = requestmux.New(l)
	s.engine = sendengine.New(s.mux, st, &pathResetter{mux: s.mux}, cfg.SendEngine)
	s.engine.OnDelivered(s.handleDelivered)
	s.engine.OnFailed(s.handleFailed)

	s.sessions = session.New(s.mux, st, sec, st, s.handleUnsynced)

	s.router = pushrouter.New(pushrouter.Handlers{
		MessagesWaiting: func() { s.drainer.HandleMessagesWaiting() },
		SendConfirmed:   s.engine.HandleSendConfirmed,
		Advert:          s.handleAdvert,
		PathUpdated:     s.handlePathUpdated,
		NewAdvert:       s.handleNewAdvert,
		LoginResult:     s.sessions.HandleLoginResult,
		BinaryResponse:  s.sessions.HandleBinaryResponse,
	})

	l.SetPushHandler(s.router.Dispatch)
	l.SetDisconnectHandler(s.handleDisconnect)
	l.SetReconnectHandler(s.handleReconnect)

	return s
}

// pathResetter adapts requestmux.Mux to sendengine.PathResetter
// (spec.md §4.5 Flood transition): no concrete implementation of
// RESET_PATH existed before this, since only SendEngine needs it.
type pathResetter struct {
	mux *requestmux.Mux
}

func (p *pathResetter) ResetPath(ctx context.Context, contact model.Contact) error {
	frame := meshcore.EncodeResetPath(contact.PublicKey)
	return p.mux.DoOK(ctx, frame, link.SendOptions{})
}

// Connect opens the Link to the given device address, runs the
// app-start + device-query handshake, syncs the contact list, and
// persists the Device row (spec.md §4.1 ready transition, §4.8 device
// CRUD). transport/address/name identify a new or previously-paired
// device; if a Device with this address already exists it is reused.
func (s *Supervisor) Connect(ctx context.Context, transport model.TransportKind, address, name string) (model.Device, error) {
	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	if err := s.link.Connect(hctx, address); err != nil {
		return model.Device{}, fmt.Errorf("supervisor: connect: %w", err)
	}

	selfInfo, deviceInfo, err := s.handshake(hctx)
	if err != nil {
		_ = s.link.Disconnect()
		return model.Device{}, fmt.Errorf("supervisor: handshake: %w", err)
	}

	copy(s.selfKeyPrefix[:], selfInfo.PublicKey[:6])

	dev := s.deviceFromHandshake(ctx, transport, address, name, selfInfo, deviceInfo)

	if err := s.store.SaveDevice(ctx, &dev); err != nil {
		return model.Device{}, fmt.Errorf("supervisor: save device: %w", err)
	}
	if err := s.store.SetActiveDeviceID(ctx, dev.ID); err != nil {
		s.logger.Warn("failed to persist active device id", zap.Error(err))
	}
	if err := SaveActiveDeviceID(dev.ID); err != nil {
		s.logger.Warn("failed to persist active device id to prefs file", zap.Error(err))
	}

	s.mu.Lock()
	s.device = dev
	s.mu.Unlock()

	s.drainer = inbox.New(s.mux, s.store, s.store, s.store, inbox.Handlers{
		UnknownSender:  s.handleUnknownSender,
		DirectMessage:  s.handleDirectMessage,
		ChannelMessage: s.handleChannelMessage,
	}, s.selfKeyPrefix, dev.ID)

	if err := s.syncContacts(ctx, dev.ID); err != nil {
		s.logger.Warn("initial contact sync failed", zap.Error(err))
	}

	s.logger.Info("device ready", zap.String("address", address), zap.String("device_id", dev.ID.String()))
	return dev, nil
}

func (s *Supervisor) handshake(ctx context.Context) (meshcore.SelfInfo, meshcore.DeviceInfo, error) {
	selfPayload, err := s.mux.Do(ctx, meshcore.EncodeAppStart(), link.SendOptions{Pairing: true}, meshcore.RespSelfInfo)
	if err != nil {
		return meshcore.SelfInfo{}, meshcore.DeviceInfo{}, err
	}
	selfInfo, err := meshcore.DecodeSelfInfo(selfPayload)
	if err != nil {
		return meshcore.SelfInfo{}, meshcore.DeviceInfo{}, err
	}

	devPayload, err := s.mux.Do(ctx, meshcore.EncodeDeviceQuery(), link.SendOptions{Pairing: true}, meshcore.RespDeviceInfo)
	if err != nil {
		return selfInfo, meshcore.DeviceInfo{}, err
	}
	deviceInfo, err := meshcore.DecodeDeviceInfo(devPayload)
	if err != nil {
		return selfInfo, meshcore.DeviceInfo{}, err
	}

	return selfInfo, deviceInfo, nil
}

func (s *Supervisor) deviceFromHandshake(ctx context.Context, transport model.TransportKind, address, name string, selfInfo meshcore.SelfInfo, deviceInfo meshcore.DeviceInfo) model.Device {
	dev := model.Device{
		ID:              uuid.New(),
		Transport:       transport,
		Address:         address,
		Name:            name,
		FirmwareVersion: deviceInfo.FirmwareVersion,
		FirmwareBuild:   deviceInfo.FirmwareBuild,
		Manufacturer:    deviceInfo.Manufacturer,
		MaxContacts:     deviceInfo.MaxContacts,
		MaxChannels:     deviceInfo.MaxChannels,
		LastConnectedAt: time.Now(),
	}
	if dev.Name == "" {
		dev.Name = selfInfo.Name
	}
	if devices, err := s.store.ListDevices(ctx); err == nil {
		for _, existing := range devices {
			if existing.Address == address {
				dev.ID = existing.ID
				break
			}
		}
	}
	return dev
}

// syncContacts pulls the full contact list via GET_CONTACTS and upserts
// every entry (spec.md §4.2 "Contact created on advertisement or
// manual add").
func (s *Supervisor) syncContacts(ctx context.Context, deviceID uuid.UUID) error {
	continueFrame := []byte{meshcore.CmdGetContacts}
	wire, err := s.mux.GetContacts(ctx, continueFrame, 10*time.Second)
	if err != nil {
		return err
	}
	for _, w := range wire {
		existing, ok, lookupErr := s.store.ContactByKeyPrefix(ctx, keyPrefix6(w.PublicKey))
		var prior *model.Contact
		if lookupErr == nil && ok {
			prior = &existing
		}
		c := model.ContactFromWire(w, prior)
		c.DeviceID = deviceID
		if err := s.store.SaveContact(ctx, &c); err != nil {
			s.logger.Warn("failed to save synced contact", zap.Error(err))
		}
	}
	return nil
}

func keyPrefix6(pub [32]byte) [6]byte {
	var p [6]byte
	copy(p[:], pub[:6])
	return p
}

// --- AdvertisementHandler (spec.md §4.4 advert/path_updated/new_advert) --

func (s *Supervisor) handleAdvert(payload []byte) {
	ctx := context.Background()
	a, err := meshcore.DecodeAdvert(payload)
	if err != nil {
		s.logger.Debug("malformed advert push", zap.Error(err))
		return
	}
	c, ok, err := s.store.ContactByKeyPrefix(ctx, a.PubkeyPrefix)
	if err != nil || !ok {
		return
	}
	c.LastAdvertTs = a.Timestamp
	if err := s.store.SaveContact(ctx, &c); err != nil {
		s.logger.Warn("failed to persist advert refresh", zap.Error(err))
	}
}

func (s *Supervisor) handlePathUpdated(payload []byte) {
	ctx := context.Background()
	p, err := meshcore.DecodePathUpdated(payload)
	if err != nil {
		s.logger.Debug("malformed path_updated push", zap.Error(err))
		return
	}
	c, ok, err := s.store.ContactByKeyPrefix(ctx, p.PubkeyPrefix)
	if err != nil || !ok {
		return
	}
	c.OutPathLength = p.NewPathLen
	if err := s.store.SaveContact(ctx, &c); err != nil {
		s.logger.Warn("failed to persist path update", zap.Error(err))
	}
}

func (s *Supervisor) handleNewAdvert(payload []byte) {
	ctx := context.Background()
	w, err := meshcore.DecodeContact(payload)
	if err != nil {
		s.logger.Debug("malformed new_advert push", zap.Error(err))
		return
	}
	existing, ok, lookupErr := s.store.ContactByKeyPrefix(ctx, keyPrefix6(w.PublicKey))
	var prior *model.Contact
	if lookupErr == nil && ok {
		prior = &existing
	}
	c := model.ContactFromWire(w, prior)
	s.mu.Lock()
	c.DeviceID = s.device.ID
	s.mu.Unlock()
	if err := s.store.SaveContact(ctx, &c); err != nil {
		s.logger.Warn("failed to persist new advert", zap.Error(err))
	}
}

// --- SendEngine / InboxDrainer / SessionManager notification bridges ----

func (s *Supervisor) handleDelivered(msg model.Message) {
	s.notifier.Send(context.Background(), notify.Event{Kind: notify.KindMessageDelivered, Time: time.Now(), Message: msg})
}

func (s *Supervisor) handleFailed(msg model.Message) {
	s.notifier.Send(context.Background(), notify.Event{Kind: notify.KindMessageFailed, Time: time.Now(), Message: msg})
}

func (s *Supervisor) handleUnknownSender(prefix [6]byte) {
	s.notifier.Send(context.Background(), notify.Event{Kind: notify.KindUnknownSender, Time: time.Now(), Prefix: prefix})
}

func (s *Supervisor) handleDirectMessage(msg model.Message) {
	s.notifier.Send(context.Background(), notify.Event{Kind: notify.KindDirectMessage, Time: time.Now(), Message: msg})
}

func (s *Supervisor) handleChannelMessage(msg model.Message) {
	s.notifier.Send(context.Background(), notify.Event{Kind: notify.KindChannelMessage, Time: time.Now(), Message: msg})
}

func (s *Supervisor) handleUnsynced(sessionID string) {
	s.notifier.Send(context.Background(), notify.Event{Kind: notify.KindSessionUnsynced, Time: time.Now(), SessionID: sessionID})
	if s.drainer != nil {
		s.drainer.HandleMessagesWaiting()
	}
}

// --- Link disconnect / reconnect bridging (spec.md §4.1, §4.5, §4.7) ----

func (s *Supervisor) handleDisconnect(deviceID string, cause error) {
	s.logger.Warn("link disconnected", zap.String("device", deviceID), zap.Error(cause))
	s.engine.StopAndFailAllPending(context.Background())
}

func (s *Supervisor) handleReconnect(deviceID string) {
	s.logger.Info("link reconnected", zap.String("device", deviceID))
	s.mu.Lock()
	devID := s.device.ID
	s.mu.Unlock()

	ctx := context.Background()
	sessions, err := s.store.ListSessions(ctx, devID)
	if err != nil {
		s.logger.Warn("failed to list sessions for reconnect", zap.Error(err))
		return
	}
	for sid, errLogin := range s.sessions.HandleReconnect(ctx, sessions) {
		if errLogin != nil {
			s.logger.Warn("session re-login failed", zap.String("session", sid), zap.Error(errLogin))
		}
	}

	s.engine.FailAllPending(ctx)
}

// Disconnect tears down the Link and fails any in-flight sends
// (spec.md §4.1 Disconnect cleanup).
func (s *Supervisor) Disconnect() error {
	s.engine.StopAndFailAllPending(context.Background())
	return s.link.Disconnect()
}

// Close releases every owned resource: the Link, the notifier sinks,
// and (if owned here rather than injected) the persistence backends.
func (s *Supervisor) Close() error {
	var first error
	if err := s.Disconnect(); err != nil && first == nil {
		first = err
	}
	if err := s.notifier.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Engine exposes the SendEngine for callers that need send_with_retry
// directly (CLI/TUI).
func (s *Supervisor) Engine() *sendengine.Engine { return s.engine }

// Sessions exposes the SessionManager for CLI session subcommands.
func (s *Supervisor) Sessions() *session.Manager { return s.sessions }

// Mux exposes the RequestMux for operations with no owning component
// (contact CRUD, radio params, battery/storage query).
func (s *Supervisor) Mux() *requestmux.Mux { return s.mux }

// Store exposes the persistence port.
func (s *Supervisor) Store() store.Store { return s.store }

// Device returns the currently connected device record.
func (s *Supervisor) Device() model.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// LinkState reports the underlying Link's connection lifecycle state.
func (s *Supervisor) LinkState() link.State { return s.link.ConnectionState() }
