// Package session implements the SessionManager: login/keep-alive/logout
// lifecycle for room and repeater remote-node sessions, and reconnect
// handling (spec.md §4.7).
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/requestmux"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// ErrNotConnected mirrors link.ErrNotConnected for login callers.
var ErrNotConnected = link.ErrNotConnected

// ErrCancelled is returned to a login continuation superseded by a
// duplicate login for the same prefix, or cancelled by its caller
// (spec.md §4.7, §5 Cancellation).
var ErrCancelled = errors.New("session: cancelled")

// ErrNotAuthorized is returned by SendCLICommand when the session is not
// a repeater with admin permission (spec.md §4.7).
var ErrNotAuthorized = errors.New("session: requires repeater session with admin permission")

// KeepAliveInterval is the fixed keep-alive tick for room sessions
// (spec.md §4.7, resolved Open Question: no per-session override).
const KeepAliveInterval = 90 * time.Second

// MaxLoginTimeout caps the path-length-scaled login timeout
// (spec.md §5 Timeouts).
const MaxLoginTimeout = 60 * time.Second

// Persister is the subset of the persistence port SessionManager needs.
type Persister interface {
	SaveSession(ctx context.Context, s *model.RemoteNodeSession) error
	SessionByKeyPrefix(ctx context.Context, prefix [6]byte) (model.RemoteNodeSession, bool, error)
}

// Secret stores/retrieves session passwords (spec.md §4.9).
type Secret interface {
	StorePassword(ctx context.Context, key, secret string) error
	RetrievePassword(ctx context.Context, key string) (string, bool, error)
	DeletePassword(ctx context.Context, key string) error
}

// ContactPathLookup resolves a contact's current out_path_length, used
// to skip keep-alive ticks while flood-routed (spec.md §4.7).
type ContactPathLookup interface {
	OutPathLength(ctx context.Context, publicKey [32]byte) (int8, bool)
}

// UnsyncedHandler is invoked when a keep-alive ACK reports
// unsynced_count > 0, typically triggering an inbox drain.
type UnsyncedHandler func(sessionID string)

type pendingLogin struct {
	resultCh chan loginOutcome
}

type loginOutcome struct {
	success bool
	acl     uint8
	err     error
}

// Manager implements spec.md §4.7.
type Manager struct {
	mux       *requestmux.Mux
	persister Persister
	secret    Secret
	contacts  ContactPathLookup
	onUnsynced UnsyncedHandler
	logger    *zap.Logger

	mu            sync.Mutex
	pendingLogins map[[6]byte]*pendingLogin
	keepAlives    map[[6]byte]context.CancelFunc
	reconnecting  bool

	// lastKeepAlive is the session ID of the most recently sent
	// keep-alive request. The Link serializes command/response pairs
	// (spec.md §5 Ordering guarantees), so the BINARY_RESPONSE push
	// following a keep-alive send always correlates to this session;
	// HandleBinaryResponse uses it so the Supervisor can wire the
	// Router's generic BinaryResponse handler without tracking
	// per-request correlation itself.
	lastKeepAlive string
}

// New creates a Manager.
func New(mux *requestmux.Mux, persister Persister, secret Secret, contacts ContactPathLookup, onUnsynced UnsyncedHandler) *Manager {
	return &Manager{
		mux:           mux,
		persister:     persister,
		secret:        secret,
		contacts:      contacts,
		onUnsynced:    onUnsynced,
		logger:        logging.With(zap.String("component", "session")),
		pendingLogins: make(map[[6]byte]*pendingLogin),
		keepAlives:    make(map[[6]byte]context.CancelFunc),
	}
}

// CreateSession persists a new session record and optionally stores its
// password in the secret port (spec.md §4.7 Create session).
func (m *Manager) CreateSession(ctx context.Context, s model.RemoteNodeSession, password string) (model.RemoteNodeSession, error) {
	if err := m.persister.SaveSession(ctx, &s); err != nil {
		return model.RemoteNodeSession{}, err
	}
	if password != "" {
		if err := m.secret.StorePassword(ctx, secretKey(s), password); err != nil {
			return model.RemoteNodeSession{}, err
		}
	}
	return s, nil
}

func secretKey(s model.RemoteNodeSession) string {
	return "session:" + s.ID.String()
}

// Login implements spec.md §4.7 Login: requires Link ready, sends
// SEND_LOGIN, expects a sent response, then waits for a login_result
// push tagged by the session's key prefix.
func (m *Manager) Login(ctx context.Context, s model.RemoteNodeSession, pathLength int, password string) error {
	if m.mux.LinkState() != link.StateReady {
		return ErrNotConnected
	}

	prefix := s.KeyPrefix()
	pending := &pendingLogin{resultCh: make(chan loginOutcome, 1)}

	m.mu.Lock()
	if old, exists := m.pendingLogins[prefix]; exists {
		select {
		case old.resultCh <- loginOutcome{err: ErrCancelled}:
		default:
		}
	}
	m.pendingLogins[prefix] = pending
	m.mu.Unlock()

	frame := meshcore.EncodeSendLogin(s.PublicKey, password)
	if _, err := m.mux.Do(ctx, frame, link.SendOptions{}, meshcore.RespSent); err != nil {
		m.clearPendingLogin(prefix, pending)
		return err
	}

	timeout := loginTimeout(pathLength)
	select {
	case outcome := <-pending.resultCh:
		if outcome.err != nil {
			return outcome.err
		}
		if outcome.success {
			s.IsConnected = true
			s.PermissionLevel = model.PermissionFromACL(outcome.acl)
			if err := m.persister.SaveSession(ctx, &s); err != nil {
				return err
			}
			if s.Role == model.SessionRoleRoom {
				m.startKeepAlive(s)
			}
			return nil
		}
		return errors.New("session: login rejected")
	case <-time.After(timeout):
		m.clearPendingLogin(prefix, pending)
		return ErrNotConnected
	case <-ctx.Done():
		m.clearPendingLogin(prefix, pending)
		return ErrCancelled
	}
}

func loginTimeout(pathLength int) time.Duration {
	t := time.Duration(5+10*pathLength) * time.Second
	if t > MaxLoginTimeout {
		return MaxLoginTimeout
	}
	return t
}

func (m *Manager) clearPendingLogin(prefix [6]byte, pending *pendingLogin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingLogins[prefix] == pending {
		delete(m.pendingLogins, prefix)
	}
}

// HandleLoginResult processes a login_result push: [prefix:6][success:1][acl:1]
// (spec.md §4.7).
func (m *Manager) HandleLoginResult(payload []byte) {
	result, err := meshcore.DecodeLoginResult(payload)
	if err != nil {
		m.logger.Debug("malformed login_result", zap.Error(err))
		return
	}

	m.mu.Lock()
	pending, ok := m.pendingLogins[result.PubkeyPrefix]
	if ok {
		delete(m.pendingLogins, result.PubkeyPrefix)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("login_result for unknown prefix, ignoring")
		return
	}
	select {
	case pending.resultCh <- loginOutcome{success: result.Success, acl: result.ACL}:
	default:
	}
}

// startKeepAlive launches the 90s keep-alive ticker for a room session
// (spec.md §4.7 Keep-alive).
func (m *Manager) startKeepAlive(s model.RemoteNodeSession) {
	prefix := s.KeyPrefix()
	m.mu.Lock()
	if cancel, exists := m.keepAlives[prefix]; exists {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.keepAlives[prefix] = cancel
	m.mu.Unlock()

	go m.keepAliveLoop(ctx, s)
}

func (m *Manager) keepAliveLoop(ctx context.Context, s model.RemoteNodeSession) {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.keepAliveTick(ctx, s)
		}
	}
}

func (m *Manager) keepAliveTick(ctx context.Context, s model.RemoteNodeSession) {
	if pathLen, ok := m.contacts.OutPathLength(ctx, s.PublicKey); ok && pathLen < 0 {
		return
	}

	m.mu.Lock()
	m.lastKeepAlive = s.ID.String()
	m.mu.Unlock()

	frame := meshcore.EncodeBinaryReq(s.PublicKey, meshcore.BinReqKeepAlive)
	_, err := m.mux.Do(ctx, frame, link.SendOptions{}, meshcore.RespSent)
	if err != nil {
		m.logger.Debug("keep-alive send failed", zap.Error(err))
	}
}

// HandleBinaryResponse is the Router's BINARY_RESPONSE push handler. It
// attributes the response to the session whose keep-alive was most
// recently sent (spec.md §4.4 "binary_response -> SessionManager"), the
// only binary_response correlation this spec's wire format supports.
func (m *Manager) HandleBinaryResponse(payload []byte) {
	m.mu.Lock()
	sessionID := m.lastKeepAlive
	m.mu.Unlock()
	if sessionID == "" {
		return
	}
	m.HandleKeepAliveAck(sessionID, payload)
}

// HandleKeepAliveAck processes the keep-alive ACK push
// ([ack_hash:4][unsynced_count:1]); unsynced_count > 0 notifies the
// upper layer, which will typically trigger an inbox drain (spec.md
// §4.7).
func (m *Manager) HandleKeepAliveAck(sessionID string, payload []byte) {
	ack, err := meshcore.DecodeKeepAliveAck(payload)
	if err != nil {
		m.logger.Debug("malformed keep-alive ack", zap.Error(err))
		return
	}
	if ack.UnsyncedCount > 0 && m.onUnsynced != nil {
		m.onUnsynced(sessionID)
	}
}

// Logout cancels keep-alive and sends CMD_LOGOUT best-effort, marking
// the session disconnected regardless of the radio's reply (spec.md
// §4.7 Logout).
func (m *Manager) Logout(ctx context.Context, s model.RemoteNodeSession) error {
	prefix := s.KeyPrefix()
	m.mu.Lock()
	if cancel, exists := m.keepAlives[prefix]; exists {
		cancel()
		delete(m.keepAlives, prefix)
	}
	m.mu.Unlock()

	frame := meshcore.EncodeLogout(s.PublicKey)
	_, _ = m.mux.Do(ctx, frame, link.SendOptions{})

	s.IsConnected = false
	return m.persister.SaveSession(ctx, &s)
}

// SendCLICommand implements spec.md §4.7's CLI command path: only
// repeater sessions with admin permission may send CLI text.
func (m *Manager) SendCLICommand(ctx context.Context, s model.RemoteNodeSession, command string) error {
	if s.Role != model.SessionRoleRepeater || s.PermissionLevel != model.PermissionAdmin {
		return ErrNotAuthorized
	}
	frame, err := meshcore.EncodeSendTextMsg(meshcore.TextTypeCLIData, 0, uint32(time.Now().Unix()), s.KeyPrefix(), command)
	if err != nil {
		return err
	}
	_, err = m.mux.Do(ctx, frame, link.SendOptions{}, meshcore.RespSent)
	return err
}

// HandleReconnect implements spec.md §4.7 Reconnect: guarded by a
// reentrancy flag, re-logs-in every session previously marked
// is_connected=true in parallel; per-session failures are recorded and
// the session is marked disconnected.
func (m *Manager) HandleReconnect(ctx context.Context, sessions []model.RemoteNodeSession) map[string]error {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return nil
	}
	m.reconnecting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	results := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, s := range sessions {
		if !s.IsConnected {
			continue
		}
		wg.Add(1)
		go func(s model.RemoteNodeSession) {
			defer wg.Done()
			password, _, err := m.secret.RetrievePassword(ctx, secretKey(s))
			if err != nil {
				m.logger.Debug("failed to retrieve stored session password", zap.String("session", s.ID.String()), zap.Error(err))
			}
			err = m.Login(ctx, s, 0, password)
			mu.Lock()
			results[s.ID.String()] = err
			mu.Unlock()
			if err != nil {
				s.IsConnected = false
				_ = m.persister.SaveSession(ctx, &s)
			}
		}(s)
	}
	wg.Wait()
	return results
}
