package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/requestmux"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

type fakePersister struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.RemoteNodeSession
}

func newFakePersister() *fakePersister {
	return &fakePersister{sessions: make(map[uuid.UUID]model.RemoteNodeSession)}
}

func (p *fakePersister) SaveSession(ctx context.Context, s *model.RemoteNodeSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = *s
	return nil
}

func (p *fakePersister) SessionByKeyPrefix(ctx context.Context, prefix [6]byte) (model.RemoteNodeSession, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.KeyPrefix() == prefix {
			return s, true, nil
		}
	}
	return model.RemoteNodeSession{}, false, nil
}

type fakeSecret struct {
	mu    sync.Mutex
	store map[string]string
}

func newFakeSecret() *fakeSecret { return &fakeSecret{store: make(map[string]string)} }

func (s *fakeSecret) StorePassword(ctx context.Context, key, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = secret
	return nil
}

func (s *fakeSecret) RetrievePassword(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.store[key]
	return v, ok, nil
}

func (s *fakeSecret) DeletePassword(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, key)
	return nil
}

type fakeContacts struct {
	pathLength int8
	known      bool
}

func (f *fakeContacts) OutPathLength(ctx context.Context, publicKey [32]byte) (int8, bool) {
	return f.pathLength, f.known
}

func roomSession(pubkey [32]byte) model.RemoteNodeSession {
	return model.RemoteNodeSession{ID: uuid.New(), PublicKey: pubkey, Role: model.SessionRoleRoom}
}

func TestLoginSuccess(t *testing.T) {
	var pubkey [32]byte
	for i := range pubkey {
		pubkey[i] = byte(i)
	}
	s := roomSession(pubkey)
	prefix := s.KeyPrefix()

	fl := link.NewFakeLink()
	fl.Responder = func(frame []byte) ([]byte, error) {
		return []byte{meshcore.RespSent, 0, 1, 0, 0, 0, 0, 0, 0, 0}, nil
	}
	mux := requestmux.New(fl)
	persister := newFakePersister()
	mgr := New(mux, persister, newFakeSecret(), &fakeContacts{}, nil)

	go func() {
		time.Sleep(5 * time.Millisecond)
		payload := append(append([]byte{}, prefix[:]...), 1, 0x02)
		mgr.HandleLoginResult(payload)
	}()

	err := mgr.Login(context.Background(), s, 0, "secret")
	if err != nil {
		t.Fatalf("expected successful login, got %v", err)
	}
	saved, ok, _ := persister.SessionByKeyPrefix(context.Background(), prefix)
	if !ok || !saved.IsConnected {
		t.Errorf("expected session persisted as connected, got %+v", saved)
	}
	if saved.PermissionLevel != model.PermissionAdmin {
		t.Errorf("expected admin permission from ACL 0x02, got %v", saved.PermissionLevel)
	}
}

func TestLoginTimeout(t *testing.T) {
	var pubkey [32]byte
	s := roomSession(pubkey)

	fl := link.NewFakeLink()
	fl.Responder = func(frame []byte) ([]byte, error) {
		return []byte{meshcore.RespSent, 0, 1, 0, 0, 0, 0, 0, 0, 0}, nil
	}
	mux := requestmux.New(fl)
	mgr := New(mux, newFakePersister(), newFakeSecret(), &fakeContacts{}, nil)

	err := mgr.Login(context.Background(), s, -1, "") // negative path length clamps to near-zero timeout
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected from timeout, got %v", err)
	}
}

func TestLoginNotConnected(t *testing.T) {
	fl := link.NewFakeLink()
	fl.SetState(link.StateDisconnected)
	mux := requestmux.New(fl)
	mgr := New(mux, newFakePersister(), newFakeSecret(), &fakeContacts{}, nil)

	err := mgr.Login(context.Background(), roomSession([32]byte{}), 0, "")
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendCLICommandRequiresAdminRepeater(t *testing.T) {
	fl := link.NewFakeLink()
	mux := requestmux.New(fl)
	mgr := New(mux, newFakePersister(), newFakeSecret(), &fakeContacts{}, nil)

	s := model.RemoteNodeSession{Role: model.SessionRoleRoom, PermissionLevel: model.PermissionAdmin}
	if err := mgr.SendCLICommand(context.Background(), s, "status"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized for room session, got %v", err)
	}

	s2 := model.RemoteNodeSession{Role: model.SessionRoleRepeater, PermissionLevel: model.PermissionMember}
	if err := mgr.SendCLICommand(context.Background(), s2, "status"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized for non-admin, got %v", err)
	}
}

func TestSendCLICommandAdminRepeaterAllowed(t *testing.T) {
	fl := link.NewFakeLink()
	fl.Responder = func(frame []byte) ([]byte, error) { return []byte{meshcore.RespSent, 0, 1, 0, 0, 0, 0, 0, 0, 0}, nil }
	mux := requestmux.New(fl)
	mgr := New(mux, newFakePersister(), newFakeSecret(), &fakeContacts{}, nil)

	s := model.RemoteNodeSession{Role: model.SessionRoleRepeater, PermissionLevel: model.PermissionAdmin}
	if err := mgr.SendCLICommand(context.Background(), s, "status"); err != nil {
		t.Errorf("expected command allowed, got %v", err)
	}
}

func TestHandleKeepAliveAckNotifiesOnUnsynced(t *testing.T) {
	fl := link.NewFakeLink()
	mux := requestmux.New(fl)
	var notified string
	mgr := New(mux, newFakePersister(), newFakeSecret(), &fakeContacts{}, func(sessionID string) { notified = sessionID })

	payload := []byte{1, 2, 3, 4, 5}
	mgr.HandleKeepAliveAck("session-1", payload)
	if notified != "session-1" {
		t.Errorf("expected notification for unsynced_count > 0, got %q", notified)
	}
}

func TestHandleKeepAliveAckNoNotifyWhenSynced(t *testing.T) {
	fl := link.NewFakeLink()
	mux := requestmux.New(fl)
	var notified string
	mgr := New(mux, newFakePersister(), newFakeSecret(), &fakeContacts{}, func(sessionID string) { notified = sessionID })

	payload := []byte{1, 2, 3, 4, 0}
	mgr.HandleKeepAliveAck("session-1", payload)
	if notified != "" {
		t.Errorf("expected no notification when unsynced_count is 0, got %q", notified)
	}
}

func TestHandleReconnectUsesStoredPassword(t *testing.T) {
	var pubkey [32]byte
	for i := range pubkey {
		pubkey[i] = byte(i)
	}
	s := roomSession(pubkey)
	s.IsConnected = true
	prefix := s.KeyPrefix()

	fl := link.NewFakeLink()
	var gotPassword string
	fl.Responder = func(frame []byte) ([]byte, error) {
		gotPassword = string(frame[1+32:])
		return []byte{meshcore.RespSent, 0, 1, 0, 0, 0, 0, 0, 0, 0}, nil
	}
	mux := requestmux.New(fl)
	persister := newFakePersister()
	_ = persister.SaveSession(context.Background(), &s)
	secret := newFakeSecret()
	_ = secret.StorePassword(context.Background(), secretKey(s), "storedpw")
	mgr := New(mux, persister, secret, &fakeContacts{}, nil)

	go func() {
		time.Sleep(5 * time.Millisecond)
		payload := append(append([]byte{}, prefix[:]...), 1, 0x00)
		mgr.HandleLoginResult(payload)
	}()

	results := mgr.HandleReconnect(context.Background(), []model.RemoteNodeSession{s})
	if err := results[s.ID.String()]; err != nil {
		t.Fatalf("expected reconnect login to succeed, got %v", err)
	}
	if gotPassword != "storedpw" {
		t.Errorf("expected reconnect login to use stored password %q, got %q", "storedpw", gotPassword)
	}
}

func TestLogoutMarksDisconnected(t *testing.T) {
	fl := link.NewFakeLink()
	fl.Responder = func(frame []byte) ([]byte, error) { return []byte{meshcore.RespOK}, nil }
	mux := requestmux.New(fl)
	persister := newFakePersister()
	mgr := New(mux, persister, newFakeSecret(), &fakeContacts{}, nil)

	s := roomSession([32]byte{1})
	s.IsConnected = true
	if err := mgr.Logout(context.Background(), s); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	saved, ok, _ := persister.SessionByKeyPrefix(context.Background(), s.KeyPrefix())
	if !ok || saved.IsConnected {
		t.Errorf("expected session marked disconnected, got %+v", saved)
	}
}
