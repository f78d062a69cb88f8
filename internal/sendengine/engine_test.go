package sendengine

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
	mu                  sync.Mutex
	messages            []model.Message
	heardRepeatsCalls   []uuid.UUID
}

func (p *fakePersister) SaveMessage(ctx context.Context, msg *model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, *msg)
	return nil
}

func (p *fakePersister) IncrementHeardRepeats(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heardRepeatsCalls = append(p.heardRepeatsCalls, id)
	return nil
}

func (p *fakePersister) heardRepeatsCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heardRepeatsCalls)
}

type fakeResetter struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeResetter) ResetPath(ctx context.Context, contact model.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func testContact() model.Contact {
	return model.Contact{ID: uuid.New(), DeviceID: uuid.New(), Type: model.ContactTypeChat}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.MinTimeout = 50 * time.Millisecond
	cfg.BackoffPerAttempt = time.Millisecond
	cfg.ReaperInterval = 20 * time.Millisecond
	cfg.DeliveredGrace = 30 * time.Millisecond
	return cfg
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func sentFrame(isFlood bool, ackCode uint32, timeoutMs uint32) []byte {
	floodByte := byte(0)
	if isFlood {
		floodByte = 1
	}
	out := []byte{meshcore.RespSent, floodByte}
	out = append(out, encodeU32(ackCode)...)
	out = append(out, encodeU32(timeoutMs)...)
	return out
}

func TestSendWithRetryDeliveredFirstAttemptReal(t *testing.T) {
	fl := link.NewFakeLink()
	ackCode := uint32(0x000003E9)
	fl.Responder = func(frame []byte) ([]byte, error) {
		return sentFrame(false, ackCode, 50), nil
	}
	mux := requestmux.New(fl)
	persister := &fakePersister{}
	resetter := &fakeResetter{}
	engine := New(mux, persister, resetter, fastConfig())

	contact := testContact()
	go func() {
		time.Sleep(10 * time.Millisecond)
		engine.HandleSendConfirmed(append(encodeU32(ackCode), encodeU32(250)...))
	}()

	msg, err := engine.SendWithRetry(context.Background(), contact, "hello", model.TextTypePlain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Status != model.StatusDelivered {
		t.Errorf("expected delivered, got %v", msg.Status)
	}
	if msg.RoundTripMs == nil || *msg.RoundTripMs != 250 {
		t.Errorf("expected round trip 250, got %v", msg.RoundTripMs)
	}
	if len(fl.SentFrames()) != 1 {
		t.Errorf("expected exactly 1 frame sent, got %d", len(fl.SentFrames()))
	}
}

func TestSendWithRetryEscalatesToFlood(t *testing.T) {
	fl := link.NewFakeLink()
	ackCode := uint32(0x000003EC)
	attempt := 0
	fl.Responder = func(frame []byte) ([]byte, error) {
		attempt++
		if attempt < 3 {
			return nil, nil // timeout
		}
		return sentFrame(true, ackCode, 20), nil
	}
	mux := requestmux.New(fl)
	persister := &fakePersister{}
	resetter := &fakeResetter{}
	engine := New(mux, persister, resetter, fastConfig())

	contact := testContact()
	go func() {
		time.Sleep(5 * time.Millisecond)
		engine.HandleSendConfirmed(append(encodeU32(ackCode), encodeU32(10)...))
	}()

	msg, err := engine.SendWithRetry(context.Background(), contact, "hello", model.TextTypePlain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Status != model.StatusDelivered {
		t.Errorf("expected delivered, got %v", msg.Status)
	}
	if msg.AttemptCount != 3 {
		t.Errorf("expected attempt_count 3, got %d", msg.AttemptCount)
	}
	if resetter.calls != 1 {
		t.Errorf("expected exactly 1 reset_path call, got %d", resetter.calls)
	}
}

func TestSendWithRetryFullFailure(t *testing.T) {
	fl := link.NewFakeLink()
	fl.Responder = func(frame []byte) ([]byte, error) { return nil, nil }
	mux := requestmux.New(fl)
	persister := &fakePersister{}
	resetter := &fakeResetter{}
	engine := New(mux, persister, resetter, fastConfig())

	var failedCalled int
	engine.OnFailed(func(m model.Message) { failedCalled++ })

	contact := testContact()
	msg, err := engine.SendWithRetry(context.Background(), contact, "hello", model.TextTypePlain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Status != model.StatusFailed {
		t.Errorf("expected failed, got %v", msg.Status)
	}
	if len(fl.SentFrames()) != 3 {
		t.Errorf("expected 3 frames sent, got %d", len(fl.SentFrames()))
	}
	if resetter.calls != 1 {
		t.Errorf("expected 1 reset_path call, got %d", resetter.calls)
	}
}

func TestSendWithRetryInvalidRecipient(t *testing.T) {
	fl := link.NewFakeLink()
	mux := requestmux.New(fl)
	engine := New(mux, &fakePersister{}, &fakeResetter{}, fastConfig())

	contact := testContact()
	contact.Type = model.ContactTypeRepeater
	_, err := engine.SendWithRetry(context.Background(), contact, "hi", model.TextTypePlain)
	if err != ErrInvalidRecipient {
		t.Errorf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestSendWithRetryNotConnected(t *testing.T) {
	fl := link.NewFakeLink()
	fl.SetState(link.StateDisconnected)
	mux := requestmux.New(fl)
	engine := New(mux, &fakePersister{}, &fakeResetter{}, fastConfig())

	contact := testContact()
	msg, err := engine.SendWithRetry(context.Background(), contact, "hi", model.TextTypePlain)
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if msg.Status != model.StatusFailed {
		t.Errorf("expected failed status, got %v", msg.Status)
	}
}

func TestHandleSendConfirmedUnknownCodeIgnored(t *testing.T) {
	fl := link.NewFakeLink()
	mux := requestmux.New(fl)
	engine := New(mux, &fakePersister{}, &fakeResetter{}, fastConfig())
	engine.HandleSendConfirmed(append(encodeU32(999), encodeU32(1)...))
	if engine.PendingCount() != 0 {
		t.Error("expected no pending entries")
	}
}

func TestHandleSendConfirmedDuplicateIncrementsHeardRepeats(t *testing.T) {
	fl := link.NewFakeLink()
	ackCode := uint32(42)
	fl.Responder = func(frame []byte) ([]byte, error) {
		return sentFrame(false, ackCode, 10000), nil
	}
	mux := requestmux.New(fl)
	persister := &fakePersister{}
	engine := New(mux, persister, &fakeResetter{}, fastConfig())

	delivered := make(chan struct{})
	engine.OnDelivered(func(m model.Message) { close(delivered) })

	go func() {
		_, _ = engine.SendWithRetry(context.Background(), testContact(), "hi", model.TextTypePlain)
	}()

	time.Sleep(5 * time.Millisecond)
	engine.HandleSendConfirmed(append(encodeU32(ackCode), encodeU32(100)...))
	<-delivered
	if persister.heardRepeatsCount() != 0 {
		t.Errorf("expected no heard-repeats increment for the first ack, got %d", persister.heardRepeatsCount())
	}

	// A second confirmation for the same code is a duplicate: it must
	// not panic, and must persist the heard-repeats bump.
	engine.HandleSendConfirmed(append(encodeU32(ackCode), encodeU32(100)...))
	time.Sleep(5 * time.Millisecond)
	if persister.heardRepeatsCount() != 1 {
		t.Errorf("expected one heard-repeats increment persisted, got %d", persister.heardRepeatsCount())
	}
}

func TestStopAndFailAllPending(t *testing.T) {
	fl := link.NewFakeLink()
	fl.Responder = func(frame []byte) ([]byte, error) {
		return sentFrame(false, 7, 100000), nil
	}
	mux := requestmux.New(fl)
	engine := New(mux, &fakePersister{}, &fakeResetter{}, fastConfig())

	go func() {
		_, _ = engine.SendWithRetry(context.Background(), testContact(), "hi", model.TextTypePlain)
	}()
	time.Sleep(5 * time.Millisecond)
	if engine.PendingCount() == 0 {
		t.Fatal("expected a pending entry before stopping")
	}
	engine.StopAndFailAllPending(context.Background())
	if engine.PendingCount() != 0 {
		t.Error("expected pending table cleared")
	}
}
