// Package sendengine delivers text messages to single chat contacts with
// automatic retry and flood fallback, resolving each message's terminal
// status from ACK pushes (spec.md §4.5).
package sendengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/requestmux"
	"github.com/iamruinous/meshcore-companion/pkg/meshcore"
)

// ErrInvalidRecipient is returned when send_with_retry targets a contact
// that is not of type chat (spec.md §4.5).
var ErrInvalidRecipient = errors.New("sendengine: recipient is not a chat contact")

// ErrNotConnected mirrors link.ErrNotConnected for callers that only
// import this package.
var ErrNotConnected = link.ErrNotConnected

// ErrTextTooLong is returned when the message body exceeds the 160-byte
// wire cap.
var ErrTextTooLong = errors.New("sendengine: text exceeds maximum length")

// Persister is the subset of the persistence port SendEngine needs: it
// upserts whole Message rows and bumps the heard-repeats counter for
// duplicate ACKs (spec.md §4.8 Persistence port).
type Persister interface {
	SaveMessage(ctx context.Context, msg *model.Message) error
	IncrementHeardRepeats(ctx context.Context, id uuid.UUID) error
}

// PathResetter forces a contact's route into flood mode (RESET_PATH,
// spec.md §4.5 Flood transition).
type PathResetter interface {
	ResetPath(ctx context.Context, contact model.Contact) error
}

// Config tunes the retry/flood/timeout behavior (spec.md §4.5, §4.9
// defaults).
type Config struct {
	MaxAttempts      int
	MaxFloodAttempts int
	FloodAfter       int
	MinTimeout       time.Duration
	BackoffPerAttempt time.Duration
	ReaperInterval   time.Duration
	DeliveredGrace   time.Duration
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		MaxFloodAttempts:  2,
		FloodAfter:        2,
		MinTimeout:        5 * time.Second,
		BackoffPerAttempt: 200 * time.Millisecond,
		ReaperInterval:    5 * time.Second,
		DeliveredGrace:    60 * time.Second,
	}
}

type pendingEntry struct {
	messageID    model.Message
	ackCode      uint32
	sentAt       time.Time
	timeout      time.Duration
	heardRepeats uint32
	delivered    bool
	deliveredAt  time.Time
	retryManaged bool
	ackCh        chan ackResult
}

type ackResult struct {
	roundTripMs uint32
}

// Engine implements spec.md §4.5.
type Engine struct {
	mux       *requestmux.Mux
	persister Persister
	resetter  PathResetter
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[uint32]*pendingEntry

	onDelivered func(model.Message)
	onFailed    func(model.Message)

	stopReaper chan struct{}
	reaperOnce sync.Once
}

// New creates an Engine and starts its expiry reaper goroutine.
func New(mux *requestmux.Mux, persister Persister, resetter PathResetter, cfg Config) *Engine {
	e := &Engine{
		mux:        mux,
		persister:  persister,
		resetter:   resetter,
		cfg:        cfg,
		logger:     logging.With(zap.String("component", "sendengine")),
		pending:    make(map[uint32]*pendingEntry),
		stopReaper: make(chan struct{}),
	}
	go e.reapLoop()
	return e
}

// OnDelivered installs the ack-confirmation handler.
func (e *Engine) OnDelivered(fn func(model.Message)) { e.onDelivered = fn }

// OnFailed installs the message-failed handler.
func (e *Engine) OnFailed(fn func(model.Message)) { e.onFailed = fn }

// SendWithRetry implements send_with_retry (spec.md §4.5).
func (e *Engine) SendWithRetry(ctx context.Context, contact model.Contact, text string, textType model.TextType) (model.Message, error) {
	if len([]byte(text)) > meshcore.MaxTextBytes {
		return model.Message{}, ErrTextTooLong
	}
	if contact.Type != model.ContactTypeChat {
		return model.Message{}, ErrInvalidRecipient
	}

	timestamp := uint32(time.Now().Unix())
	msg := model.NewOutboundMessage(contact.DeviceID, contact.ID, text, textType, timestamp)
	_ = e.persister.SaveMessage(ctx, &msg)

	if e.mux.LinkState() != link.StateReady {
		msg.Status = model.StatusFailed
		_ = e.persister.SaveMessage(ctx, &msg)
		return msg, ErrNotConnected
	}

	isFlood := false
	floodAttempts := 0
	meshKeyPrefix := contact.KeyPrefix()
	meshTextType := meshcore.TextType(textType)

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt == e.cfg.FloodAfter && !isFlood {
			if err := e.resetter.ResetPath(ctx, contact); err != nil {
				e.logger.Debug("reset_path failed, continuing", zap.Error(err))
			}
			isFlood = true
		}
		if isFlood {
			if floodAttempts >= e.cfg.MaxFloodAttempts {
				break
			}
		}

		frame, err := meshcore.EncodeSendTextMsg(meshTextType, uint8(attempt), timestamp, meshKeyPrefix, text)
		if err != nil {
			break
		}

		result, err := e.mux.SendText(ctx, frame, e.cfg.MinTimeout)
		if isFlood {
			floodAttempts++
		}
		if err != nil {
			if ctx.Err() != nil {
				msg.Status = model.StatusFailed
				_ = e.persister.SaveMessage(ctx, &msg)
				return msg, ctx.Err()
			}
			e.sleepBackoff(ctx, attempt)
			continue
		}

		msg.AttemptCount = uint8(attempt + 1)
		ack := result.AckCode
		msg.AckCode = &ack
		msg.Status = model.StatusSent
		_ = e.persister.SaveMessage(ctx, &msg)

		timeout := time.Duration(float64(result.EstimatedTimeoutMs)*1.2) * time.Millisecond
		if timeout < e.cfg.MinTimeout {
			timeout = e.cfg.MinTimeout
		}

		entry := &pendingEntry{
			messageID:    msg,
			ackCode:      result.AckCode,
			sentAt:       time.Now(),
			timeout:      timeout,
			retryManaged: true,
			ackCh:        make(chan ackResult, 1),
		}
		e.mu.Lock()
		e.pending[result.AckCode] = entry
		e.mu.Unlock()

		select {
		case ack := <-entry.ackCh:
			rtt := ack.roundTripMs
			msg.Status = model.StatusDelivered
			msg.RoundTripMs = &rtt
			_ = e.persister.SaveMessage(ctx, &msg)
			if e.onDelivered != nil {
				e.onDelivered(msg)
			}
			return msg, nil
		case <-time.After(timeout):
			e.mu.Lock()
			delete(e.pending, result.AckCode)
			e.mu.Unlock()
		case <-ctx.Done():
			e.mu.Lock()
			delete(e.pending, result.AckCode)
			e.mu.Unlock()
			msg.Status = model.StatusFailed
			_ = e.persister.SaveMessage(ctx, &msg)
			return msg, ctx.Err()
		}
	}

	msg.Status = model.StatusFailed
	_ = e.persister.SaveMessage(ctx, &msg)
	if e.onFailed != nil {
		e.onFailed(msg)
	}
	return msg, nil
}

func (e *Engine) sleepBackoff(ctx context.Context, attempt int) {
	delay := time.Duration(attempt+1) * e.cfg.BackoffPerAttempt
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// HandleSendConfirmed processes a SEND_CONFIRMED push payload
// ({ack_code, round_trip_ms}), matching spec.md §4.5's ACK push handling.
func (e *Engine) HandleSendConfirmed(payload []byte) {
	confirmed, err := meshcore.DecodeSendConfirmed(payload)
	if err != nil {
		e.logger.Debug("malformed send_confirmed", zap.Error(err))
		return
	}

	e.mu.Lock()
	entry, ok := e.pending[confirmed.AckCode]
	if !ok {
		e.mu.Unlock()
		e.logger.Debug("ack for unknown code, ignoring", zap.Uint32("ack_code", confirmed.AckCode))
		return
	}

	if !entry.delivered {
		entry.delivered = true
		entry.heardRepeats = 1
		entry.deliveredAt = time.Now()
		e.mu.Unlock()
		select {
		case entry.ackCh <- ackResult{roundTripMs: confirmed.RttMs}:
		default:
		}
		return
	}

	entry.heardRepeats++
	msgID := entry.messageID.ID
	e.mu.Unlock()

	if err := e.persister.IncrementHeardRepeats(context.Background(), msgID); err != nil {
		e.logger.Warn("failed to persist heard-repeats increment", zap.Error(err))
	}
}

// StopAndFailAllPending implements spec.md §4.5's real-disconnect path:
// cancels the expiry reaper, marks every undelivered entry failed, drops
// the table.
func (e *Engine) StopAndFailAllPending(ctx context.Context) {
	e.reaperOnce.Do(func() { close(e.stopReaper) })
	e.failAllPending(ctx)
}

// FailAllPending implements spec.md §4.5's auto-reconnect-completion
// path: same message effect as StopAndFailAllPending but leaves the
// reaper running, since the radio may have rebooted and will not
// acknowledge messages it no longer tracks.
func (e *Engine) FailAllPending(ctx context.Context) {
	e.failAllPending(ctx)
}

func (e *Engine) failAllPending(ctx context.Context) {
	e.mu.Lock()
	entries := make([]*pendingEntry, 0, len(e.pending))
	for code, entry := range e.pending {
		if !entry.delivered {
			entries = append(entries, entry)
		}
		delete(e.pending, code)
	}
	e.mu.Unlock()

	for _, entry := range entries {
		msg := entry.messageID
		msg.Status = model.StatusFailed
		_ = e.persister.SaveMessage(ctx, &msg)
		if e.onFailed != nil {
			e.onFailed(msg)
		}
	}
}

// reapLoop runs the periodic expiry reaper (spec.md §4.5): entries that
// are not retry_managed, not delivered, and past their timeout are
// failed; delivered entries are cleaned up after DeliveredGrace so
// duplicate ACKs can still be counted.
func (e *Engine) reapLoop() {
	ticker := time.NewTicker(e.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopReaper:
			return
		case <-ticker.C:
			e.reapOnce()
			e.cleanupDelivered()
		}
	}
}

func (e *Engine) reapOnce() {
	now := time.Now()
	e.mu.Lock()
	var expired []*pendingEntry
	for code, entry := range e.pending {
		if !entry.retryManaged && !entry.delivered && now.Sub(entry.sentAt) > entry.timeout {
			expired = append(expired, entry)
			delete(e.pending, code)
		}
	}
	e.mu.Unlock()

	for _, entry := range expired {
		msg := entry.messageID
		msg.Status = model.StatusFailed
		_ = e.persister.SaveMessage(context.Background(), &msg)
		if e.onFailed != nil {
			e.onFailed(msg)
		}
	}
}

// cleanupDelivered removes delivered entries past their timeout plus
// DeliveredGrace, so duplicate ACKs arriving within the grace window can
// still increment heard_repeats (spec.md §9 Open Question: heard-repeats
// accounting after terminal delivery).
func (e *Engine) cleanupDelivered() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for code, entry := range e.pending {
		if entry.delivered && now.Sub(entry.sentAt) > entry.timeout+e.cfg.DeliveredGrace {
			delete(e.pending, code)
		}
	}
}

// PendingCount returns the number of in-flight PendingAck entries, for
// diagnostics and tests.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
