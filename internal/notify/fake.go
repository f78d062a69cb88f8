package notify

import (
	"context"
	"sync"
)

// Fake is an in-memory Notifier other packages' tests substitute for
// a real sink, recording every Event it receives.
type Fake struct {
	mu      sync.Mutex
	events  []Event
	enabled bool
}

// NewFake creates an enabled Fake notifier.
func NewFake() *Fake {
	return &Fake{enabled: true}
}

var _ Notifier = (*Fake)(nil)

func (f *Fake) Send(ctx context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *Fake) Close() error { return nil }

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Enabled() bool { return f.enabled }

// Events returns a snapshot of every Event recorded so far.
func (f *Fake) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}
