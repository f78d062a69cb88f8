package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/logging"
)

// Fanout sends each Event to every enabled Notifier, logging (rather
// than propagating) individual sink failures so one unreachable
// webhook never blocks delivery confirmation or inbox draining for
// the others.
type Fanout struct {
	sinks  []Notifier
	logger *zap.Logger
}

// NewFanout wraps a set of Notifier sinks.
func NewFanout(sinks ...Notifier) *Fanout {
	return &Fanout{
		sinks:  sinks,
		logger: logging.With(zap.String("component", "notify.fanout")),
	}
}

func (f *Fanout) Send(ctx context.Context, ev Event) {
	for _, s := range f.sinks {
		if !s.Enabled() {
			continue
		}
		if err := s.Send(ctx, ev); err != nil {
			f.logger.Warn("notifier send failed",
				zap.String("sink", s.Name()),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}
}

// Close closes every sink, returning the first error encountered.
func (f *Fanout) Close() error {
	var first error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
