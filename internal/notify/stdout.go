package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Stdout writes events to standard output.
type Stdout struct {
	format  string
	enabled bool
}

// NewStdout creates a new stdout notifier.
func NewStdout(cfg Config) (*Stdout, error) {
	format := "json"
	if f, ok := cfg.Options["format"].(string); ok {
		format = f
	}

	return &Stdout{
		format:  format,
		enabled: cfg.Enabled,
	}, nil
}

func (s *Stdout) Send(ctx context.Context, ev Event) error {
	if s.format == "json" {
		return s.sendJSON(ev)
	}
	return s.sendText(ev)
}

func (s *Stdout) sendJSON(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

func (s *Stdout) sendText(ev Event) error {
	fmt.Fprintf(os.Stdout, "[%s] %s\n", ev.Time.Format("15:04:05"), formatText(ev))
	return nil
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) Name() string { return "stdout" }

func (s *Stdout) Enabled() bool { return s.enabled }
