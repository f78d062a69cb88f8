package notify

import "fmt"

// Config is a single notifier sink's configuration. Options holds the
// sink-specific settings (path, url, format, ...), mirroring the
// teacher's map[string]interface{} "remain" pattern so internal/config
// can decode an arbitrary sink list without a Config variant per type.
type Config struct {
	Type    string // stdout, file, webhook, apprise, mqtt
	Enabled bool
	Options map[string]interface{}
}

// New creates a Notifier based on cfg.Type (spec.md §1, external
// "user-facing notifications" collaborator).
func New(cfg Config) (Notifier, error) {
	switch cfg.Type {
	case "stdout":
		return NewStdout(cfg)
	case "file":
		return NewFile(cfg)
	case "webhook":
		return NewWebhook(cfg)
	case "apprise":
		return NewApprise(cfg)
	case "mqtt":
		return NewMQTT(cfg)
	default:
		return nil, fmt.Errorf("unknown notifier type: %s", cfg.Type)
	}
}
