package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/iamruinous/meshcore-companion/internal/notify"
	"github.com/iamruinous/meshcore-companion/internal/sendengine"
)

// Load reads the configuration from viper and returns a Config struct.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	cfg.Link.Transport = viper.GetString("link.transport")
	if cfg.Link.Transport == "" {
		cfg.Link.Transport = "ble"
	}
	cfg.Link.BLE.Address = viper.GetString("link.ble.address")
	cfg.Link.Serial.Port = viper.GetString("link.serial.port")
	cfg.Link.Serial.Baud = viper.GetInt("link.serial.baud")
	if cfg.Link.Serial.Baud == 0 {
		cfg.Link.Serial.Baud = 115200
	}

	if v := viper.GetInt("send_engine.max_attempts"); v != 0 {
		cfg.SendEngine.MaxAttempts = v
	}
	if v := viper.GetInt("send_engine.max_flood_attempts"); v != 0 {
		cfg.SendEngine.MaxFloodAttempts = v
	}
	if v := viper.GetInt("send_engine.flood_after"); v != 0 {
		cfg.SendEngine.FloodAfter = v
	}
	if v := viper.GetDuration("send_engine.min_timeout"); v != 0 {
		cfg.SendEngine.MinTimeout = v
	}
	if v := viper.GetDuration("send_engine.backoff_per_attempt"); v != 0 {
		cfg.SendEngine.BackoffPerAttempt = v
	}
	if v := viper.GetDuration("send_engine.reaper_interval"); v != 0 {
		cfg.SendEngine.ReaperInterval = v
	}
	if v := viper.GetDuration("send_engine.delivered_grace"); v != 0 {
		cfg.SendEngine.DeliveredGrace = v
	}

	cfg.Store.Backend = viper.GetString("store.backend")
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if p := viper.GetString("store.sqlite_path"); p != "" {
		cfg.Store.SQLitePath = p
	}

	cfg.Secret.Backend = viper.GetString("secret.backend")
	if cfg.Secret.Backend == "" {
		cfg.Secret.Backend = "keyring"
	}

	if notifyRaw := viper.Get("notify"); notifyRaw != nil {
		if entries, ok := notifyRaw.([]interface{}); ok {
			cfg.Notify = make([]NotifyConfig, 0, len(entries))
			for _, entry := range entries {
				if m, ok := entry.(map[string]interface{}); ok {
					cfg.Notify = append(cfg.Notify, NotifyConfig{
						Type:    getString(m, "type"),
						Enabled: getBool(m, "enabled"),
						Options: m,
					})
				}
			}
		}
	}

	cfg.Logging.Level = viper.GetString("logging.level")
	cfg.Logging.Format = viper.GetString("logging.format")
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Link.Transport {
	case "ble":
		if c.Link.BLE.Address == "" {
			return fmt.Errorf("link.ble.address is required for ble transport")
		}
	case "serial":
		if c.Link.Serial.Port == "" {
			return fmt.Errorf("link.serial.port is required for serial transport")
		}
	case "":
		return fmt.Errorf("link.transport is required")
	default:
		return fmt.Errorf("invalid link.transport: %s (must be ble or serial)", c.Link.Transport)
	}

	switch c.Store.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid store.backend: %s (must be sqlite or memory)", c.Store.Backend)
	}

	switch c.Secret.Backend {
	case "keyring", "memory":
	default:
		return fmt.Errorf("invalid secret.backend: %s (must be keyring or memory)", c.Secret.Backend)
	}

	enabledNotify := 0
	for i, n := range c.Notify {
		if n.Enabled {
			enabledNotify++
		}
		if n.Type == "" {
			return fmt.Errorf("notify[%d].type is required", i)
		}
		switch n.Type {
		case "stdout", "file", "apprise", "webhook", "mqtt":
		default:
			return fmt.Errorf("notify[%d].type is invalid: %s", i, n.Type)
		}
	}
	if len(c.Notify) > 0 && enabledNotify == 0 {
		return fmt.Errorf("at least one notify sink must be enabled")
	}

	return nil
}

// ToSendEngineConfig converts to sendengine.Config, falling back to
// sendengine.DefaultConfig for any zero fields.
func (c SendEngineConfig) ToSendEngineConfig() sendengine.Config {
	def := sendengine.DefaultConfig()
	out := sendengine.Config{
		MaxAttempts:       c.MaxAttempts,
		MaxFloodAttempts:  c.MaxFloodAttempts,
		FloodAfter:        c.FloodAfter,
		MinTimeout:        c.MinTimeout,
		BackoffPerAttempt: c.BackoffPerAttempt,
		ReaperInterval:    c.ReaperInterval,
		DeliveredGrace:    c.DeliveredGrace,
	}
	if out.MaxAttempts == 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.MaxFloodAttempts == 0 {
		out.MaxFloodAttempts = def.MaxFloodAttempts
	}
	if out.FloodAfter == 0 {
		out.FloodAfter = def.FloodAfter
	}
	if out.MinTimeout == 0 {
		out.MinTimeout = def.MinTimeout
	}
	if out.BackoffPerAttempt == 0 {
		out.BackoffPerAttempt = def.BackoffPerAttempt
	}
	if out.ReaperInterval == 0 {
		out.ReaperInterval = def.ReaperInterval
	}
	if out.DeliveredGrace == 0 {
		out.DeliveredGrace = def.DeliveredGrace
	}
	return out
}

// ToNotifyConfigs converts the configured notify sinks to notify.Config
// values ready for notify.New.
func (c *Config) ToNotifyConfigs() []notify.Config {
	out := make([]notify.Config, 0, len(c.Notify))
	for _, n := range c.Notify {
		out = append(out, notify.Config{
			Type:    n.Type,
			Enabled: n.Enabled,
			Options: n.Options,
		})
	}
	return out
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
