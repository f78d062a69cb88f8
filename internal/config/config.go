// Package config provides configuration types and loading for the
// companion service: which device to connect to, SendEngine retry
// tuning, persistence/secret backend selection, notify outputs, and
// logging. Grounded on the teacher's internal/config (mapstructure tags
// + viper.Get, a DefaultConfig()/Validate() pair).
package config

import "time"

// Config represents the complete application configuration.
type Config struct {
	Link       LinkConfig       `mapstructure:"link"`
	SendEngine SendEngineConfig `mapstructure:"send_engine"`
	Store      StoreConfig      `mapstructure:"store"`
	Secret     SecretConfig     `mapstructure:"secret"`
	Notify     []NotifyConfig   `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// LinkConfig selects the transport used to reach the paired device.
type LinkConfig struct {
	Transport string       `mapstructure:"transport"` // ble, serial
	BLE       BLEConfig    `mapstructure:"ble"`
	Serial    SerialConfig `mapstructure:"serial"`
}

// BLEConfig defines BLE central connection settings.
type BLEConfig struct {
	Address string `mapstructure:"address"`
}

// SerialConfig defines serial port connection settings.
type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

// SendEngineConfig tunes retry/flood/timeout behavior (spec.md §4.5,
// §4.9 defaults). Zero values fall back to sendengine.DefaultConfig.
type SendEngineConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	MaxFloodAttempts  int           `mapstructure:"max_flood_attempts"`
	FloodAfter        int           `mapstructure:"flood_after"`
	MinTimeout        time.Duration `mapstructure:"min_timeout"`
	BackoffPerAttempt time.Duration `mapstructure:"backoff_per_attempt"`
	ReaperInterval    time.Duration `mapstructure:"reaper_interval"`
	DeliveredGrace    time.Duration `mapstructure:"delivered_grace"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"` // sqlite, memory
	SQLitePath string `mapstructure:"sqlite_path"`
}

// SecretConfig selects the credential backend.
type SecretConfig struct {
	Backend string `mapstructure:"backend"` // keyring, memory
}

// NotifyConfig defines a single notification sink.
type NotifyConfig struct {
	Type    string                 `mapstructure:"type"` // stdout, file, apprise, webhook, mqtt
	Enabled bool                   `mapstructure:"enabled"`
	Options map[string]interface{} `mapstructure:",remain"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Transport: "ble",
			Serial: SerialConfig{
				Port: "/dev/ttyUSB0",
				Baud: 115200,
			},
		},
		SendEngine: SendEngineConfig{
			MaxAttempts:       3,
			MaxFloodAttempts:  2,
			FloodAfter:        2,
			MinTimeout:        5 * time.Second,
			BackoffPerAttempt: 200 * time.Millisecond,
			ReaperInterval:    5 * time.Second,
			DeliveredGrace:    60 * time.Second,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: "~/.local/share/meshcore-companion/companion.db",
		},
		Secret: SecretConfig{
			Backend: "keyring",
		},
		Notify: []NotifyConfig{
			{
				Type:    "stdout",
				Enabled: true,
				Options: map[string]interface{}{
					"format": "text",
				},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
