package cli

import (
	"context"
	"fmt"

	"github.com/iamruinous/meshcore-companion/internal/config"
	"github.com/iamruinous/meshcore-companion/internal/link"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/notify"
	"github.com/iamruinous/meshcore-companion/internal/secret"
	"github.com/iamruinous/meshcore-companion/internal/store"
	"github.com/iamruinous/meshcore-companion/internal/supervisor"
	"github.com/iamruinous/meshcore-companion/internal/tui"
)

// loadConfig loads and validates the configuration, used by every
// subcommand that needs a Supervisor.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured persistence backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		st, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return st, nil
	}
}

// openSecret opens the configured credential backend.
func openSecret(cfg *config.Config) secret.Secret {
	if cfg.Secret.Backend == "memory" {
		return secret.NewMemory()
	}
	return secret.NewKeyring()
}

// buildNotifier constructs a Fanout over every configured, constructible
// notify sink. A sink that fails to construct (e.g. a webhook with no
// URL) is logged and skipped rather than aborting startup, matching the
// teacher's "bad output config shouldn't kill the whole relay" posture.
func buildNotifier(cfg *config.Config, extra ...notify.Notifier) notify.Notifier {
	sinks := append([]notify.Notifier(nil), extra...)
	for _, nc := range cfg.ToNotifyConfigs() {
		n, err := notify.New(nc)
		if err != nil {
			fmt.Printf("warning: skipping notify sink %q: %v\n", nc.Type, err)
			continue
		}
		sinks = append(sinks, n)
	}
	return notify.NewFanout(sinks...)
}

// buildLink constructs the configured transport Link.
func buildLink(cfg *config.Config) (link.Link, error) {
	switch cfg.Link.Transport {
	case "serial":
		return link.NewSerialLink(link.SerialConfig{
			Port: cfg.Link.Serial.Port,
			Baud: cfg.Link.Serial.Baud,
		}), nil
	case "ble":
		return link.NewBLELink(link.BLEConfig{}), nil
	default:
		return nil, fmt.Errorf("unsupported link.transport: %s", cfg.Link.Transport)
	}
}

// deviceAddress resolves the address/port string Connect expects for
// the configured transport.
func deviceAddress(cfg *config.Config) (model.TransportKind, string) {
	if cfg.Link.Transport == "serial" {
		return model.TransportSerial, cfg.Link.Serial.Port
	}
	return model.TransportBLE, cfg.Link.BLE.Address
}

// newSupervisor wires a Supervisor from cfg and connects it to the
// configured device. extraNotify is additional sinks (e.g. the TUI's
// EventSink) folded into the Fanout alongside the configured ones.
func newSupervisor(ctx context.Context, cfg *config.Config, extraNotify ...notify.Notifier) (*supervisor.Supervisor, error) {
	return newNamedSupervisor(ctx, cfg, "", extraNotify...)
}

// newNamedSupervisor is newSupervisor with an explicit device name,
// used by pair to let the operator override the radio's own name.
func newNamedSupervisor(ctx context.Context, cfg *config.Config, name string, extraNotify ...notify.Notifier) (*supervisor.Supervisor, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	sec := openSecret(cfg)
	l, err := buildLink(cfg)
	if err != nil {
		return nil, err
	}

	notifier := buildNotifier(cfg, extraNotify...)

	sup := supervisor.New(l, st, sec, supervisor.Config{
		SendEngine: cfg.SendEngine.ToSendEngineConfig(),
		Notifier:   notifier,
	})

	transport, address := deviceAddress(cfg)
	if address == "" {
		return nil, fmt.Errorf("no device address configured for transport %v; set link.ble.address or link.serial.port", transport)
	}
	if _, err := sup.Connect(ctx, transport, address, name); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return sup, nil
}

// sinkAsNotifier wraps a possibly-nil *tui.EventSink into a
// notify.Notifier slice, so callers can splice it into newSupervisor's
// variadic extraNotify without handing it a non-nil interface wrapping
// a nil pointer.
func sinkAsNotifier(sink *tui.EventSink) []notify.Notifier {
	if sink == nil {
		return nil
	}
	return []notify.Notifier{sink}
}
