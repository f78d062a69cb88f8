package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/internal/tui"
)

var (
	dryRun      bool
	interactive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the paired device and keep it synced",
	Long: `Connect to the configured MeshCore device over BLE or serial,
run the handshake and contact sync, and then keep the connection alive:
draining inbound messages, retrying outbound sends, keeping remote-node
sessions logged in, and forwarding notable events to the configured
notify sinks.

Use --interactive or -i to run with the terminal dashboard instead of
waiting silently for Ctrl+C.`,
	RunE: runConnected,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate configuration without connecting")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "run with the terminal dashboard")
}

func runConnected(_ *cobra.Command, _ []string) error {
	logCfg := logging.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}
	if interactive {
		logCfg.Format = "console"
		logCfg.Level = "error"
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		logging.Info("using config file", zap.String("path", cfgFile))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Println("Configuration is valid!")
		fmt.Printf("  Link: %s\n", cfg.Link.Transport)
		enabled := 0
		for _, n := range cfg.Notify {
			if n.Enabled {
				enabled++
			}
		}
		fmt.Printf("  Notify sinks: %d enabled\n", enabled)
		fmt.Printf("  Store backend: %s\n", cfg.Store.Backend)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var sink *tui.EventSink
	if interactive {
		sink = tui.NewEventSink()
	}

	sup, err := newSupervisor(ctx, cfg, sinkAsNotifier(sink)...)
	if err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(); err != nil {
			logging.Error("error closing supervisor", zap.Error(err))
		}
	}()

	if interactive {
		go func() {
			<-sigChan
			cancel()
		}()
		if err := tui.Run(sup, sink); err != nil {
			logging.Error("tui error", zap.Error(err))
		}
		return nil
	}

	logging.Info("companion is running, press Ctrl+C to stop")
	<-sigChan
	logging.Info("received shutdown signal")
	return nil
}
