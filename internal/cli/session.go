package cli

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/logging"
	"github.com/iamruinous/meshcore-companion/internal/model"
	"github.com/iamruinous/meshcore-companion/internal/supervisor"
)

var (
	sessionPassword string
	sessionRoom     bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage room and repeater remote-node sessions",
	Long: `Create, log into, and log out of MeshCore room-server and
repeater-admin sessions, and send authenticated CLI commands to a
repeater once admin permission is granted (spec.md remote-node
sessions).`,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remote-node sessions for the active device",
	RunE:  runSessionList,
}

var sessionLoginCmd = &cobra.Command{
	Use:   "login <contact-hex-pubkey>",
	Short: "Create (if needed) and log into a session with a contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionLogin,
}

var sessionLogoutCmd = &cobra.Command{
	Use:   "logout <contact-hex-pubkey>",
	Short: "Log out of an active session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionLogout,
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <contact-hex-pubkey> <command>",
	Short: "Send an authenticated CLI command to a repeater session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionSend,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionLoginCmd, sessionLogoutCmd, sessionSendCmd)

	sessionLoginCmd.Flags().StringVar(&sessionPassword, "password", "", "session password, stored in the secret backend")
	sessionLoginCmd.Flags().BoolVar(&sessionRoom, "room", false, "create as a room session instead of a repeater session")
}

func withSessionSupervisor(fn func(ctx context.Context, sup *supervisor.Supervisor) error) error {
	logCfg := logging.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	sup, err := newSupervisor(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(); err != nil {
			logging.Error("error closing supervisor", zap.Error(err))
		}
	}()

	return fn(ctx, sup)
}

func runSessionList(_ *cobra.Command, _ []string) error {
	return withSessionSupervisor(func(ctx context.Context, sup *supervisor.Supervisor) error {
		sessions, err := sup.Store().ListSessions(ctx, sup.Device().ID)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%x  role=%-8s  connected=%-5v  permission=%-6s  %s\n",
				s.PublicKey[:6], roleName(s.Role), s.IsConnected, permissionName(s.PermissionLevel), s.Name)
		}
		return nil
	})
}

func runSessionLogin(_ *cobra.Command, args []string) error {
	pubKey, err := parsePublicKey(args[0])
	if err != nil {
		return err
	}
	return withSessionSupervisor(func(ctx context.Context, sup *supervisor.Supervisor) error {
		contact, found, err := sup.Store().ContactByPublicKey(ctx, sup.Device().ID, pubKey)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no known contact with public key %x", pubKey[:6])
		}

		prefix := contact.KeyPrefix()
		existing, found, err := sup.Store().SessionByKeyPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if !found {
			role := model.SessionRoleRepeater
			if sessionRoom {
				role = model.SessionRoleRoom
			}
			existing, err = sup.Sessions().CreateSession(ctx, model.RemoteNodeSession{
				DeviceID:  sup.Device().ID,
				PublicKey: pubKey,
				Role:      role,
				Name:      contact.Name,
			}, sessionPassword)
			if err != nil {
				return fmt.Errorf("failed to create session: %w", err)
			}
		}

		if err := sup.Sessions().Login(ctx, existing, int(contact.OutPathLength), sessionPassword); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Printf("Logged into %s (%x)\n", existing.Name, prefix)
		return nil
	})
}

func runSessionLogout(_ *cobra.Command, args []string) error {
	pubKey, err := parsePublicKey(args[0])
	if err != nil {
		return err
	}
	return withSessionSupervisor(func(ctx context.Context, sup *supervisor.Supervisor) error {
		prefix := sessionPrefix(pubKey)
		s, found, err := sup.Store().SessionByKeyPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no session for public key %x", pubKey[:6])
		}
		if err := sup.Sessions().Logout(ctx, s); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		fmt.Printf("Logged out of %x\n", prefix)
		return nil
	})
}

func runSessionSend(_ *cobra.Command, args []string) error {
	pubKey, err := parsePublicKey(args[0])
	if err != nil {
		return err
	}
	command := args[1]
	return withSessionSupervisor(func(ctx context.Context, sup *supervisor.Supervisor) error {
		prefix := sessionPrefix(pubKey)
		s, found, err := sup.Store().SessionByKeyPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no session for public key %x", pubKey[:6])
		}
		if err := sup.Sessions().SendCLICommand(ctx, s, command); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Println("Command sent.")
		return nil
	})
}

func parsePublicKey(hexKey string) ([32]byte, error) {
	var pub [32]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return pub, fmt.Errorf("invalid hex public key: %w", err)
	}
	if len(raw) != 32 {
		return pub, fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}

func sessionPrefix(pubKey [32]byte) [6]byte {
	var p [6]byte
	copy(p[:], pubKey[:6])
	return p
}

func roleName(r model.SessionRole) string {
	if r == model.SessionRoleRoom {
		return "room"
	}
	return "repeater"
}

func permissionName(p model.PermissionLevel) string {
	switch p {
	case model.PermissionAdmin:
		return "admin"
	case model.PermissionMember:
		return "member"
	default:
		return "guest"
	}
}
