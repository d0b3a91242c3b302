package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pairlink/internal/app"
	"pairlink/internal/domain"
	"pairlink/internal/keyring"
	"pairlink/internal/pairing"
	"pairlink/internal/relay"
	"pairlink/internal/session"
	"pairlink/internal/store"
)

var (
	home       string
	passphrase string
	relayURL   string

	cfg app.Config
	log *zap.Logger
)

// Execute runs the CLI.
func Execute() error {
	root := &cobra.Command{
		Use:   "pairlink",
		Short: "Relay-mediated encrypted pairing and chat CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = app.FromEnv()
			if home != "" {
				cfg.Home = home
			}
			if cfg.Home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				cfg.Home = filepath.Join(dir, ".pairlink")
			}
			if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
				return err
			}
			if relayURL != "" {
				cfg.RelayURL = relayURL
			}
			var err error
			log, err = app.NewLogger(cfg.LogLevel, false)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.pairlink)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity keys")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")

	root.AddCommand(initCmd(), fingerprintCmd(), tokenCmd(), pairCmd(), chatCmd())
	return root.Execute()
}

// loadIdentity decrypts the on-disk identity with the -p passphrase.
func loadIdentity() (domain.Identity, error) {
	if passphrase == "" {
		return domain.Identity{}, fmt.Errorf("passphrase required (-p)")
	}
	return store.NewIdentityFileStore(cfg.Home).LoadIdentity(passphrase)
}

// connect loads the identity, dials the relay, and assembles the engine.
func connect(ctx context.Context, approver pairing.Approver, sink session.Sink) (*app.Wire, *keyring.Keyring, error) {
	id, err := loadIdentity()
	if err != nil {
		return nil, nil, err
	}
	clientID := domain.ClientID(uuid.NewString())
	rc, err := relay.DialWS(ctx, cfg.RelayURL, clientID, id, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to relay: %w", err)
	}
	return app.NewWire(cfg, rc, approver, sink, log), keyring.New(id), nil
}
