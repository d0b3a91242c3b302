package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pairlink/internal/crypto"
	"pairlink/internal/domain"
	"pairlink/internal/store"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			xPriv, xPub, err := crypto.GenerateX25519()
			if err != nil {
				return err
			}
			edPriv, edPub, err := crypto.GenerateEd25519()
			if err != nil {
				return err
			}
			id := domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}
			if err := store.NewIdentityFileStore(cfg.Home).SaveIdentity(passphrase, id); err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\n", crypto.FingerprintX25519(xPub))
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of the local identity key",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			fmt.Println(crypto.FingerprintX25519(id.XPub))
			return nil
		},
	}
}
