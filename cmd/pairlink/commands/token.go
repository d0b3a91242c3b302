package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pairlink/internal/authtoken"
)

// tokenCmd signs a relay auth token for a given nonce. Useful for
// inspecting the auth boundary without opening a connection.
func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <nonce>",
		Short: "Issue a signed relay auth token for a nonce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			tok, err := authtoken.Issue(args[0], id)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}
