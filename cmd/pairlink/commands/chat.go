package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pairlink/internal/chat"
	"pairlink/internal/domain"
	"pairlink/internal/keyring"
	"pairlink/internal/relay"
	"pairlink/internal/topic"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send and answer chat invites",
	}
	cmd.AddCommand(chatInviteCmd(), chatAcceptCmd())
	return cmd
}

// chatInviteCmd sends an invite to a peer's long-lived public key (resolved
// externally) and waits for the reply to derive the thread.
func chatInviteCmd() *cobra.Command {
	var (
		message string
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "invite <recipient-public-key-hex>",
		Short: "Invite a peer to an encrypted chat thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			recipient, err := decodeHexKey(args[0])
			if err != nil {
				return err
			}
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			rc, err := relay.DialWS(ctx, cfg.RelayURL, domain.ClientID(uuid.NewString()), id, log)
			if err != nil {
				return err
			}
			defer rc.Close()

			handshake := chat.New(keyring.New(id))
			pending, env, err := handshake.Invite(recipient, message)
			if err != nil {
				return err
			}
			inviteTopic := pending.Invite.InviteTopic
			replies, err := rc.Subscribe(ctx, inviteTopic)
			if err != nil {
				return err
			}
			if err := rc.Publish(ctx, inviteTopic, env); err != nil {
				return err
			}
			fmt.Println("Invite sent; waiting for the reply...")

			deadline := time.After(wait)
			for {
				select {
				case reply, ok := <-replies:
					if !ok {
						return fmt.Errorf("relay connection closed")
					}
					// Our own invite echoes back as type-1; replies are type-0.
					if reply.Version != domain.EnvelopeTypeZero {
						continue
					}
					thread, err := handshake.Complete(&pending, reply)
					if errors.Is(err, chat.ErrInviteRejected) {
						return fmt.Errorf("invite rejected")
					}
					if err != nil {
						return err
					}
					fmt.Printf("Invite accepted. Thread topic: %s\n", thread.ThreadTopic)
					return nil
				case <-deadline:
					// Abandonment is a legal end state for an invite.
					return fmt.Errorf("no reply within %s; invite abandoned", wait)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "opening message")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for a reply")
	return cmd
}

// chatAcceptCmd listens on the local invite topic and answers the first
// invite that arrives.
func chatAcceptCmd() *cobra.Command {
	var (
		reject bool
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Wait for a chat invite and accept (or reject) it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			rc, err := relay.DialWS(ctx, cfg.RelayURL, domain.ClientID(uuid.NewString()), id, log)
			if err != nil {
				return err
			}
			defer rc.Close()

			handshake := chat.New(keyring.New(id))
			inviteTopic := topic.FromPublicKey(id.XPub)
			invites, err := rc.Subscribe(ctx, inviteTopic)
			if err != nil {
				return err
			}
			fmt.Printf("Listening for invites on %s\n", inviteTopic)

			deadline := time.After(wait)
			for {
				select {
				case env, ok := <-invites:
					if !ok {
						return fmt.Errorf("relay connection closed")
					}
					if env.Version != domain.EnvelopeTypeOne {
						continue
					}
					inv, err := handshake.Receive(env)
					if err != nil {
						log.Sugar().Warnw("dropping invite", "err", err)
						continue
					}
					fmt.Printf("Invite received: %q\n", inv.Opening)
					if reject {
						replyEnv, err := handshake.Reject(inv)
						if err != nil {
							return err
						}
						return rc.Publish(ctx, inviteTopic, replyEnv)
					}
					thread, replyEnv, err := handshake.Accept(inv)
					if err != nil {
						return err
					}
					if err := rc.Publish(ctx, inviteTopic, replyEnv); err != nil {
						return err
					}
					fmt.Printf("Accepted. Thread topic: %s\n", thread.ThreadTopic)
					return nil
				case <-deadline:
					return fmt.Errorf("no invite within %s", wait)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the invite instead of accepting")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "how long to wait for an invite")
	return cmd
}
