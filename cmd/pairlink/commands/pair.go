package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pairlink/internal/domain"
	"pairlink/internal/keyring"
	"pairlink/internal/pairing"
	"pairlink/internal/rpc"
	"pairlink/internal/topic"
)

const pairingURIScheme = "pairlink:"

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Establish and manage pairings",
	}
	cmd.AddCommand(pairProposeCmd(), pairApproveCmd(), pairPingCmd(), pairDeleteCmd())
	return cmd
}

// pairProposeCmd creates a pairing topic, prints the out-of-band URI for
// the peer, and drives propose -> settle -> session settle.
func pairProposeCmd() *cobra.Command {
	var appName string
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose a new pairing and settle a session on approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var symKey domain.SymKey
			if _, err := rand.Read(symKey[:]); err != nil {
				return err
			}
			pairingTopic := topic.FromSymKey(symKey)
			fmt.Printf("Share this URI with the peer:\n%s\n", encodeURI(pairingTopic, symKey))

			wire, ring, err := connect(ctx, rejectAll{}, printSink{})
			if err != nil {
				return err
			}
			defer wire.Engine.Close()

			if err := wire.Engine.SubscribePairing(ctx, pairingTopic, symKey); err != nil {
				return err
			}

			selfPair, err := ring.GenerateKeyPair(domain.ScopeEphemeral)
			if err != nil {
				return err
			}
			req, err := wire.Pairing.Propose(ctx, pairingTopic, selfPair.Public,
				domain.ProposerMetadata{Name: appName},
				[]domain.RelayParams{{Protocol: "irn"}},
				domain.Namespaces{
					"eip155": {Chains: []string{"eip155:1"}, Methods: []string{"personal_sign"}, Events: []string{"accountsChanged"}},
				})
			if err != nil {
				return err
			}

			fmt.Println("Waiting for peer approval...")
			resp, err := wire.Engine.Request(ctx, pairingTopic, req)
			if err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("pairing rejected: %s", resp.Error.Message)
			}
			var result rpc.SessionProposeResult
			if err := rpc.DecodeParams(resp.Result, &result); err != nil {
				return err
			}
			if err := wire.Pairing.Settle(ctx, pairingTopic, result); err != nil {
				return err
			}
			fmt.Println("Pairing settled.")

			// Session topic and key come from DH between the two pairing keys.
			peer, err := decodeHexKey(result.ResponderPublicKey)
			if err != nil {
				return err
			}
			sessionKey, err := ring.DeriveSharedSecret(selfPair, peer)
			if err != nil {
				return err
			}
			_ = ring.Consume(selfPair.Public)
			keyring.WipePair(&selfPair)

			sessionTopic := topic.FromSymKey(sessionKey)
			if err := wire.Engine.SubscribeSession(ctx, sessionTopic, sessionKey, pairingTopic); err != nil {
				return err
			}
			settleReq, err := wire.Session.Settle(ctx, sessionTopic, pairingTopic, peer,
				result.Relay,
				domain.Namespaces{
					"eip155": {Chains: []string{"eip155:1"}, Methods: []string{"personal_sign"}, Events: []string{"accountsChanged"}},
				},
				time.Now().Add(7*24*time.Hour).Unix())
			if err != nil {
				return err
			}
			settleResp, err := wire.Engine.Request(ctx, sessionTopic, settleReq)
			if err != nil {
				return err
			}
			if settleResp.Error != nil {
				return fmt.Errorf("session settle failed: %s", settleResp.Error.Message)
			}
			fmt.Printf("Session settled on topic %s\n", sessionTopic)
			return nil
		},
	}
	cmd.Flags().StringVar(&appName, "name", "pairlink", "application name shown to the peer")
	return cmd
}

// pairApproveCmd joins a pairing from its URI and answers the proposal.
func pairApproveCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "approve <uri>",
		Short: "Approve a pairing proposal from its out-of-band URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pairingTopic, symKey, err := decodeURI(args[0])
			if err != nil {
				return err
			}

			approved := make(chan domain.Pairing, 1)
			approver := &cliApprover{approved: approved}

			wire, ring, err := connect(ctx, approver, printSink{})
			if err != nil {
				return err
			}
			defer wire.Engine.Close()
			approver.ring = ring

			if err := wire.Engine.SubscribePairing(ctx, pairingTopic, symKey); err != nil {
				return err
			}
			fmt.Println("Waiting for the proposal...")

			select {
			case p := <-approved:
				sessionKey, err := ring.DeriveSharedSecret(approver.pair, p.PeerPublicKey)
				if err != nil {
					return err
				}
				_ = ring.Consume(approver.pair.Public)
				keyring.WipePair(&approver.pair)

				sessionTopic := topic.FromSymKey(sessionKey)
				if err := wire.Engine.SubscribeSession(ctx, sessionTopic, sessionKey, pairingTopic); err != nil {
					return err
				}
				fmt.Printf("Pairing approved; expecting session settle on %s\n", sessionTopic)
				// Stay alive to receive the settle and any session traffic.
				select {
				case <-time.After(wait):
				case <-ctx.Done():
				}
				return nil
			case <-time.After(wait):
				return fmt.Errorf("no proposal arrived within %s", wait)
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "how long to wait for the proposal and session settle")
	return cmd
}

func pairPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <uri>",
		Short: "Ping the peer over a pairing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pairingTopic, symKey, err := decodeURI(args[0])
			if err != nil {
				return err
			}
			wire, _, err := connect(ctx, rejectAll{}, printSink{})
			if err != nil {
				return err
			}
			defer wire.Engine.Close()
			if err := wire.Engine.SubscribePairing(ctx, pairingTopic, symKey); err != nil {
				return err
			}
			req, err := rpc.NewRequest(rpc.MethodPairingPing, rpc.PingParams{})
			if err != nil {
				return err
			}
			resp, err := wire.Engine.Request(ctx, pairingTopic, req)
			if err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("ping failed: %s", resp.Error.Message)
			}
			fmt.Println("pong")
			return nil
		},
	}
}

func pairDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uri>",
		Short: "Delete a pairing and its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pairingTopic, symKey, err := decodeURI(args[0])
			if err != nil {
				return err
			}
			wire, _, err := connect(ctx, rejectAll{}, printSink{})
			if err != nil {
				return err
			}
			defer wire.Engine.Close()
			if err := wire.Engine.SubscribePairing(ctx, pairingTopic, symKey); err != nil {
				return err
			}
			req, err := rpc.NewRequest(rpc.MethodPairingDelete, rpc.DeleteParams{
				Code: 6000, Message: "user disconnected",
			})
			if err != nil {
				return err
			}
			if err := wire.Engine.Notify(ctx, pairingTopic, req); err != nil {
				return err
			}
			return wire.Pairing.Delete(ctx, pairingTopic, 6000, "user disconnected")
		},
	}
}

// cliApprover approves the first proposal with a fresh exchange key and
// hands the settled pairing back to the command.
type cliApprover struct {
	ring     *keyring.Keyring
	pair     domain.KeyPair
	approved chan domain.Pairing
}

func (a *cliApprover) ApprovePairing(ctx context.Context, p domain.Pairing) (pairing.Decision, error) {
	fmt.Printf("Proposal from %q (chains: %v)\n", p.Metadata.Name, namespaceNames(p.RequiredNamespaces))
	pair, err := a.ring.GenerateKeyPair(domain.ScopeEphemeral)
	if err != nil {
		return pairing.Decision{}, err
	}
	a.pair = pair
	select {
	case a.approved <- p:
	default:
	}
	return pairing.Decision{Approved: true, ResponderKey: pair.Public, Relay: p.Relay}, nil
}

// rejectAll is the approver for commands that never expect a proposal.
type rejectAll struct{}

func (rejectAll) ApprovePairing(context.Context, domain.Pairing) (pairing.Decision, error) {
	return pairing.Decision{}, nil
}

// printSink prints authorized session traffic instead of forwarding it to
// an application layer.
type printSink struct{}

func (printSink) OnRequest(_ context.Context, t domain.Topic, chainID, method string, params json.RawMessage) (json.RawMessage, error) {
	fmt.Printf("[%s] request %s on %s: %s\n", t, method, chainID, params)
	return json.RawMessage("true"), nil
}

func (printSink) OnEvent(_ context.Context, t domain.Topic, chainID, name string, data json.RawMessage) error {
	fmt.Printf("[%s] event %s on %s: %s\n", t, name, chainID, data)
	return nil
}

func encodeURI(t domain.Topic, key domain.SymKey) string {
	return fmt.Sprintf("%s%s@1?symKey=%s", pairingURIScheme, t, hex.EncodeToString(key[:]))
}

func decodeURI(s string) (domain.Topic, domain.SymKey, error) {
	var key domain.SymKey
	rest, ok := strings.CutPrefix(s, pairingURIScheme)
	if !ok {
		return "", key, fmt.Errorf("bad pairing URI: missing %q scheme", pairingURIScheme)
	}
	topicPart, query, ok := strings.Cut(rest, "?")
	if !ok {
		return "", key, fmt.Errorf("bad pairing URI: missing query")
	}
	topicStr, _, _ := strings.Cut(topicPart, "@")
	vals, err := url.ParseQuery(query)
	if err != nil {
		return "", key, fmt.Errorf("bad pairing URI: %w", err)
	}
	raw, err := hex.DecodeString(vals.Get("symKey"))
	if err != nil || len(raw) != len(key) {
		return "", key, fmt.Errorf("bad pairing URI: invalid symKey")
	}
	copy(key[:], raw)
	return domain.Topic(topicStr), key, nil
}

func decodeHexKey(s string) (domain.X25519Public, error) {
	var pub domain.X25519Public
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(pub) {
		return pub, fmt.Errorf("bad public key %q", s)
	}
	copy(pub[:], raw)
	return pub, nil
}

func namespaceNames(n domain.Namespaces) []string {
	out := make([]string, 0, len(n))
	for name := range n {
		out = append(out, name)
	}
	return out
}
