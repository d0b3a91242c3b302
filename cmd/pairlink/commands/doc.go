// Package commands wires the pairlink CLI: identity management, relay auth
// tokens, pairing/session establishment, and chat invites.
package commands
