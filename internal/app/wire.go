package app

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pairlink/internal/domain"
	"pairlink/internal/engine"
	"pairlink/internal/pairing"
	"pairlink/internal/session"
	"pairlink/internal/store"
)

// Wire bundles the stores, machines, and engine for the CLI.
type Wire struct {
	Identity domain.IdentityStore
	Pairings domain.PairingStore
	Sessions domain.SessionStore
	Pairing  *pairing.Machine
	Session  *session.Machine
	Engine   *engine.Engine
	Log      *zap.Logger
}

// NewWire constructs the dependency graph from cfg. relayClient and the
// interactive approver come from the caller; sink may be nil.
func NewWire(
	cfg Config,
	relayClient domain.RelayClient,
	approver pairing.Approver,
	sink session.Sink,
	log *zap.Logger,
) *Wire {
	var (
		pairings domain.PairingStore
		sessions domain.SessionStore
	)
	if cfg.RedisAddr != "" {
		rs := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		pairings, sessions = rs, rs
	} else {
		ms := store.NewMemoryStore()
		pairings, sessions = ms, ms
	}

	pairingMachine := pairing.NewMachine(pairings, sessions, log)
	sessionMachine := session.NewMachine(sessions, sink, log)
	eng := engine.New(relayClient, pairingMachine, sessionMachine, approver, engine.Timeouts{
		Propose: cfg.ProposeTimeout,
		Request: cfg.RequestTimeout,
	}, log)

	return &Wire{
		Identity: store.NewIdentityFileStore(cfg.Home),
		Pairings: pairings,
		Sessions: sessions,
		Pairing:  pairingMachine,
		Session:  sessionMachine,
		Engine:   eng,
		Log:      log,
	}
}
