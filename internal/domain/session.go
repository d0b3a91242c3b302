package domain

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	// SessionSettled means the session has been established but not yet
	// carried traffic.
	SessionSettled SessionState = iota
	// SessionActive means the session is live and forwarding requests.
	SessionActive
	// SessionExpired means the wall clock passed the session expiry. For
	// request acceptance it is equivalent to deleted; it is kept distinct
	// for diagnostics.
	SessionExpired
	// SessionDeleted is terminal.
	SessionDeleted
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case SessionSettled:
		return "settled"
	case SessionActive:
		return "active"
	case SessionExpired:
		return "expired"
	case SessionDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Namespace is one permission grant: the chains/accounts a peer may target
// and the methods and events it may use on them.
type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

// Namespaces maps a namespace name (e.g. "eip155") to its grant.
type Namespaces map[string]Namespace

// AllowsMethod reports whether some namespace grants method on chainID.
func (n Namespaces) AllowsMethod(chainID, method string) bool {
	for _, ns := range n {
		if !ns.coversChain(chainID) {
			continue
		}
		for _, m := range ns.Methods {
			if m == method {
				return true
			}
		}
	}
	return false
}

// AllowsEvent reports whether some namespace grants event on chainID.
func (n Namespaces) AllowsEvent(chainID, event string) bool {
	for _, ns := range n {
		if !ns.coversChain(chainID) {
			continue
		}
		for _, e := range ns.Events {
			if e == event {
				return true
			}
		}
	}
	return false
}

func (ns Namespace) coversChain(chainID string) bool {
	for _, c := range ns.Chains {
		if c == chainID {
			return true
		}
	}
	// Accounts are CAIP-10 strings; the chain is everything before the
	// final ":".
	for _, a := range ns.Accounts {
		if i := lastColon(a); i > 0 && a[:i] == chainID {
			return true
		}
	}
	return false
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// Session is a permission-scoped, time-bounded channel nested under a
// pairing. PairingTopic is a non-owning back-reference used for validation
// only; deleting a session never deletes its pairing.
type Session struct {
	Topic         Topic        `json:"topic"`
	PairingTopic  Topic        `json:"pairing_topic"`
	ControllerKey X25519Public `json:"controller_key"`
	Namespaces    Namespaces   `json:"namespaces"`
	Relay         RelayParams  `json:"relay"`
	Expiry        int64        `json:"expiry"`
	State         SessionState `json:"state"`
	CreatedUTC    int64        `json:"created_utc"`
}

// EffectiveState folds expiry into the stored state given the current Unix
// time.
func (s Session) EffectiveState(nowUnix int64) SessionState {
	if s.State == SessionDeleted {
		return SessionDeleted
	}
	if nowUnix >= s.Expiry {
		return SessionExpired
	}
	return s.State
}
