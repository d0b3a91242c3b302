package domain

// ChatInvite is the ephemeral handshake record held by the sender while an
// invite is outstanding. It is superseded by a ChatThread on acceptance and
// simply dropped on timeout or rejection.
type ChatInvite struct {
	InviteTopic        Topic        `json:"invite_topic"`
	RecipientPublicKey X25519Public `json:"recipient_public_key"`
	EphemeralPublicKey X25519Public `json:"ephemeral_public_key"`
	OpeningMessage     string       `json:"opening_message"`
	SentUTC            int64        `json:"sent_utc"`
}

// ChatThread is an accepted chat channel. ThreadTopic is the hash of the
// derived thread key, so only the two participants can address it.
type ChatThread struct {
	ThreadTopic Topic        `json:"thread_topic"`
	Key         SymKey       `json:"key"`
	PeerKey     X25519Public `json:"peer_key"`
	CreatedUTC  int64        `json:"created_utc"`
}
