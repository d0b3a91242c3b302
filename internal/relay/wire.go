package relay

import "pairlink/internal/domain"

// Frame types exchanged over the websocket connection to the relay daemon.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
	FrameMessage     = "message"
	FrameAck         = "ack"
)

// Frame is the websocket wire unit. Message frames carry a sequence the
// client acks so the daemon can clear its mailbox; unacked envelopes are
// redelivered, which is where the at-least-once semantics come from.
type Frame struct {
	Type     string           `json:"type"`
	Topic    domain.Topic     `json:"topic,omitempty"`
	Envelope *domain.Envelope `json:"envelope,omitempty"`
	Seq      uint64           `json:"seq,omitempty"`
}
