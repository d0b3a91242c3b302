package domain

import "context"

// RelayClient is how we talk to the relay, all with context. The relay is a
// topic-addressed publish/subscribe bus with at-least-once delivery and
// store-and-forward mailboxing for offline subscribers; the state machines
// built on top must tolerate duplicates.
type RelayClient interface {
	Publish(ctx context.Context, topic Topic, env Envelope) error
	Subscribe(ctx context.Context, topic Topic) (<-chan Envelope, error)
	Unsubscribe(ctx context.Context, topic Topic) error
	Close() error
}
