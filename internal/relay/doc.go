// Package relay provides clients for the topic-addressed publish/subscribe
// bus the protocol rides on.
//
// Memory is an in-process relay used by tests and by the development relay
// daemon. WSClient speaks the daemon's websocket framing and authenticates
// with a signed bearer token. Both offer at-least-once delivery with
// store-and-forward mailboxing for topics nobody is subscribed to yet.
package relay
