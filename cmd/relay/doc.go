// Command relay runs a development relay daemon: websocket pub/sub keyed by
// topic, store-and-forward mailboxes for offline subscribers, auth-nonce
// issuance, and bearer-token verification at connection time.
package main
