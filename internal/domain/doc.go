// Package domain holds the protocol's shared vocabulary: key material and
// topics, envelopes, pairing and session records with their lifecycle
// states, sentinel errors, and the store/relay contracts the rest of the
// module is written against. It has no behavior beyond small helpers on the
// types themselves.
package domain
