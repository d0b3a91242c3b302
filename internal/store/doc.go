// Package store provides persistence for pairlink's core data.
//
// It contains concrete implementations of the domain storage interfaces:
//   - Identity keys, encrypted at rest (IdentityFileStore)
//   - Pairings and sessions in memory with per-topic update serialization
//     (MemoryStore)
//   - Pairings and sessions in Redis for clients that must survive restarts
//     (RedisStore)
//
// All methods are concurrency-safe. Topic-keyed updates go through Update*
// closures so that concurrent method deliveries on one topic apply one at a
// time, in arrival order.
package store
