// Package storage provides the session store adapter used by every component
// of the bridge to persist ephemeral state.
//
// The package defines two layers:
//   - KV: the raw distributed key/value contract (put/get/delete with per-key TTL)
//   - SessionStore: typed access to pending handoffs, authorization codes,
//     issued token records and rate limit counters on top of any KV
//
// The guarantees are only those of the underlying store: eventual consistency,
// best-effort TTL expiry and no multi-key transactions. Readers must still
// check expiry themselves. Backends that can atomically read and delete a key
// implement Taker, which SessionStore uses for single-use authorization codes.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey distributed storage
//   - storage/redis: Redis distributed storage (go-redis)
package storage
