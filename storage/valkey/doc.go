// Package valkey provides a Valkey storage backend for the frob bridge.
//
// Valkey is a high-performance key-value store that is wire-compatible with Redis.
// The Store type implements [storage.KV] and [storage.Taker], which makes it
// suitable for deployments running several bridge replicas behind a load
// balancer: pending handoffs, authorization codes and rate limit windows are
// shared between replicas and expire server-side.
//
// # Atomic Operations
//
// Authorization codes are redeemed with GETDEL, so a code can be exchanged
// exactly once even when two token requests race on different replicas.
//
// # Usage
//
//	kv, err := valkey.New(valkey.Config{
//	    Address: "localhost:6379",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer kv.Close()
//
//	sessions, err := storage.NewSessionStore(kv, storage.SessionStoreConfig{})
//
// # Testing
//
// Tests connect to VALKEY_TEST_ADDR (default localhost:6379) and are skipped
// when no server is reachable.
package valkey
