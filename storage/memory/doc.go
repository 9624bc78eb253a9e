// Package memory provides an in-memory implementation of storage.KV.
//
// Entries live in a map guarded by a sync.RWMutex. Expired entries are never
// returned and are swept periodically by a background goroutine. The store
// is suitable for development, testing, and single-instance deployments; use
// the valkey or redis packages when several bridge replicas share state.
//
// Example usage:
//
//	kv := memory.New()
//	defer kv.Stop()
//
//	sessions, _ := storage.NewSessionStore(kv, storage.SessionStoreConfig{})
package memory
