package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/storage"
)

// RunKVConformance runs the behavior every storage.KV backend must share.
// keyPrefix isolates keys for backends that are shared between tests.
// Expiry is checked with real sleeps, so backends should honour ttls of a
// few hundred milliseconds.
func RunKVConformance(t *testing.T, kv storage.KV, keyPrefix string) {
	t.Helper()
	ctx := context.Background()
	key := func(name string) string { return fmt.Sprintf("%s%s:%s", keyPrefix, t.Name(), name) }

	t.Run("put then get", func(t *testing.T) {
		k := key("roundtrip")
		if err := kv.Put(ctx, k, []byte("value"), time.Minute); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := kv.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "value" {
			t.Errorf("Get() = %q, want %q", got, "value")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := kv.Get(ctx, key("missing"))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		k := key("overwrite")
		_ = kv.Put(ctx, k, []byte("one"), time.Minute)
		_ = kv.Put(ctx, k, []byte("two"), time.Minute)
		got, err := kv.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "two" {
			t.Errorf("Get() = %q, want %q", got, "two")
		}
	})

	t.Run("delete", func(t *testing.T) {
		k := key("delete")
		_ = kv.Put(ctx, k, []byte("value"), time.Minute)
		if err := kv.Delete(ctx, k); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := kv.Get(ctx, k); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
		}
		if err := kv.Delete(ctx, k); err != nil {
			t.Errorf("Delete() of missing key error = %v, want nil", err)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		k := key("expiry")
		if err := kv.Put(ctx, k, []byte("value"), 200*time.Millisecond); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		time.Sleep(400 * time.Millisecond)
		if _, err := kv.Get(ctx, k); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() after ttl error = %v, want ErrNotFound", err)
		}
	})

	t.Run("take", func(t *testing.T) {
		taker, ok := kv.(storage.Taker)
		if !ok {
			t.Skip("backend does not support atomic take")
		}
		k := key("take")
		_ = kv.Put(ctx, k, []byte("once"), time.Minute)

		got, err := taker.Take(ctx, k)
		if err != nil {
			t.Fatalf("Take() error = %v", err)
		}
		if string(got) != "once" {
			t.Errorf("Take() = %q, want %q", got, "once")
		}
		if _, err := taker.Take(ctx, k); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("second Take() error = %v, want ErrNotFound", err)
		}
	})
}
