package redis

import (
	"context"
	"fmt"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-frob-oauth/internal/testutil"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{Address: addr, Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Redis at %s: %v", addr, err)
	}

	prefix := fmt.Sprintf("frobtest:redis:%s:", t.Name())
	cleanup := func() {
		ctx := context.Background()
		iter := store.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			_ = store.client.Del(ctx, iter.Val()).Err()
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		_ = store.Close()
	})

	return store, prefix
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStore_Conformance(t *testing.T) {
	s, prefix := testStore(t)
	testutil.RunKVConformance(t, s, prefix)
}

func TestNewWithClient_DoesNotCloseBorrowedClient(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})
	defer func() { _ = client.Close() }()

	s := NewWithClient(client, nil)
	require.NoError(t, s.Close())

	// the client is still usable by its owner
	assert.NotNil(t, client.Options())
}
