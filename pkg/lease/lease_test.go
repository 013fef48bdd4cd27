// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/lease"
)

// requireRedis returns a client against a local Redis instance, or skips
// the test if none is reachable. Spinning up a throwaway redis-server
// binary per test run is out of scope here, so these tests instead
// target whatever Redis the environment already provides, the way an
// integration test suite commonly does when no such harness is vendored.
func requireRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("no local redis reachable: %v", err)
	}
	return client
}

func TestLockFailsFastOnContention(t *testing.T) {
	client := requireRedis(t)
	locker := lease.NewRedisLocker(nil, client, t.Name())

	held, err := locker.Lock(context.Background(), "k1")
	require.NoError(t, err)
	defer held.Release(context.Background())

	_, err = locker.Lock(context.Background(), "k1")
	require.Error(t, err, "a second lock on the same key must fail fast, not block")
}

func TestReleaseThenReacquire(t *testing.T) {
	client := requireRedis(t)
	locker := lease.NewRedisLocker(nil, client, t.Name())

	held, err := locker.Lock(context.Background(), "k2")
	require.NoError(t, err)
	require.NoError(t, held.Release(context.Background()))
	require.NoError(t, held.Release(context.Background()), "release must be idempotent")

	second, err := locker.Lock(context.Background(), "k2")
	require.NoError(t, err)
	require.NoError(t, second.Release(context.Background()))
}

func TestReleaseDoesNotStealLaterLease(t *testing.T) {
	client := requireRedis(t)
	locker := lease.NewRedisLocker(nil, client, t.Name()).WithTTL(50 * time.Millisecond)

	first, err := locker.Lock(context.Background(), "k3")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond) // let the lease expire

	second, err := locker.Lock(context.Background(), "k3")
	require.NoError(t, err, "a fresh holder must be able to claim the key once the TTL lapses")

	// first's late Release must not tear down second's still-live lease.
	require.NoError(t, first.Release(context.Background()))

	_, err = locker.Lock(context.Background(), "k3")
	require.Error(t, err, "second's lease must still be held after first's stale release")

	require.NoError(t, second.Release(context.Background()))
}
