// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package lease implements leased locks on object keys: a scoped,
// fail-fast exclusive hold whose release relinquishes it. Most
// Backend implementations (memblob, boltblob) only enforce this within
// one process; RedisLocker generalizes the same lease contract across
// processes for deployments where the backend itself has no built-in
// distributed lock.
package lease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/sealerr"
)

// DefaultTTL bounds how long a lease survives without renewal, so a
// crashed holder cannot wedge a location forever.
const DefaultTTL = 30 * time.Second

// RedisLocker acquires leases via Redis SET NX PX, giving a Backend that
// has no native cross-process lock a distributed one. The zero value is
// not usable; construct with NewRedisLocker.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// NewRedisLocker returns a RedisLocker over client. prefix namespaces
// lease keys so one Redis instance can back multiple stores.
func NewRedisLocker(log *zap.Logger, client *redis.Client, prefix string) *RedisLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: DefaultTTL, prefix: prefix, log: log}
}

// WithTTL returns a copy of l with the lease TTL overridden.
func (l *RedisLocker) WithTTL(ttl time.Duration) *RedisLocker {
	out := *l
	out.ttl = ttl
	return &out
}

func (l *RedisLocker) redisKey(key string) string {
	return l.prefix + "\x00" + key
}

// Lock acquires a fail-fast exclusive lease on key. It returns
// sealerr.Locked immediately if the key is already held, never blocking.
func (l *RedisLocker) Lock(ctx context.Context, key string) (*Lease, error) {
	token, err := randomToken()
	if err != nil {
		return nil, sealerr.BackendFailure.Wrap(err)
	}

	ok, err := l.client.SetNX(ctx, l.redisKey(key), token, l.ttl).Result()
	if err != nil {
		return nil, sealerr.BackendFailure.Wrap(err)
	}
	if !ok {
		return nil, sealerr.Locked.New("%s is already leased", key)
	}

	l.log.Debug("acquired distributed lease", zap.String("key", key), zap.Duration("ttl", l.ttl))
	return &Lease{locker: l, key: key, token: token}, nil
}

func randomToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// releaseScript deletes the lease key only if it still holds this
// holder's token, so a lease that already expired and was reacquired by
// someone else is never torn down by a late Release call.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Lease is a held RedisLocker lease. Release is idempotent.
type Lease struct {
	locker   *RedisLocker
	key      string
	token    string
	released bool
}

func (ls *Lease) Key() string { return ls.key }

func (ls *Lease) Release(ctx context.Context) error {
	if ls.released {
		return nil
	}
	ls.released = true
	err := releaseScript.Run(ctx, ls.locker.client, []string{ls.locker.redisKey(ls.key)}, ls.token).Err()
	if err != nil && err != redis.Nil {
		return sealerr.BackendFailure.Wrap(err)
	}
	return nil
}

// DistributedBackend decorates a blobstore.Backend so Lock is enforced
// via a RedisLocker instead of the backend's own advisory lock (the
// embedded Backend's Lock is not called), giving a single-process-only Backend like memblob or
// boltblob a cross-process lease.
type DistributedBackend struct {
	blobstore.Backend
	Locker *RedisLocker
}

func (b DistributedBackend) Lock(ctx context.Context, loc blobstore.Location) (blobstore.Lease, error) {
	ls, err := b.Locker.Lock(ctx, loc.String())
	if err != nil {
		return nil, err
	}
	return backendLease{lease: ls, loc: loc}, nil
}

type backendLease struct {
	lease *Lease
	loc   blobstore.Location
}

func (l backendLease) Location() blobstore.Location { return l.loc }
func (l backendLease) Release(ctx context.Context) error { return l.lease.Release(ctx) }

var _ blobstore.Backend = DistributedBackend{}
