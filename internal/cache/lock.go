package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Locker serializes work on a named resource. Acquire blocks until the
// lock is held or ctx expires; the returned function releases it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

const acquireRetryInterval = 50 * time.Millisecond

// ClusterLockKey names the lock serializing membership and routing
// changes to one cluster. Every writer must use the same key.
func ClusterLockKey(clusterID int) string {
	return fmt.Sprintf("lock:cluster:%d", clusterID)
}

// RedisLocker coordinates across processes with SETNX. The value is a
// random token so release only deletes a lock this holder still owns.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

// Lua script: delete the key only if it still holds our token
const releaseScript = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`

// Acquire takes the lock, retrying until ctx expires. The ttl bounds how
// long a crashed holder can block others.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lockToken()
	if err != nil {
		return nil, err
	}

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}

	release := func() {
		// Detached context: release must run even when the caller's
		// context is already canceled.
		l.rdb.Eval(context.Background(), releaseScript, []string{key}, token)
	}
	return release, nil
}

func lockToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// LocalLocker serializes within a single process. It is the fallback
// when Redis is not configured; a single-instance deployment needs no
// cross-process coordination.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

// Acquire takes the lock or fails when ctx expires. The ttl is ignored;
// a process that dies releases everything with it.
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	s := l.slot(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
