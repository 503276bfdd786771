package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLock provides key-scoped mutual exclusion for migration runs
// across processes or nodes. Concurrent callers for the same key serialize;
// callers for different keys never block each other.
type DistributedLock interface {
	// Acquire obtains the lock for the given key, blocking up to the
	// implementation's acquisition timeout. On timeout it returns
	// ErrLockContention. The returned release function must be called to
	// release the lock and is safe to call exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const defaultAcquireTimeout = 30 * time.Second

const acquirePollInterval = 250 * time.Millisecond

// PostgresLock implements DistributedLock using PostgreSQL advisory locks.
// Advisory locks are session-scoped, so the lock pins a dedicated connection
// from the pool for its whole lifetime and releases on that same connection.
type PostgresLock struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresLock creates a PostgresLock. A non-positive timeout selects the
// default acquisition timeout.
func NewPostgresLock(db *sql.DB, timeout time.Duration) *PostgresLock {
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	return &PostgresLock{db: db, timeout: timeout}
}

// Acquire obtains the advisory lock for the key, polling pg_try_advisory_lock
// until it succeeds or the acquisition timeout elapses.
func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout lock connection: %w", err)
	}

	deadline := time.Now().Add(l.timeout)
	for {
		var acquired bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			_ = conn.Close()
			return nil, fmt.Errorf("advisory lock %q: %w", key, ErrLockContention)
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, fmt.Errorf("advisory lock %q: %w", key, ctx.Err())
		case <-time.After(acquirePollInterval):
		}
	}

	release := func() {
		// Unlock must run on the session holding the lock; closing the
		// connection would also drop it, but unlocking explicitly keeps the
		// pooled connection reusable.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		_ = conn.Close()
	}
	return release, nil
}

// hashLockKey produces a stable int64 hash from a string key for use with
// pg_advisory_lock. Uses FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF)
}

// RedisLock implements DistributedLock against a Redis coordination service
// using SET NX PX with a per-acquisition token, for deployments where the
// database backend offers no advisory locks.
type RedisLock struct {
	client  redis.UniversalClient
	timeout time.Duration
	ttl     time.Duration
}

// NewRedisLock creates a RedisLock. The ttl bounds how long a crashed holder
// can wedge the key; it should exceed the longest expected migration.
func NewRedisLock(client redis.UniversalClient, timeout, ttl time.Duration) *RedisLock {
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{client: client, timeout: timeout, ttl: ttl}
}

// releaseScript deletes the key only if it still holds this caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Acquire obtains the lock by setting the key if absent, polling until the
// acquisition timeout elapses.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %q: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redis lock %q: %w", key, ErrLockContention)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis lock %q: %w", key, ctx.Err())
		case <-time.After(acquirePollInterval):
		}
	}

	release := func() {
		_, _ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Result()
	}
	return release, nil
}

// LocalLock implements DistributedLock with in-process keyed mutexes, for
// single-process deployments and tests.
type LocalLock struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	timeout time.Duration
}

// NewLocalLock creates a LocalLock.
func NewLocalLock(timeout time.Duration) *LocalLock {
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	return &LocalLock{locks: make(map[string]*sync.Mutex), timeout: timeout}
}

// Acquire obtains the per-key mutex, polling until the timeout elapses.
func (l *LocalLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	deadline := time.Now().Add(l.timeout)
	for !m.TryLock() {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("local lock %q: %w", key, ErrLockContention)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("local lock %q: %w", key, ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
	return m.Unlock, nil
}
