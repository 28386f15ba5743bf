// Package distlock guards an execution against concurrent advancement when
// more than one engine process shares a registry.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a single named lock. One instance belongs to one holder;
// goroutines that compete for the same key each need their own instance.
type DistLock interface {
	// Acquire tries once and reports whether the lock is now held.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance still owns it.
	Release(ctx context.Context) error
}

// Factory builds a lock for a key. The scheduler calls it once per advance.
type Factory func(key string) DistLock

// ExecutionKey is the lock name for one execution.
func ExecutionKey(executionID string) string {
	return "campaign-engine:lock:execution:" + executionID
}

// NewLock creates a lock on the best available backend: Redis when a client
// is configured, PostgreSQL advisory locks otherwise.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// NewFactory binds NewLock to a backend. It returns nil when neither
// backend is configured, which callers treat as single-process mode.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	if redisClient == nil && db == nil {
		return nil
	}
	return func(key string) DistLock {
		return NewLock(redisClient, db, key, ttl)
	}
}

// PGAdvisoryLock uses pg_try_advisory_lock. The lock is session scoped, so a
// dropped connection frees it the way a TTL frees a Redis key.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock hashes key into the 64-bit advisory lock id.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire is non-blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
