// Package distlock provides a best-effort mutual exclusion primitive for
// background scans that must run on at most one engine instance at a time.
// Redis backs the lock when available; otherwise a PostgreSQL advisory lock
// on the job store connection serves, released automatically if the session
// dies.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock grants single-holder access to a named scan. A nil-safe false
// from Acquire means another instance holds it; callers skip their turn
// rather than wait.
type DistLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NewLock picks the strongest available backend: Redis when a client is
// configured, the database's advisory locks otherwise.
func NewLock(rdb *redis.Client, db *sql.DB, name string, ttl time.Duration) DistLock {
	if rdb != nil {
		return newRedisLock(rdb, name, ttl)
	}
	return newAdvisoryLock(db, name)
}

// advisoryLock maps the lock name onto a 64-bit advisory lock id. Advisory
// locks are session-scoped, so a crashed holder frees the lock when its
// connection drops.
type advisoryLock struct {
	db *sql.DB
	id int64
}

func newAdvisoryLock(db *sql.DB, name string) *advisoryLock {
	h := fnv.New64a()
	h.Write([]byte(name))
	return &advisoryLock{db: db, id: int64(h.Sum64())}
}

func (l *advisoryLock) Acquire(ctx context.Context) (bool, error) {
	var got bool
	err := l.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.id).Scan(&got)
	return got, err
}

func (l *advisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.id)
	return err
}
