package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLockSingleHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewLock(client, nil, "recovery", time.Minute)
	b := NewLock(client, nil, "recovery", time.Minute)

	got, err := a.Acquire(ctx)
	if err != nil || !got {
		t.Fatalf("first Acquire = (%v, %v), want (true, nil)", got, err)
	}
	got, err = b.Acquire(ctx)
	if err != nil || got {
		t.Fatalf("contended Acquire = (%v, %v), want (false, nil)", got, err)
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, err = b.Acquire(ctx)
	if err != nil || !got {
		t.Fatalf("Acquire after release = (%v, %v), want (true, nil)", got, err)
	}
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	a := NewLock(client, nil, "recovery", 50*time.Millisecond)
	if got, _ := a.Acquire(ctx); !got {
		t.Fatal("Acquire failed")
	}

	// TTL expiry hands the lock to another instance; the stale holder's
	// release must not evict the new owner.
	mr.FastForward(time.Second)
	b := NewLock(client, nil, "recovery", time.Minute)
	if got, _ := b.Acquire(ctx); !got {
		t.Fatal("Acquire after expiry failed")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	if got, _ := b.Acquire(ctx); got {
		t.Error("stale release evicted the current holder")
	}
}
