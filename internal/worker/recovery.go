package worker

import (
	"context"
	"log"
	"time"

	"github.com/quotient/followup-engine/internal/pkg/distlock"
)

const (
	// DefaultRecoveryInterval is how often stuck jobs are scanned for.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a job may sit in sending before it is
	// treated as orphaned by a crashed dispatcher.
	DefaultStaleAge = 5 * time.Minute
)

// RecoveryStore requeues or fails jobs orphaned in the sending state.
type RecoveryStore interface {
	RecoverStuck(ctx context.Context, staleAge time.Duration, maxAttempts int) (requeued, failed int, err error)
}

// RecoveryWorker periodically reclaims jobs stuck in sending after a
// dispatcher crash. A distributed lock keeps the scan single-flight when
// several engine instances run against the same database.
type RecoveryWorker struct {
	store       RecoveryStore
	lock        distlock.DistLock
	interval    time.Duration
	staleAge    time.Duration
	maxAttempts int
}

// NewRecoveryWorker creates a recovery worker. lock may be nil for
// single-instance deployments.
func NewRecoveryWorker(store RecoveryStore, lock distlock.DistLock, interval, staleAge time.Duration, maxAttempts int) *RecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RecoveryWorker{
		store:       store,
		lock:        lock,
		interval:    interval,
		staleAge:    staleAge,
		maxAttempts: maxAttempts,
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (rw *RecoveryWorker) Start(ctx context.Context) {
	log.Printf("[Recovery] Starting (interval=%s, stale_age=%s, max_attempts=%d)",
		rw.interval, rw.staleAge, rw.maxAttempts)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Recovery] Stopping")
			return
		case <-ticker.C:
			rw.runOnce(ctx)
		}
	}
}

func (rw *RecoveryWorker) runOnce(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if rw.lock != nil {
		acquired, err := rw.lock.Acquire(scanCtx)
		if err != nil {
			log.Printf("[Recovery] Lock acquire error: %v", err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := rw.lock.Release(scanCtx); err != nil {
				log.Printf("[Recovery] Lock release error: %v", err)
			}
		}()
	}

	requeued, failed, err := rw.store.RecoverStuck(scanCtx, rw.staleAge, rw.maxAttempts)
	if err != nil {
		log.Printf("[Recovery] Scan error: %v", err)
		return
	}
	if requeued > 0 || failed > 0 {
		log.Printf("[Recovery] Requeued %d stuck jobs, failed %d past the retry limit", requeued, failed)
	}
}
