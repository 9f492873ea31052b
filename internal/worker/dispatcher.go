package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quotient/followup-engine/internal/domain"
	"github.com/quotient/followup-engine/internal/mail"
	"github.com/quotient/followup-engine/internal/pkg/logger"
	"github.com/quotient/followup-engine/internal/render"
)

// JobStore is the persistence surface the dispatcher needs. postgres.Repo
// implements it; tests use an in-memory store with the same claim semantics.
type JobStore interface {
	ClaimDueBatch(ctx context.Context, limit int, now time.Time) ([]domain.EmailJob, error)
	MarkSent(ctx context.Context, jobID, providerID string, at time.Time) error
	MarkFailed(ctx context.Context, jobID, reason string) error
	Reschedule(ctx context.Context, jobID string, at time.Time, reason string, consumeAttempt bool) error
	CancelClaimed(ctx context.Context, jobID, reason string) error
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	InsertEvent(ctx context.Context, e *domain.EmailEvent) (bool, error)
	TouchLastContacted(ctx context.Context, contactID string, at time.Time) error
}

// SendGate admits or defers a send. RateLimiter implements it.
type SendGate interface {
	Allow(ctx context.Context, contactID string) (bool, error)
}

// DispatcherConfig tunes the dispatcher pool.
type DispatcherConfig struct {
	NumWorkers     int
	BatchSize      int
	PollInterval   time.Duration
	SendTimeout    time.Duration
	RetryBase      time.Duration
	RetryCap       time.Duration
	MaxAttempts    int
	RateLimitDefer time.Duration
	FromName       string
	FromEmail      string
	ReplyTo        string
}

func (c *DispatcherConfig) applyDefaults() {
	if c.NumWorkers <= 0 {
		c.NumWorkers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Minute
	}
	if c.RetryCap <= 0 {
		c.RetryCap = time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RateLimitDefer <= 0 {
		c.RateLimitDefer = 30 * time.Second
	}
}

// Dispatcher claims due jobs and drives each one through condition check,
// rate limit, render and send. Claims go through the store's conditional
// status flip, so running several dispatcher processes is safe.
type Dispatcher struct {
	store    JobStore
	sender   mail.Sender
	renderer *render.Renderer
	gate     SendGate
	cfg      DispatcherConfig
	now      func() time.Time

	totalSent      int64
	totalFailed    int64
	totalDeferred  int64
	totalCancelled int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewDispatcher wires a dispatcher. gate may be nil to disable rate limiting.
func NewDispatcher(store JobStore, sender mail.Sender, renderer *render.Renderer, gate SendGate, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		store:    store,
		sender:   sender,
		renderer: renderer,
		gate:     gate,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start launches the worker goroutines. Calling Start on a running
// dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	log.Printf("[Dispatcher] Starting %d workers (batch_size=%d, poll=%s)",
		d.cfg.NumWorkers, d.cfg.BatchSize, d.cfg.PollInterval)

	for i := 0; i < d.cfg.NumWorkers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop cancels the workers and waits for in-flight sends to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	log.Println("[Dispatcher] Stopping workers...")
	d.wg.Wait()
	log.Printf("[Dispatcher] Stopped. sent=%d failed=%d deferred=%d cancelled=%d",
		atomic.LoadInt64(&d.totalSent), atomic.LoadInt64(&d.totalFailed),
		atomic.LoadInt64(&d.totalDeferred), atomic.LoadInt64(&d.totalCancelled))
}

// Stats returns cumulative dispatch counters.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":      atomic.LoadInt64(&d.totalSent),
		"total_failed":    atomic.LoadInt64(&d.totalFailed),
		"total_deferred":  atomic.LoadInt64(&d.totalDeferred),
		"total_cancelled": atomic.LoadInt64(&d.totalCancelled),
	}
}

func (d *Dispatcher) worker(workerNum int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			jobs, err := d.store.ClaimDueBatch(d.ctx, d.cfg.BatchSize, d.now())
			if err != nil {
				if d.ctx.Err() == nil {
					log.Printf("[Dispatcher] Worker %d: claim error: %v", workerNum, err)
				}
				d.sleep(d.cfg.PollInterval)
				continue
			}
			if len(jobs) == 0 {
				d.sleep(d.cfg.PollInterval)
				continue
			}
			for i := range jobs {
				if d.ctx.Err() != nil {
					// Shutdown mid-batch: put unprocessed claims back.
					d.requeueClaim(&jobs[i])
					continue
				}
				d.processJob(&jobs[i])
			}
		}
	}
}

func (d *Dispatcher) sleep(dur time.Duration) {
	select {
	case <-d.ctx.Done():
	case <-time.After(dur):
	}
}

// requeueClaim returns a claimed but unprocessed job to the queue without
// consuming an attempt. Failing that, the recovery worker will pick it up.
func (d *Dispatcher) requeueClaim(job *domain.EmailJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.Reschedule(ctx, job.ID, job.ScheduledAt, "", false); err != nil {
		log.Printf("[Dispatcher] Failed to requeue claim %s on shutdown: %v", job.ID, err)
	}
}

// ProcessOnce runs a single claim-and-dispatch pass. Used by tests and by
// the drain path; the worker loop is the production driver.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (int, error) {
	d.mu.Lock()
	if d.ctx == nil {
		d.ctx, d.cancel = context.WithCancel(context.Background())
	}
	d.mu.Unlock()

	jobs, err := d.store.ClaimDueBatch(ctx, d.cfg.BatchSize, d.now())
	if err != nil {
		return 0, err
	}
	for i := range jobs {
		d.processJob(&jobs[i])
	}
	return len(jobs), nil
}

func (d *Dispatcher) processJob(job *domain.EmailJob) {
	ctx := d.ctx

	contact, err := d.store.GetContact(ctx, job.ContactID)
	if err != nil {
		d.fail(ctx, job, fmt.Sprintf("contact lookup: %v", err))
		return
	}
	if contact.Unsubscribed {
		d.cancelJob(ctx, job, "contact unsubscribed")
		return
	}

	// Conditions are re-evaluated against the live contact at dispatch
	// time, not the contact as it was when the job was planned.
	if job.Condition != nil && !job.Condition.Evaluate(contact) {
		d.cancelJob(ctx, job, "condition not met at dispatch")
		return
	}

	if d.gate != nil {
		allowed, err := d.gate.Allow(ctx, job.ContactID)
		if err != nil {
			log.Printf("[Dispatcher] Rate limit check failed for job %s: %v", job.ID, err)
		}
		if !allowed {
			// Deferral is not a delivery attempt; the job keeps its
			// attempt budget for real send failures.
			at := d.now().Add(d.cfg.RateLimitDefer)
			if err := d.store.Reschedule(ctx, job.ID, at, "rate limited", false); err != nil {
				log.Printf("[Dispatcher] Failed to defer job %s: %v", job.ID, err)
			}
			atomic.AddInt64(&d.totalDeferred, 1)
			return
		}
	}

	tpl, err := d.store.GetTemplate(ctx, job.TemplateID)
	if err != nil {
		d.fail(ctx, job, fmt.Sprintf("template lookup: %v", err))
		return
	}

	rendered, err := d.renderer.Resolve(tpl, contact, job.Variables)
	if err != nil {
		d.fail(ctx, job, fmt.Sprintf("render: %v", err))
		return
	}

	msg := &mail.Message{
		JobID:     job.ID,
		ToEmail:   contact.Email,
		ToName:    contact.FullName(),
		FromEmail: d.cfg.FromEmail,
		FromName:  d.cfg.FromName,
		ReplyTo:   d.cfg.ReplyTo,
		Subject:   rendered.Subject,
		BodyHTML:  rendered.BodyHTML,
		BodyText:  rendered.BodyText,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	result, err := d.sender.Send(sendCtx, msg)
	cancel()

	if err != nil {
		if mail.IsPermanent(err) {
			d.fail(ctx, job, err.Error())
			return
		}
		d.retry(ctx, job, err)
		return
	}

	sentAt := result.SentAt
	if sentAt.IsZero() {
		sentAt = d.now()
	}
	if err := d.store.MarkSent(ctx, job.ID, result.ProviderID, sentAt); err != nil {
		log.Printf("[Dispatcher] Failed to mark job %s sent: %v", job.ID, err)
	}
	d.recordEvent(ctx, job.ID, domain.EventSent, result.ProviderID, sentAt, nil)
	if err := d.store.TouchLastContacted(ctx, job.ContactID, sentAt); err != nil {
		log.Printf("[Dispatcher] Failed to touch contact %s: %v", job.ContactID, err)
	}
	atomic.AddInt64(&d.totalSent, 1)
	log.Printf("[Dispatcher] Sent job %s to %s (provider id %s)",
		job.ID, logger.RedactEmail(contact.Email), result.ProviderID)
}

// retry reschedules after a transient failure, or fails the job once its
// attempt budget is spent. Attempts counts failures already recorded, so a
// job stays retryable until MaxAttempts failures have accrued.
func (d *Dispatcher) retry(ctx context.Context, job *domain.EmailJob, sendErr error) {
	if job.Attempts >= d.cfg.MaxAttempts {
		d.fail(ctx, job, fmt.Sprintf("retries exhausted: %v", sendErr))
		return
	}
	delay := domain.NextRetryDelay(job.Attempts, d.cfg.RetryBase, d.cfg.RetryCap)
	at := d.now().Add(delay)
	if err := d.store.Reschedule(ctx, job.ID, at, sendErr.Error(), true); err != nil {
		log.Printf("[Dispatcher] Failed to reschedule job %s: %v", job.ID, err)
	}
	log.Printf("[Dispatcher] Job %s transient failure (attempt %d), retrying in %s: %v",
		job.ID, job.Attempts+1, delay, sendErr)
}

func (d *Dispatcher) fail(ctx context.Context, job *domain.EmailJob, reason string) {
	if err := d.store.MarkFailed(ctx, job.ID, reason); err != nil {
		log.Printf("[Dispatcher] Failed to mark job %s failed: %v", job.ID, err)
	}
	d.recordEvent(ctx, job.ID, domain.EventFailed, "", d.now(), map[string]string{"reason": reason})
	atomic.AddInt64(&d.totalFailed, 1)
	log.Printf("[Dispatcher] Job %s failed permanently: %s", job.ID, reason)
}

func (d *Dispatcher) cancelJob(ctx context.Context, job *domain.EmailJob, reason string) {
	if err := d.store.CancelClaimed(ctx, job.ID, reason); err != nil {
		log.Printf("[Dispatcher] Failed to cancel job %s: %v", job.ID, err)
	}
	atomic.AddInt64(&d.totalCancelled, 1)
	log.Printf("[Dispatcher] Job %s cancelled: %s", job.ID, reason)
}

// recordEvent writes a locally observed lifecycle event. Local events get a
// synthetic provider event id so the dedup key stays unique per occurrence.
func (d *Dispatcher) recordEvent(ctx context.Context, jobID string, typ domain.EventType, providerEventID string, at time.Time, meta map[string]string) {
	if providerEventID == "" {
		providerEventID = "local-" + uuid.New().String()
	}
	var payload json.RawMessage
	if len(meta) > 0 {
		payload, _ = json.Marshal(meta)
	}
	_, err := d.store.InsertEvent(ctx, &domain.EmailEvent{
		ID:              uuid.New().String(),
		EmailJobID:      jobID,
		Type:            typ,
		ProviderEventID: providerEventID,
		OccurredAt:      at,
		Metadata:        payload,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Dispatcher] Failed to record %s event for job %s: %v", typ, jobID, err)
	}
}
