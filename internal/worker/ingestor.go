package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quotient/followup-engine/internal/domain"
)

// EventStore is the persistence surface for webhook event ingestion.
type EventStore interface {
	GetJob(ctx context.Context, id string) (*domain.EmailJob, error)
	FindJobByProviderID(ctx context.Context, providerID string) (*domain.EmailJob, error)
	InsertEvent(ctx context.Context, e *domain.EmailEvent) (bool, error)
	GetSequence(ctx context.Context, id string) (*domain.EmailSequence, error)
	CancelPending(ctx context.Context, contactID, sequenceID string) (int, error)
	MarkBounced(ctx context.Context, jobID, reason string) error
	MarkUnsubscribed(ctx context.Context, contactID string) error
}

// ProviderEvent is one normalized delivery notification from the email
// provider. Either JobID or ProviderMessageID identifies the send.
type ProviderEvent struct {
	JobID             string    `json:"job_id,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ProviderEventID   string    `json:"provider_event_id,omitempty"`
	Type              string    `json:"type"`
	OccurredAt        time.Time `json:"occurred_at"`
	// Metadata is kept raw: providers send nested objects and non-string
	// values here, and the payload is stored verbatim for the audit trail.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// metaString extracts a top-level string field from a raw metadata payload.
// Anything unparseable or non-string reads as empty.
func metaString(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Ingestor reconciles provider events against jobs: it records each event
// once, and on a bounce cancels the contact's remaining scheduled jobs in
// the same sequence unless the sequence opts out.
type Ingestor struct {
	store EventStore

	totalRecorded  int64
	totalDuplicate int64
	totalDropped   int64
}

// NewIngestor creates an event ingestor over the given store.
func NewIngestor(store EventStore) *Ingestor {
	return &Ingestor{store: store}
}

// Stats returns cumulative ingestion counters.
func (in *Ingestor) Stats() map[string]int64 {
	return map[string]int64{
		"total_recorded":  atomic.LoadInt64(&in.totalRecorded),
		"total_duplicate": atomic.LoadInt64(&in.totalDuplicate),
		"total_dropped":   atomic.LoadInt64(&in.totalDropped),
	}
}

// Ingest processes one provider event. Events that cannot be matched to a
// job are dropped with a log line rather than an error: the webhook endpoint
// must keep acknowledging no matter what the provider sends.
func (in *Ingestor) Ingest(ctx context.Context, evt ProviderEvent) error {
	typ := domain.EventType(strings.ToLower(strings.TrimSpace(evt.Type)))
	if typ == "" {
		atomic.AddInt64(&in.totalDropped, 1)
		log.Printf("[Ingestor] Dropping event with empty type")
		return nil
	}
	if !typ.Valid() {
		// Unknown provider types are still recorded against the job for the
		// audit trail; they just never move the job's status.
		log.Printf("[Ingestor] Recording event with unrecognized type %q", evt.Type)
	}

	job, err := in.resolveJob(ctx, evt)
	if err != nil {
		atomic.AddInt64(&in.totalDropped, 1)
		log.Printf("[Ingestor] Dropping unmatched %s event (job=%q provider_msg=%q): %v",
			typ, evt.JobID, evt.ProviderMessageID, err)
		return nil
	}

	occurredAt := evt.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	providerEventID := evt.ProviderEventID
	if providerEventID == "" {
		// Providers that omit an event id still deserve best-effort dedup:
		// synthesize a stable id from what identifies the notification.
		providerEventID = fmt.Sprintf("synth-%s-%s-%d", job.ID, typ, occurredAt.Unix())
	}

	inserted, err := in.store.InsertEvent(ctx, &domain.EmailEvent{
		ID:              uuid.New().String(),
		EmailJobID:      job.ID,
		Type:            typ,
		ProviderEventID: providerEventID,
		OccurredAt:      occurredAt,
		Metadata:        evt.Metadata,
	})
	if err != nil {
		return fmt.Errorf("record %s event for job %s: %w", typ, job.ID, err)
	}
	if !inserted {
		atomic.AddInt64(&in.totalDuplicate, 1)
		return nil
	}
	atomic.AddInt64(&in.totalRecorded, 1)

	if typ == domain.EventBounced {
		in.handleBounce(ctx, job, evt.Metadata)
	}
	return nil
}

func (in *Ingestor) resolveJob(ctx context.Context, evt ProviderEvent) (*domain.EmailJob, error) {
	if evt.JobID != "" {
		return in.store.GetJob(ctx, evt.JobID)
	}
	if evt.ProviderMessageID != "" {
		return in.store.FindJobByProviderID(ctx, evt.ProviderMessageID)
	}
	return nil, fmt.Errorf("event carries no job reference")
}

// handleBounce marks the delivered job failed and cancels the contact's
// remaining scheduled jobs in the bounced sequence. A hard bounce
// additionally unsubscribes the contact and cancels across every sequence,
// since the address is gone for good.
func (in *Ingestor) handleBounce(ctx context.Context, job *domain.EmailJob, meta json.RawMessage) {
	if err := in.store.MarkBounced(ctx, job.ID, "bounced"); err != nil {
		log.Printf("[Ingestor] Failed to mark job %s bounced: %v", job.ID, err)
	}

	hard := strings.EqualFold(metaString(meta, "bounce_type"), "hard") ||
		strings.EqualFold(metaString(meta, "bounce_class"), "permanent")

	if hard {
		if err := in.store.MarkUnsubscribed(ctx, job.ContactID); err != nil {
			log.Printf("[Ingestor] Failed to unsubscribe contact %s after hard bounce: %v", job.ContactID, err)
		}
		n, err := in.store.CancelPending(ctx, job.ContactID, "")
		if err != nil {
			log.Printf("[Ingestor] Failed to cancel jobs for contact %s after hard bounce: %v", job.ContactID, err)
			return
		}
		log.Printf("[Ingestor] Hard bounce on job %s: cancelled %d pending jobs for contact %s", job.ID, n, job.ContactID)
		return
	}

	if job.SequenceID == "" {
		return
	}
	seq, err := in.store.GetSequence(ctx, job.SequenceID)
	if err != nil {
		log.Printf("[Ingestor] Bounce on job %s: sequence %s lookup failed: %v", job.ID, job.SequenceID, err)
		return
	}
	if seq.ContinueOnBounce {
		return
	}
	n, err := in.store.CancelPending(ctx, job.ContactID, job.SequenceID)
	if err != nil {
		log.Printf("[Ingestor] Failed to cancel sequence %s jobs for contact %s: %v", job.SequenceID, job.ContactID, err)
		return
	}
	log.Printf("[Ingestor] Bounce on job %s: cancelled %d remaining jobs in sequence %s for contact %s",
		job.ID, n, job.SequenceID, job.ContactID)
}
