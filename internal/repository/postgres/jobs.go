package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quotient/followup-engine/internal/domain"
	"github.com/quotient/followup-engine/internal/service/sequence"
)

const jobColumns = `
	id, contact_id, template_id, COALESCE(sequence_id,''), COALESCE(step_number,0),
	schedule_type, status, scheduled_at, attempts, COALESCE(last_error,''),
	condition, variables, COALESCE(provider_id,''), sent_at, cancel_requested,
	created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*domain.EmailJob, error) {
	j := &domain.EmailJob{}
	var condRaw, varsRaw []byte
	err := row.Scan(
		&j.ID, &j.ContactID, &j.TemplateID, &j.SequenceID, &j.StepNumber,
		&j.ScheduleType, &j.Status, &j.ScheduledAt, &j.Attempts, &j.LastError,
		&condRaw, &varsRaw, &j.ProviderID, &j.SentAt, &j.CancelRequested,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(condRaw) > 0 {
		j.Condition = &domain.Condition{}
		if err := unmarshalJSON(condRaw, j.Condition); err != nil {
			return nil, fmt.Errorf("decode job condition: %w", err)
		}
	}
	if err := unmarshalJSON(varsRaw, &j.Variables); err != nil {
		return nil, fmt.Errorf("decode job variables: %w", err)
	}
	return j, nil
}

// CreateJobs inserts a batch of jobs in one transaction.
func (r *Repo) CreateJobs(ctx context.Context, jobs []domain.EmailJob) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO email_jobs
			(id, contact_id, template_id, sequence_id, step_number, schedule_type,
			 status, scheduled_at, attempts, condition, variables, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, $7, $8, 0, $9, $10, NOW(), NOW())
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, j := range jobs {
		var cond interface{}
		if j.Condition != nil {
			if cond, err = marshalJSON(j.Condition); err != nil {
				return err
			}
		}
		var vars interface{}
		if len(j.Variables) > 0 {
			if vars, err = marshalJSON(j.Variables); err != nil {
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx, j.ID, j.ContactID, j.TemplateID, j.SequenceID,
			j.StepNumber, j.ScheduleType, j.Status, j.ScheduledAt, cond, vars); err != nil {
			return fmt.Errorf("insert job %s: %w", j.ID, err)
		}
	}
	return tx.Commit()
}

// CancelPending moves this contact's scheduled jobs to cancelled. Jobs a
// dispatcher has already claimed are never clawed back mid-send; they get
// cancel_requested set instead, and Reschedule honours the flag if the
// attempt does not finalize the job.
func (r *Repo) CancelPending(ctx context.Context, contactID, sequenceID string) (int, error) {
	q := `
		UPDATE email_jobs
		SET status = 'cancelled', updated_at = NOW()
		WHERE contact_id = $1 AND status = 'scheduled'`
	args := []interface{}{contactID}
	if sequenceID != "" {
		q += ` AND sequence_id = $2`
		args = append(args, sequenceID)
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}

	q = `
		UPDATE email_jobs
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE contact_id = $1 AND status = 'sending'`
	if sequenceID != "" {
		q += ` AND sequence_id = $2`
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return int(n), fmt.Errorf("flag in-flight jobs: %w", err)
	}
	return int(n), nil
}

// GetJob returns one job by id.
func (r *Repo) GetJob(ctx context.Context, id string) (*domain.EmailJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT`+jobColumns+` FROM email_jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, sequence.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs matching the filter, newest scheduled first, plus
// the total count before pagination.
func (r *Repo) ListJobs(ctx context.Context, f sequence.ListFilter) ([]domain.EmailJob, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if f.ContactID != "" {
		where += fmt.Sprintf(" AND contact_id = $%d", idx)
		args = append(args, f.ContactID)
		idx++
	}
	if f.SequenceID != "" {
		where += fmt.Sprintf(" AND sequence_id = $%d", idx)
		args = append(args, f.SequenceID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	q := `SELECT` + jobColumns + ` FROM email_jobs` + where +
		fmt.Sprintf(" ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, total, rows.Err()
}

// ClaimDueBatch atomically claims up to limit due jobs for this dispatcher
// by flipping them to sending. SKIP LOCKED keeps concurrent dispatchers from
// blocking on each other's claims; the status guard means a job is claimed
// at most once.
func (r *Repo) ClaimDueBatch(ctx context.Context, limit int, now time.Time) ([]domain.EmailJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE email_jobs
		SET status = 'sending', updated_at = NOW()
		WHERE id IN (
			SELECT j.id FROM email_jobs j
			WHERE j.status = 'scheduled'
			  AND j.scheduled_at <= $1
			ORDER BY j.scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+jobColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// MarkSent finalizes a successfully delivered job. A cancellation requested
// while the send was in flight lost the race; the email went out, so the
// flag is cleared and the job records as sent.
func (r *Repo) MarkSent(ctx context.Context, jobID, providerID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'sent', provider_id = $2, sent_at = $3, cancel_requested = FALSE,
		    attempts = attempts + 1, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, jobID, providerID, at)
	if err != nil {
		return fmt.Errorf("mark job sent: %w", err)
	}
	return nil
}

// MarkFailed finalizes a job whose delivery will not be retried.
func (r *Repo) MarkFailed(ctx context.Context, jobID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// Reschedule returns a claimed job to scheduled at a later time. A send
// attempt that failed transiently consumes an attempt; a rate-limit deferral
// does not. A job whose cancellation was requested mid-send is cancelled
// here instead of going back into the queue.
func (r *Repo) Reschedule(ctx context.Context, jobID string, at time.Time, reason string, consumeAttempt bool) error {
	inc := 0
	if consumeAttempt {
		inc = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = CASE WHEN cancel_requested THEN 'cancelled' ELSE 'scheduled' END,
		    cancel_requested = FALSE, scheduled_at = $2, attempts = attempts + $3,
		    last_error = NULLIF($4,''), updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, jobID, at, inc, reason)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

// CancelClaimed marks a claimed job cancelled, used when the dispatch-time
// condition check decides the step must not go out.
func (r *Repo) CancelClaimed(ctx context.Context, jobID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'cancelled', last_error = NULLIF($2,''), updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("cancel claimed job: %w", err)
	}
	return nil
}

// MarkBounced flips a delivered job to failed after a bounce notification.
// The bounce is a delayed negative signal, so only jobs already in sent move.
func (r *Repo) MarkBounced(ctx context.Context, jobID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'sent'
	`, jobID, reason)
	if err != nil {
		return fmt.Errorf("mark job bounced: %w", err)
	}
	return nil
}

// FindJobByProviderID resolves a provider message id back to its job, used
// by webhook reconciliation.
func (r *Repo) FindJobByProviderID(ctx context.Context, providerID string) (*domain.EmailJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT`+jobColumns+` FROM email_jobs WHERE provider_id = $1`, providerID))
	if err == sql.ErrNoRows {
		return nil, sequence.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job by provider id: %w", err)
	}
	return j, nil
}

// RecoverStuck requeues jobs stuck in sending longer than staleAge, failing
// those already at the attempt ceiling. Returns (requeued, deadlettered).
func (r *Repo) RecoverStuck(ctx context.Context, staleAge time.Duration, maxAttempts int) (int, int, error) {
	cutoff := time.Now().Add(-staleAge)

	res, err := r.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = CASE WHEN cancel_requested THEN 'cancelled' ELSE 'scheduled' END,
		    cancel_requested = FALSE,
		    last_error = 'requeued after dispatcher stall', updated_at = NOW()
		WHERE status = 'sending' AND updated_at < $1 AND attempts < $2
	`, cutoff, maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	requeued, _ := res.RowsAffected()

	res, err = r.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = 'failed', last_error = 'exceeded retry limit after dispatcher stall', updated_at = NOW()
		WHERE status = 'sending' AND updated_at < $1 AND attempts >= $2
	`, cutoff, maxAttempts)
	if err != nil {
		return int(requeued), 0, fmt.Errorf("fail stuck jobs: %w", err)
	}
	failed, _ := res.RowsAffected()

	return int(requeued), int(failed), nil
}
