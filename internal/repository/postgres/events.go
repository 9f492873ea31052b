package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quotient/followup-engine/internal/domain"
)

// InsertEvent records a delivery event. Duplicate provider deliveries are
// absorbed by the unique index on (email_job_id, type, provider_event_id);
// the bool result reports whether the event was newly recorded.
func (r *Repo) InsertEvent(ctx context.Context, e *domain.EmailEvent) (bool, error) {
	var meta interface{}
	if len(e.Metadata) > 0 {
		meta = []byte(e.Metadata)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_events (id, email_job_id, type, provider_event_id, occurred_at, recorded_at, metadata)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6)
		ON CONFLICT (email_job_id, type, provider_event_id) DO NOTHING
	`, e.ID, e.EmailJobID, e.Type, e.ProviderEventID, e.OccurredAt, meta)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return n > 0, nil
}

// ListEvents returns a page of a job's events ordered by occurrence time,
// plus the total count before pagination.
func (r *Repo) ListEvents(ctx context.Context, jobID string, limit, offset int) ([]domain.EmailEvent, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_events WHERE email_job_id = $1`, jobID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email_job_id, type, provider_event_id, occurred_at, recorded_at, metadata
		FROM email_events
		WHERE email_job_id = $1
		ORDER BY occurred_at ASC
		LIMIT $2 OFFSET $3
	`, jobID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailEvent
	for rows.Next() {
		var e domain.EmailEvent
		var metaRaw []byte
		if err := rows.Scan(&e.ID, &e.EmailJobID, &e.Type, &e.ProviderEventID,
			&e.OccurredAt, &e.RecordedAt, &metaRaw); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		if len(metaRaw) > 0 {
			e.Metadata = append(json.RawMessage(nil), metaRaw...)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
