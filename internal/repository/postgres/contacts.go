package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quotient/followup-engine/internal/domain"
	"github.com/quotient/followup-engine/internal/service/sequence"
)

// GetContact returns a contact with its custom fields.
func (r *Repo) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	c := &domain.Contact{}
	var fieldsRaw []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(first_name,''), COALESCE(last_name,''),
		       COALESCE(company,''), fields, unsubscribed,
		       last_contacted_at, next_follow_up_at, created_at, updated_at
		FROM contacts
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &fieldsRaw,
		&c.Unsubscribed, &c.LastContactedAt, &c.NextFollowUpAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sequence.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	if err := unmarshalJSON(fieldsRaw, &c.Fields); err != nil {
		return nil, fmt.Errorf("decode contact fields: %w", err)
	}
	return c, nil
}

// SetNextFollowUp records the contact's next pending send time. Nil clears it.
func (r *Repo) SetNextFollowUp(ctx context.Context, contactID string, at *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET next_follow_up_at = $2, updated_at = NOW() WHERE id = $1
	`, contactID, at)
	if err != nil {
		return fmt.Errorf("set next follow-up: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sequence.ErrContactNotFound
	}
	return nil
}

// TouchLastContacted stamps a successful send on the contact.
func (r *Repo) TouchLastContacted(ctx context.Context, contactID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET last_contacted_at = $2, updated_at = NOW() WHERE id = $1
	`, contactID, at)
	if err != nil {
		return fmt.Errorf("touch last contacted: %w", err)
	}
	return nil
}

// MarkUnsubscribed flags the contact so no further jobs are planned for it.
func (r *Repo) MarkUnsubscribed(ctx context.Context, contactID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET unsubscribed = TRUE, updated_at = NOW() WHERE id = $1
	`, contactID)
	if err != nil {
		return fmt.Errorf("mark unsubscribed: %w", err)
	}
	return nil
}
