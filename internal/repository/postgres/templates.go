package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/quotient/followup-engine/internal/domain"
	"github.com/quotient/followup-engine/internal/service/sequence"
)

// GetTemplate returns an active template by id.
func (r *Repo) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	t := &domain.EmailTemplate{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, type, subject, body_html, COALESCE(body_text,''),
		       COALESCE(variables, '{}'), is_active, created_at, updated_at
		FROM email_templates
		WHERE id = $1 AND is_active = TRUE
	`, id).Scan(
		&t.ID, &t.Name, &t.Type, &t.Subject, &t.BodyHTML, &t.BodyText,
		pq.Array(&t.Variables), &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sequence.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}
