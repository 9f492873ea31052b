package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quotient/followup-engine/internal/domain"
	"github.com/quotient/followup-engine/internal/service/sequence"
)

// GetSequence loads a sequence and its steps in step-number order.
func (r *Repo) GetSequence(ctx context.Context, id string) (*domain.EmailSequence, error) {
	s := &domain.EmailSequence{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description,''), is_active, continue_on_bounce,
		       created_at, updated_at
		FROM email_sequences
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Description, &s.IsActive, &s.ContinueOnBounce, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, sequence.ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT step_number, template_id, wait_days, condition
		FROM email_sequence_steps
		WHERE sequence_id = $1
		ORDER BY step_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get sequence steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step domain.EmailSequenceStep
		var condRaw []byte
		if err := rows.Scan(&step.StepNumber, &step.TemplateID, &step.WaitDays, &condRaw); err != nil {
			return nil, fmt.Errorf("scan sequence step: %w", err)
		}
		if len(condRaw) > 0 {
			step.Condition = &domain.Condition{}
			if err := unmarshalJSON(condRaw, step.Condition); err != nil {
				return nil, fmt.Errorf("decode step condition: %w", err)
			}
		}
		s.Steps = append(s.Steps, step)
	}
	return s, rows.Err()
}
