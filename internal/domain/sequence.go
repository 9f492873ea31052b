package domain

import (
	"sort"
	"time"
)

// EmailSequence is an ordered, named set of follow-up steps sent to a
// contact over time.
type EmailSequence struct {
	ID               string              `json:"id" db:"id"`
	Name             string              `json:"name" db:"name"`
	Description      string              `json:"description" db:"description"`
	IsActive         bool                `json:"is_active" db:"is_active"`
	ContinueOnBounce bool                `json:"continue_on_bounce" db:"continue_on_bounce"`
	Steps            []EmailSequenceStep `json:"steps"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}

// EmailSequenceStep is one template plus a cumulative wait-day offset and an
// optional gating condition. WaitDays is the distance from the sequence
// anchor time, NOT from the previous step: operators may author steps out of
// day-order, and the planner orders canonically by StepNumber.
type EmailSequenceStep struct {
	StepNumber int        `json:"step_number" db:"step_number"`
	TemplateID string     `json:"template_id" db:"template_id"`
	WaitDays   int        `json:"wait_days" db:"wait_days"`
	Condition  *Condition `json:"condition,omitempty"`
}

// SortedSteps returns the steps ordered ascending by StepNumber. The
// receiver's slice is not modified.
func (s *EmailSequence) SortedSteps() []EmailSequenceStep {
	out := make([]EmailSequenceStep, len(s.Steps))
	copy(out, s.Steps)
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}

// SchedulableSteps returns the sorted steps that carry a resolvable template
// id. A sequence with none of these cannot be scheduled.
func (s *EmailSequence) SchedulableSteps() []EmailSequenceStep {
	var out []EmailSequenceStep
	for _, step := range s.SortedSteps() {
		if step.TemplateID != "" {
			out = append(out, step)
		}
	}
	return out
}
