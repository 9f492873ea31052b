package domain

import "time"

// JobStatus is the lifecycle state of an EmailJob.
//
// Transitions: scheduled -> sending -> sent | failed,
// sending -> scheduled (retry), scheduled -> cancelled.
// sent, failed and cancelled are terminal.
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobSending   JobStatus = "sending"
	JobSent      JobStatus = "sent"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobSent || s == JobFailed || s == JobCancelled
}

// ScheduleType distinguishes one-off manual sends from sequence-planned ones.
type ScheduleType string

const (
	ScheduleImmediate    ScheduleType = "immediate"
	ScheduleSequenceStep ScheduleType = "sequence_step"
)

// EmailJob is a single planned email delivery for one contact. It carries a
// snapshot of the template variables captured at scheduling time; the
// contact's live fields are merged in at dispatch.
type EmailJob struct {
	ID           string            `json:"id" db:"id"`
	ContactID    string            `json:"contact_id" db:"contact_id"`
	TemplateID   string            `json:"template_id" db:"template_id"`
	SequenceID   string            `json:"sequence_id,omitempty" db:"sequence_id"`
	StepNumber   int               `json:"step_number,omitempty" db:"step_number"`
	ScheduleType ScheduleType      `json:"schedule_type" db:"schedule_type"`
	Status       JobStatus         `json:"status" db:"status"`
	ScheduledAt  time.Time         `json:"scheduled_at" db:"scheduled_at"`
	Attempts     int               `json:"attempts" db:"attempts"`
	LastError    string            `json:"last_error,omitempty" db:"last_error"`
	Condition    *Condition        `json:"condition,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	ProviderID   string            `json:"provider_id,omitempty" db:"provider_id"`
	SentAt       *time.Time        `json:"sent_at,omitempty" db:"sent_at"`
	// CancelRequested marks a claimed job whose cancellation arrived
	// mid-send. The in-flight attempt proceeds; if it does not finalize
	// the job, the job is cancelled instead of requeued.
	CancelRequested bool      `json:"cancel_requested,omitempty" db:"cancel_requested"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Due reports whether the job is eligible for dispatch at now.
func (j *EmailJob) Due(now time.Time) bool {
	return j.Status == JobScheduled && !j.ScheduledAt.After(now)
}

// NextRetryDelay returns the backoff before attempt n+1 given a base delay
// and a cap. Attempts are counted from zero, so the first retry waits base,
// the second 2*base, then 4*base, clamped at cap.
func NextRetryDelay(attempts int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
