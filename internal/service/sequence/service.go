package sequence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quotient/followup-engine/internal/domain"
)

// Service plans and manages follow-up email jobs. All public methods are
// safe for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a sequence service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ScheduleInput holds the parameters for enrolling a contact in a sequence.
type ScheduleInput struct {
	ContactID string `json:"contact_id"`
	// AnchorTime is the reference point that each step's wait-day offset is
	// added to. Zero means now.
	AnchorTime time.Time         `json:"anchor_time,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// Schedule enrolls a contact in a sequence. Re-scheduling is idempotent:
// any still-pending jobs for this contact and sequence are cancelled first,
// then the full plan is recreated from the anchor time. Each step becomes
// one scheduled job at anchor + waitDays; wait offsets are cumulative from
// the anchor, not step-to-step deltas.
func (s *Service) Schedule(ctx context.Context, sequenceID string, input ScheduleInput) ([]domain.EmailJob, error) {
	if input.ContactID == "" {
		return nil, fmt.Errorf("contact_id is required")
	}

	seq, err := s.repo.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if !seq.IsActive {
		// Deactivated sequences are hidden from scheduling entirely.
		return nil, ErrSequenceNotFound
	}
	steps := seq.SchedulableSteps()
	if len(steps) == 0 {
		return nil, ErrSequenceEmpty
	}

	contact, err := s.repo.GetContact(ctx, input.ContactID)
	if err != nil {
		return nil, err
	}
	if contact.Unsubscribed {
		return nil, ErrContactUnsubscribed
	}

	// Templates are resolved lazily at dispatch: a step whose template has
	// gone missing or inactive fails that job alone, not the whole plan.

	cancelled, err := s.repo.CancelPending(ctx, input.ContactID, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("cancel pending jobs: %w", err)
	}
	if cancelled > 0 {
		log.Printf("[sequence.Service] Re-schedule of %s for contact %s cancelled %d pending jobs", sequenceID, input.ContactID, cancelled)
	}

	anchor := input.AnchorTime
	if anchor.IsZero() {
		anchor = s.now()
	}

	now := s.now()
	jobs := make([]domain.EmailJob, 0, len(steps))
	for _, step := range steps {
		jobs = append(jobs, domain.EmailJob{
			ID:           uuid.New().String(),
			ContactID:    input.ContactID,
			TemplateID:   step.TemplateID,
			SequenceID:   sequenceID,
			StepNumber:   step.StepNumber,
			ScheduleType: domain.ScheduleSequenceStep,
			Status:       domain.JobScheduled,
			ScheduledAt:  anchor.Add(time.Duration(step.WaitDays) * 24 * time.Hour),
			Condition:    step.Condition,
			Variables:    input.Variables,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := s.repo.CreateJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("create jobs: %w", err)
	}

	earliest := jobs[0].ScheduledAt
	for _, j := range jobs[1:] {
		if j.ScheduledAt.Before(earliest) {
			earliest = j.ScheduledAt
		}
	}
	if err := s.repo.SetNextFollowUp(ctx, input.ContactID, &earliest); err != nil {
		log.Printf("[sequence.Service] Failed to set next follow-up for contact %s: %v", input.ContactID, err)
	}

	log.Printf("[sequence.Service] Scheduled %d jobs for contact %s in sequence %s", len(jobs), input.ContactID, sequenceID)
	return jobs, nil
}

// CancelPendingJobs cancels a contact's scheduled jobs, scoped to one
// sequence when sequenceID is non-empty, across all sequences otherwise.
// Jobs already claimed for sending finish on their own. The contact's next
// follow-up marker is cleared only on a contact-wide cancellation, since a
// scoped one may leave other sequences' jobs pending. Returns the
// cancellation count.
func (s *Service) CancelPendingJobs(ctx context.Context, contactID, sequenceID string) (int, error) {
	if _, err := s.repo.GetContact(ctx, contactID); err != nil {
		return 0, err
	}

	n, err := s.repo.CancelPending(ctx, contactID, sequenceID)
	if err != nil {
		return 0, err
	}
	if sequenceID == "" {
		if err := s.repo.SetNextFollowUp(ctx, contactID, nil); err != nil {
			log.Printf("[sequence.Service] Failed to clear next follow-up for contact %s: %v", contactID, err)
		}
	}

	log.Printf("[sequence.Service] Cancelled %d pending jobs for contact %s", n, contactID)
	return n, nil
}

// SendImmediateInput holds the parameters for a one-off manual send.
type SendImmediateInput struct {
	ContactID  string            `json:"contact_id"`
	TemplateID string            `json:"template_id"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// SendImmediate queues a one-off email for the next dispatcher pass. The
// send itself is asynchronous; the returned job can be polled for status.
func (s *Service) SendImmediate(ctx context.Context, input SendImmediateInput) (*domain.EmailJob, error) {
	if input.ContactID == "" {
		return nil, fmt.Errorf("contact_id is required")
	}
	if input.TemplateID == "" {
		return nil, fmt.Errorf("template_id is required")
	}

	contact, err := s.repo.GetContact(ctx, input.ContactID)
	if err != nil {
		return nil, err
	}
	if contact.Unsubscribed {
		return nil, ErrContactUnsubscribed
	}
	if _, err := s.repo.GetTemplate(ctx, input.TemplateID); err != nil {
		return nil, err
	}

	now := s.now()
	job := domain.EmailJob{
		ID:           uuid.New().String(),
		ContactID:    input.ContactID,
		TemplateID:   input.TemplateID,
		ScheduleType: domain.ScheduleImmediate,
		Status:       domain.JobScheduled,
		ScheduledAt:  now,
		Variables:    input.Variables,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateJobs(ctx, []domain.EmailJob{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	log.Printf("[sequence.Service] Queued immediate send of template %s to contact %s", input.TemplateID, input.ContactID)
	return &job, nil
}

// GetJob returns a single job.
func (s *Service) GetJob(ctx context.Context, id string) (*domain.EmailJob, error) {
	return s.repo.GetJob(ctx, id)
}

// ListJobs returns jobs matching the filter plus the total count.
func (s *Service) ListJobs(ctx context.Context, f ListFilter) ([]domain.EmailJob, int, error) {
	return s.repo.ListJobs(ctx, f)
}

// ListEvents returns a page of a job's delivery events in occurrence order,
// plus the total event count.
func (s *Service) ListEvents(ctx context.Context, jobID string, limit, offset int) ([]domain.EmailEvent, int, error) {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListEvents(ctx, jobID, limit, offset)
}
