package sequence

import (
	"context"
	"time"

	"github.com/quotient/followup-engine/internal/domain"
)

// Repository defines the data access contract for the sequence service.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetSequence returns a sequence with its steps. Returns
	// ErrSequenceNotFound if it doesn't exist.
	GetSequence(ctx context.Context, id string) (*domain.EmailSequence, error)

	// GetTemplate returns an active template. Returns ErrTemplateNotFound
	// if it doesn't exist or is inactive.
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)

	// GetContact returns a contact. Returns ErrContactNotFound if missing.
	GetContact(ctx context.Context, id string) (*domain.Contact, error)

	// CreateJobs inserts a batch of jobs atomically.
	CreateJobs(ctx context.Context, jobs []domain.EmailJob) error

	// CancelPending transitions this contact's scheduled jobs to cancelled
	// and returns how many were cancelled. A non-empty sequenceID narrows
	// the cancellation to that sequence's jobs. Jobs already claimed for
	// sending or in a terminal state are never touched.
	CancelPending(ctx context.Context, contactID, sequenceID string) (int, error)

	// GetJob returns a single job. Returns ErrJobNotFound if missing.
	GetJob(ctx context.Context, id string) (*domain.EmailJob, error)

	// ListJobs returns jobs matching the filter, newest first, plus the
	// total count before pagination.
	ListJobs(ctx context.Context, f ListFilter) ([]domain.EmailJob, int, error)

	// ListEvents returns a page of a job's events ordered by occurrence
	// time, plus the total count before pagination.
	ListEvents(ctx context.Context, jobID string, limit, offset int) ([]domain.EmailEvent, int, error)

	// SetNextFollowUp records when the contact's next pending email is due.
	// A nil time clears the marker.
	SetNextFollowUp(ctx context.Context, contactID string, at *time.Time) error
}

// ListFilter controls filtering and pagination for job lists.
type ListFilter struct {
	ContactID  string
	SequenceID string
	Status     string
	Limit      int
	Offset     int
}
