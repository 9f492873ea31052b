package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quotient/followup-engine/internal/domain"
)

// memStore implements JobStore, EventStore and RecoveryStore with the same
// claim semantics as the Postgres repo: status transitions are conditional,
// so a job is claimed at most once even under concurrent dispatchers.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.EmailJob
	contacts  map[string]*domain.Contact
	templates map[string]*domain.EmailTemplate
	sequences map[string]*domain.EmailSequence
	events    []domain.EmailEvent
	eventKeys map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]*domain.EmailJob),
		contacts:  make(map[string]*domain.Contact),
		templates: make(map[string]*domain.EmailTemplate),
		sequences: make(map[string]*domain.EmailSequence),
		eventKeys: make(map[string]bool),
	}
}

func (m *memStore) ClaimDueBatch(_ context.Context, limit int, now time.Time) ([]domain.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.EmailJob
	for _, j := range m.jobs {
		if j.Status == domain.JobScheduled && !j.ScheduledAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].ScheduledAt.Before(due[k].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.EmailJob, 0, len(due))
	for _, j := range due {
		j.Status = domain.JobSending
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (m *memStore) transition(jobID string, from, to domain.JobStatus, mut func(*domain.EmailJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if j.Status != from {
		return nil // condition not met, no-op like the SQL guard
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	if mut != nil {
		mut(j)
	}
	return nil
}

func (m *memStore) MarkSent(_ context.Context, jobID, providerID string, at time.Time) error {
	return m.transition(jobID, domain.JobSending, domain.JobSent, func(j *domain.EmailJob) {
		j.ProviderID = providerID
		j.SentAt = &at
		j.CancelRequested = false
		j.Attempts++
		j.LastError = ""
	})
}

func (m *memStore) MarkFailed(_ context.Context, jobID, reason string) error {
	return m.transition(jobID, domain.JobSending, domain.JobFailed, func(j *domain.EmailJob) {
		j.Attempts++
		j.LastError = reason
	})
}

func (m *memStore) Reschedule(_ context.Context, jobID string, at time.Time, reason string, consumeAttempt bool) error {
	return m.transition(jobID, domain.JobSending, domain.JobScheduled, func(j *domain.EmailJob) {
		if j.CancelRequested {
			j.Status = domain.JobCancelled
			j.CancelRequested = false
		}
		j.ScheduledAt = at
		if consumeAttempt {
			j.Attempts++
		}
		if reason != "" {
			j.LastError = reason
		}
	})
}

func (m *memStore) CancelClaimed(_ context.Context, jobID, reason string) error {
	return m.transition(jobID, domain.JobSending, domain.JobCancelled, func(j *domain.EmailJob) {
		j.LastError = reason
	})
}

func (m *memStore) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetTemplate(_ context.Context, id string) (*domain.EmailTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok || !t.IsActive {
		return nil, fmt.Errorf("template %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) InsertEvent(_ context.Context, e *domain.EmailEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.EmailJobID + "|" + string(e.Type) + "|" + e.ProviderEventID
	if m.eventKeys[key] {
		return false, nil
	}
	m.eventKeys[key] = true
	m.events = append(m.events, *e)
	return true, nil
}

func (m *memStore) TouchLastContacted(_ context.Context, contactID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[contactID]; ok {
		c.LastContactedAt = &at
	}
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*domain.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) FindJobByProviderID(_ context.Context, providerID string) (*domain.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ProviderID == providerID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no job with provider id %s", providerID)
}

func (m *memStore) GetSequence(_ context.Context, id string) (*domain.EmailSequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sequences[id]
	if !ok {
		return nil, fmt.Errorf("sequence %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) CancelPending(_ context.Context, contactID, sequenceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.ContactID != contactID {
			continue
		}
		if sequenceID != "" && j.SequenceID != sequenceID {
			continue
		}
		switch j.Status {
		case domain.JobScheduled:
			j.Status = domain.JobCancelled
			n++
		case domain.JobSending:
			j.CancelRequested = true
		}
	}
	return n, nil
}

func (m *memStore) MarkBounced(_ context.Context, jobID, reason string) error {
	return m.transition(jobID, domain.JobSent, domain.JobFailed, func(j *domain.EmailJob) {
		j.LastError = reason
	})
}

func (m *memStore) MarkUnsubscribed(_ context.Context, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[contactID]; ok {
		c.Unsubscribed = true
	}
	return nil
}

func (m *memStore) RecoverStuck(_ context.Context, staleAge time.Duration, maxAttempts int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-staleAge)
	requeued, failed := 0, 0
	for _, j := range m.jobs {
		if j.Status != domain.JobSending || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		if j.Attempts < maxAttempts {
			if j.CancelRequested {
				j.Status = domain.JobCancelled
				j.CancelRequested = false
			} else {
				j.Status = domain.JobScheduled
			}
			requeued++
		} else {
			j.Status = domain.JobFailed
			failed++
		}
	}
	return requeued, failed, nil
}

func (m *memStore) job(id string) domain.EmailJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) eventsFor(jobID string) []domain.EmailEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EmailEvent
	for _, e := range m.events {
		if e.EmailJobID == jobID {
			out = append(out, e)
		}
	}
	return out
}
