package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quotient/followup-engine/internal/domain"
	"github.com/quotient/followup-engine/internal/pkg/httputil"
	"github.com/quotient/followup-engine/internal/service/sequence"
)

// StatsSource exposes worker counters for the stats endpoint.
type StatsSource interface {
	Stats() map[string]int64
}

// Handlers carries the service dependencies for all HTTP endpoints.
type Handlers struct {
	svc        *sequence.Service
	dispatcher StatsSource
	ingestor   EventSink
	started    time.Time
}

// NewHandlers wires the handler set. dispatcher may be nil when the API
// runs in a separate process from the workers.
func NewHandlers(svc *sequence.Service, dispatcher StatsSource, ingestor EventSink) *Handlers {
	return &Handlers{
		svc:        svc,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		started:    time.Now(),
	}
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// ScheduleSequence enrolls a contact in a sequence.
// POST /api/sequences/{id}/schedule
func (h *Handlers) ScheduleSequence(w http.ResponseWriter, r *http.Request) {
	sequenceID := chi.URLParam(r, "id")

	var input sequence.ScheduleInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	if input.ContactID == "" {
		httputil.BadRequest(w, "contact_id is required")
		return
	}

	jobs, err := h.svc.Schedule(r.Context(), sequenceID, input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{
		"scheduled": len(jobs),
		"jobs":      jobs,
	})
}

// CancelContactJobs cancels a contact's pending jobs, optionally scoped to
// one sequence via ?sequence_id=.
// POST /api/contacts/{id}/cancel-jobs
func (h *Handlers) CancelContactJobs(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "id")

	n, err := h.svc.CancelPendingJobs(r.Context(), contactID, r.URL.Query().Get("sequence_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"cancelled": n})
}

// SendImmediate queues a one-off email.
// POST /api/emails/send
func (h *Handlers) SendImmediate(w http.ResponseWriter, r *http.Request) {
	var input sequence.SendImmediateInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	if input.ContactID == "" || input.TemplateID == "" {
		httputil.BadRequest(w, "contact_id and template_id are required")
		return
	}

	job, err := h.svc.SendImmediate(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.Accepted(w, job)
}

// ListJobs returns jobs filtered by contact, sequence and status.
// GET /api/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 200)
	q := r.URL.Query()

	if s := q.Get("status"); s != "" && !validStatusFilter(s) {
		httputil.BadRequest(w, "invalid status filter")
		return
	}

	jobs, total, err := h.svc.ListJobs(r.Context(), sequence.ListFilter{
		ContactID:  q.Get("contact_id"),
		SequenceID: q.Get("sequence_id"),
		Status:     q.Get("status"),
		Limit:      p.Limit,
		Offset:     p.Offset,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.EmailJob{}
	}
	httputil.OK(w, NewPaginatedResponse(jobs, p, total))
}

// GetJob returns one job.
// GET /api/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.OK(w, job)
}

// ListJobEvents returns a page of a job's delivery events.
// GET /api/jobs/{id}/events
func (h *Handlers) ListJobEvents(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 200)
	events, total, err := h.svc.ListEvents(r.Context(), chi.URLParam(r, "id"), p.Limit, p.Offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []domain.EmailEvent{}
	}
	httputil.OK(w, NewPaginatedResponse(events, p, total))
}

// GetStats exposes dispatcher and ingestor counters.
// GET /api/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	if h.dispatcher != nil {
		out["dispatcher"] = h.dispatcher.Stats()
	}
	if src, ok := h.ingestor.(StatsSource); ok && src != nil {
		out["ingestor"] = src.Stats()
	}
	httputil.OK(w, out)
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sequence.ErrSequenceNotFound),
		errors.Is(err, sequence.ErrContactNotFound),
		errors.Is(err, sequence.ErrJobNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, sequence.ErrTemplateNotFound),
		errors.Is(err, sequence.ErrSequenceEmpty):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, sequence.ErrContactUnsubscribed):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

func validStatusFilter(s string) bool {
	switch domain.JobStatus(s) {
	case domain.JobScheduled, domain.JobSending, domain.JobSent, domain.JobFailed, domain.JobCancelled:
		return true
	}
	return false
}
