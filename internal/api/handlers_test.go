package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/quotient/followup-engine/internal/api"
	"github.com/quotient/followup-engine/internal/domain"
	"github.com/quotient/followup-engine/internal/service/sequence"
	"github.com/quotient/followup-engine/internal/worker"
)

// fakeRepo backs the service with just enough state for handler tests.
type fakeRepo struct {
	mu        sync.Mutex
	sequences map[string]*domain.EmailSequence
	templates map[string]*domain.EmailTemplate
	contacts  map[string]*domain.Contact
	jobs      map[string]*domain.EmailJob
	events    map[string][]domain.EmailEvent
}

func newFakeRepo() *fakeRepo {
	r := &fakeRepo{
		sequences: make(map[string]*domain.EmailSequence),
		templates: make(map[string]*domain.EmailTemplate),
		contacts:  make(map[string]*domain.Contact),
		jobs:      make(map[string]*domain.EmailJob),
		events:    make(map[string][]domain.EmailEvent),
	}
	r.templates["tpl-1"] = &domain.EmailTemplate{ID: "tpl-1", IsActive: true}
	r.contacts["c1"] = &domain.Contact{ID: "c1", Email: "kim@acme.test"}
	r.sequences["seq-1"] = &domain.EmailSequence{
		ID: "seq-1", IsActive: true,
		Steps: []domain.EmailSequenceStep{
			{StepNumber: 1, TemplateID: "tpl-1", WaitDays: 0},
			{StepNumber: 2, TemplateID: "tpl-1", WaitDays: 4},
		},
	}
	return r
}

func (r *fakeRepo) GetSequence(_ context.Context, id string) (*domain.EmailSequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sequences[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, sequence.ErrSequenceNotFound
}

func (r *fakeRepo) GetTemplate(_ context.Context, id string) (*domain.EmailTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.templates[id]; ok && t.IsActive {
		cp := *t
		return &cp, nil
	}
	return nil, sequence.ErrTemplateNotFound
}

func (r *fakeRepo) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contacts[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, sequence.ErrContactNotFound
}

func (r *fakeRepo) CreateJobs(_ context.Context, jobs []domain.EmailJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range jobs {
		cp := jobs[i]
		r.jobs[cp.ID] = &cp
	}
	return nil
}

func (r *fakeRepo) CancelPending(_ context.Context, contactID, sequenceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.ContactID == contactID && j.Status == domain.JobScheduled &&
			(sequenceID == "" || j.SequenceID == sequenceID) {
			j.Status = domain.JobCancelled
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) GetJob(_ context.Context, id string) (*domain.EmailJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, sequence.ErrJobNotFound
}

func (r *fakeRepo) ListJobs(_ context.Context, f sequence.ListFilter) ([]domain.EmailJob, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EmailJob
	for _, j := range r.jobs {
		if f.ContactID != "" && j.ContactID != f.ContactID {
			continue
		}
		if f.Status != "" && string(j.Status) != f.Status {
			continue
		}
		out = append(out, *j)
	}
	return out, len(out), nil
}

func (r *fakeRepo) ListEvents(_ context.Context, jobID string, limit, offset int) ([]domain.EmailEvent, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.events[jobID]
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return append([]domain.EmailEvent(nil), all[offset:end]...), total, nil
}

func (r *fakeRepo) SetNextFollowUp(_ context.Context, contactID string, at *time.Time) error {
	return nil
}

// recordingSink captures ingested provider events.
type recordingSink struct {
	mu     sync.Mutex
	events []worker.ProviderEvent
}

func (s *recordingSink) Ingest(_ context.Context, evt worker.ProviderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeRepo, *recordingSink) {
	t.Helper()
	repo := newFakeRepo()
	sink := &recordingSink{}
	h := api.NewHandlers(sequence.NewService(repo), nil, sink)
	srv := httptest.NewServer(api.SetupRoutes(h, nil))
	t.Cleanup(srv.Close)
	return srv, repo, sink
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestScheduleSequenceEndpoint(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/sequences/seq-1/schedule", map[string]string{"contact_id": "c1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d, want 201", resp.StatusCode)
	}

	var body struct {
		Scheduled int               `json:"scheduled"`
		Jobs      []domain.EmailJob `json:"jobs"`
	}
	decodeBody(t, resp, &body)
	if body.Scheduled != 2 || len(body.Jobs) != 2 {
		t.Fatalf("scheduled %d jobs, want 2", body.Scheduled)
	}
	if len(repo.jobs) != 2 {
		t.Errorf("repo holds %d jobs", len(repo.jobs))
	}
}

func TestScheduleSequenceErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name       string
		url        string
		body       interface{}
		wantStatus int
	}{
		{"unknown sequence", "/api/sequences/nope/schedule", map[string]string{"contact_id": "c1"}, http.StatusNotFound},
		{"missing contact_id", "/api/sequences/seq-1/schedule", map[string]string{}, http.StatusBadRequest},
		{"unknown contact", "/api/sequences/seq-1/schedule", map[string]string{"contact_id": "ghost"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+tt.url, tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestCancelContactJobsEndpoint(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/sequences/seq-1/schedule", map[string]string{"contact_id": "c1"})
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/contacts/c1/cancel-jobs", map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	var body map[string]int
	decodeBody(t, resp, &body)
	if body["cancelled"] != 2 {
		t.Errorf("cancelled %d, want 2", body["cancelled"])
	}
	for id, j := range repo.jobs {
		if j.Status != domain.JobCancelled {
			t.Errorf("job %s status %q", id, j.Status)
		}
	}
}

func TestSendImmediateEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/emails/send", map[string]string{
		"contact_id": "c1", "template_id": "tpl-1",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d, want 202", resp.StatusCode)
	}
	var job domain.EmailJob
	decodeBody(t, resp, &job)
	if job.ScheduleType != domain.ScheduleImmediate || job.Status != domain.JobScheduled {
		t.Errorf("job %+v", job)
	}
}

func TestListJobsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/sequences/seq-1/schedule", map[string]string{"contact_id": "c1"})
	resp.Body.Close()

	r, err := http.Get(srv.URL + "/api/jobs?contact_id=c1&status=scheduled")
	if err != nil {
		t.Fatalf("GET jobs: %v", err)
	}
	if r.StatusCode != http.StatusOK {
		t.Fatalf("status %d", r.StatusCode)
	}
	var body api.PaginatedResponse
	decodeBody(t, r, &body)
	if body.Pagination.Total != 2 {
		t.Errorf("total %d, want 2", body.Pagination.Total)
	}

	r, _ = http.Get(srv.URL + "/api/jobs?status=sleeping")
	r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status filter gave %d, want 400", r.StatusCode)
	}
}

func TestListJobEventsEndpointPaginates(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	repo.jobs["j1"] = &domain.EmailJob{ID: "j1", ContactID: "c1", TemplateID: "tpl-1", Status: domain.JobSent}
	base := time.Now()
	for i := 0; i < 5; i++ {
		repo.events["j1"] = append(repo.events["j1"], domain.EmailEvent{
			ID: fmt.Sprintf("e%d", i), EmailJobID: "j1",
			Type: domain.EventOpened, OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	r, err := http.Get(srv.URL + "/api/jobs/j1/events?limit=2&page=2")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	if r.StatusCode != http.StatusOK {
		t.Fatalf("status %d", r.StatusCode)
	}
	var body api.PaginatedResponse
	decodeBody(t, r, &body)
	if body.Pagination.Total != 5 {
		t.Errorf("total %d, want 5", body.Pagination.Total)
	}
	if body.Pagination.TotalPages != 3 || !body.Pagination.HasMore {
		t.Errorf("pagination meta %+v", body.Pagination)
	}
	page, ok := body.Data.([]interface{})
	if !ok || len(page) != 2 {
		t.Fatalf("page holds %v, want 2 events", body.Data)
	}
}

func TestWebhookEndpointAlwaysAcknowledges(t *testing.T) {
	srv, _, sink := newTestServer(t)
	url := srv.URL + "/webhooks/email-events"

	// Single event object.
	resp := postJSON(t, url, worker.ProviderEvent{JobID: "j1", Type: "opened", ProviderEventID: "e1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("single event status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Batch array.
	resp = postJSON(t, url, []worker.ProviderEvent{
		{JobID: "j1", Type: "delivered", ProviderEventID: "e2"},
		{JobID: "j1", Type: "clicked", ProviderEventID: "e3"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status %d", resp.StatusCode)
	}
	var body map[string]int
	decodeBody(t, resp, &body)
	if body["accepted"] != 2 {
		t.Errorf("accepted %d, want 2", body["accepted"])
	}

	// Garbage still gets a 200 so the provider keeps the webhook enabled.
	garbage, err := http.Post(url, "application/json", bytes.NewReader([]byte("{{{")))
	if err != nil {
		t.Fatalf("POST garbage: %v", err)
	}
	garbage.Body.Close()
	if garbage.StatusCode != http.StatusOK {
		t.Errorf("garbage payload status %d, want 200", garbage.StatusCode)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 3 {
		t.Errorf("sink received %d events, want 3", len(sink.events))
	}
}

func TestWebhookKeepsNestedMetadata(t *testing.T) {
	srv, _, sink := newTestServer(t)

	// Providers nest structured detail under metadata; the raw payload must
	// survive the trip to the ingestor, not break decoding for the batch.
	raw := []byte(`[{"job_id":"j1","type":"bounced","provider_event_id":"e9",
		"metadata":{"bounce_type":"hard","diagnostic":{"code":550,"reply":"user unknown"}}}]`)
	resp, err := http.Post(srv.URL+"/webhooks/email-events", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body map[string]int
	decodeBody(t, resp, &body)
	if body["accepted"] != 1 {
		t.Fatalf("accepted %d, want 1", body["accepted"])
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 {
		t.Fatalf("sink received %d events", len(sink.events))
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(sink.events[0].Metadata, &meta); err != nil {
		t.Fatalf("metadata not valid JSON: %v", err)
	}
	if meta["bounce_type"] != "hard" {
		t.Errorf("metadata = %v", meta)
	}
	if _, ok := meta["diagnostic"].(map[string]interface{}); !ok {
		t.Errorf("nested diagnostic lost: %v", meta)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
