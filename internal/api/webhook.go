package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/quotient/followup-engine/internal/pkg/httputil"
	"github.com/quotient/followup-engine/internal/worker"
)

// EventSink accepts normalized provider events. worker.Ingestor implements it.
type EventSink interface {
	Ingest(ctx context.Context, evt worker.ProviderEvent) error
}

// webhookPayload accepts both a single event object and a batch array, since
// providers differ on delivery shape.
type webhookPayload struct {
	Events []worker.ProviderEvent
}

func (p *webhookPayload) UnmarshalJSON(data []byte) error {
	var batch []worker.ProviderEvent
	if err := json.Unmarshal(data, &batch); err == nil {
		p.Events = batch
		return nil
	}
	var single worker.ProviderEvent
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	p.Events = []worker.ProviderEvent{single}
	return nil
}

// ReceiveEmailEvents ingests provider delivery notifications.
// POST /webhooks/email-events
//
// The response is 200 no matter what: providers retry and eventually
// disable webhooks that keep erroring, and the dedup key makes redelivery
// of anything we did process harmless.
func (h *Handlers) ReceiveEmailEvents(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("[Webhook] Discarding unparseable payload: %v", err)
		httputil.OK(w, map[string]int{"accepted": 0})
		return
	}

	accepted := 0
	for _, evt := range payload.Events {
		if err := h.ingestor.Ingest(r.Context(), evt); err != nil {
			log.Printf("[Webhook] Ingest error: %v", err)
			continue
		}
		accepted++
	}
	httputil.OK(w, map[string]int{"accepted": accepted})
}
