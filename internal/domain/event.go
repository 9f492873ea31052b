package domain

import (
	"encoding/json"
	"time"
)

// EventType classifies a delivery lifecycle event reported by the email
// provider or recorded locally at send time.
type EventType string

const (
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventBounced   EventType = "bounced"
	EventFailed    EventType = "failed"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventDelivered, EventOpened, EventClicked, EventBounced, EventFailed:
		return true
	}
	return false
}

// EmailEvent is one recorded delivery event for a job. Events from the
// provider are deduplicated on (job, type, provider event id); locally
// recorded events use a synthetic provider event id.
type EmailEvent struct {
	ID              string    `json:"id" db:"id"`
	EmailJobID      string    `json:"email_job_id" db:"email_job_id"`
	Type            EventType `json:"type" db:"type"`
	ProviderEventID string    `json:"provider_event_id" db:"provider_event_id"`
	OccurredAt      time.Time `json:"occurred_at" db:"occurred_at"`
	RecordedAt      time.Time `json:"recorded_at" db:"recorded_at"`
	// Metadata is the provider's payload for this event, stored verbatim.
	// Providers nest arbitrary structures here, so it stays raw JSON.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}
