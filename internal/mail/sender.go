// Package mail abstracts the outbound email provider behind a Sender
// interface so the dispatcher can be exercised against fakes in tests.
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is one fully resolved outbound email.
type Message struct {
	JobID     string
	ToEmail   string
	ToName    string
	FromEmail string
	FromName  string
	ReplyTo   string
	Subject   string
	BodyHTML  string
	BodyText  string
}

// SendResult reports the provider's acceptance of a message. ProviderID is
// the provider-assigned message id used to correlate later webhook events.
type SendResult struct {
	ProviderID string
	SentAt     time.Time
}

// Sender delivers a single email. Implementations must respect ctx
// cancellation and return a PermanentError for failures that a retry cannot
// fix; all other errors are treated as transient and retried with backoff.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// PermanentError marks a send failure that must not be retried, such as a
// rejected recipient address or a suppressed destination.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent send failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent send failure: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
