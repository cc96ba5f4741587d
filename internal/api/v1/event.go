package v1

import (
	"fmt"
	"time"
)

// Well-known event types. The type field is not restricted to this set:
// unrecognized type strings are stored as-is so new client event kinds do
// not require a server release.
const (
	TypeMessageSent   = "message_sent"
	TypeCallMade      = "call_made"
	TypeFormSubmitted = "form_submitted"
	TypeLogin         = "login"
	TypeCustom        = "custom"
)

// EventCandidate is the wire-level shape of a single event as submitted by
// clients, before entity construction. Timestamp stays a raw string here so
// a malformed value surfaces as a per-index construction error instead of a
// whole-batch bind failure.
type EventCandidate struct {
	// EventID is the client-supplied globally unique identifier.
	// It is the natural idempotency key: a second submission with the
	// same id is a silent no-op, never an error.
	EventID string `json:"event_id"`

	// AccountID identifies the account the activity belongs to.
	AccountID string `json:"account_id"`

	// UserID identifies the acting user within the account.
	UserID string `json:"user_id"`

	// Type is the activity kind (see the Type* constants). Arbitrary
	// strings are accepted.
	Type string `json:"type"`

	// Timestamp is the client-side occurrence instant, ISO-8601.
	// It may be backdated; rollup day derivation uses this, never the
	// server clock.
	Timestamp string `json:"timestamp"`

	// Metadata is an opaque key-value map, stored as-is and never
	// interpreted by the pipeline. Defaults to empty.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the required envelope fields. Type intentionally only
// requires non-emptiness.
func (c *EventCandidate) Validate() error {
	if c.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if c.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Event is the immutable persisted fact. Created once by the ingestion
// path, never mutated, never deleted.
type Event struct {
	ID         string                 `json:"event_id"`
	AccountID  string                 `json:"account_id"`
	UserID     string                 `json:"user_id"`
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`

	// IngestedAt is the server-assigned creation instant (audit trail).
	IngestedAt time.Time `json:"ingested_at"`
}

// NewEvent constructs an Event from a candidate, parsing the timestamp.
// A parse failure here is a non-retryable per-index validation error.
func NewEvent(c *EventCandidate, ingestedAt time.Time) (*Event, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	occurredAt, err := time.Parse(time.RFC3339, c.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timestamp is not valid ISO-8601: %w", err)
	}

	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return &Event{
		ID:         c.EventID,
		AccountID:  c.AccountID,
		UserID:     c.UserID,
		Type:       c.Type,
		OccurredAt: occurredAt,
		Metadata:   metadata,
		IngestedAt: ingestedAt.UTC(),
	}, nil
}

// Day returns the event's calendar date: OccurredAt truncated to a UTC day
// boundary. Rollup rows are keyed on this.
func (e *Event) Day() time.Time {
	t := e.OccurredAt.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IndexedError reports a per-candidate failure by its position in the
// submitted batch.
type IndexedError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}
