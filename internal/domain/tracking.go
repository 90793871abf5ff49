package domain

import "time"

// EventType enumerates the kinds of engagement recorded for an email.
type EventType string

const (
	EventOpen  EventType = "open"
	EventClick EventType = "click"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventOpen || t == EventClick
}

// Event is a single recorded open or click. Events are append-only.
type Event struct {
	ID        int64     `json:"id"`
	EmailID   int64     `json:"email_id"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	UserAgent *string   `json:"user_agent,omitempty"`
	IPAddress *string   `json:"ip_address,omitempty"`
	URL       *string   `json:"url,omitempty"`
}

// NewEvent carries everything needed to append an Event. The store assigns
// the ID and Timestamp.
type NewEvent struct {
	TenantID  string
	EmailID   int64
	Type      EventType
	UserAgent *string
	IPAddress *string
	URL       *string
}
