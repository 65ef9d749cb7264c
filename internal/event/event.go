// Package event defines the behavioral event model and its persistence contract.
//
// Events are immutable once ingested. Each event carries exactly one client
// (tenant) ID and is ordered by timestamp within a session. The client-supplied
// event ID doubles as an idempotency key: redelivery of the same envelope after
// a timeout must not produce a second row.
package event

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrDuplicate = errors.New("event: duplicate event ID")
)

// Type enumerates the built-in event types. Arbitrary snake_case custom
// types are also accepted by the ingestion endpoint.
type Type string

const (
	TypePageView         Type = "page_view"
	TypeClick            Type = "click"
	TypeFormSubmit       Type = "form_submit"
	TypeError            Type = "error"
	TypePromiseRejection Type = "promise_rejection"
	TypeIdentify         Type = "identify"
	TypeHeartbeat        Type = "heartbeat"
	TypeCustom           Type = "custom"
)

// IsErrorClass reports whether the type counts toward the error-rate factor.
func (t Type) IsErrorClass() bool {
	return t == TypeError || t == TypePromiseRejection
}

// IsEngagement reports whether the type counts toward the engagement factor.
func (t Type) IsEngagement() bool {
	return t == TypePageView || t == TypeClick
}

// Event is a single ingested behavioral observation.
type Event struct {
	ID         string         `json:"id"`
	ClientID   string         `json:"clientId"`
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Type       Type           `json:"eventType"`
	PageURL    string         `json:"pageUrl,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Store persists events.
type Store interface {
	// Insert stores an event. Inserting an ID that already exists returns
	// ErrDuplicate and leaves the stored row untouched.
	Insert(ctx context.Context, e *Event) error
	// ListByUser returns a user's events most recent first.
	// limit <= 0 means no limit.
	ListByUser(ctx context.Context, clientID, userID string, limit int) ([]*Event, error)
	// CountByClient returns the number of events stored for a tenant.
	CountByClient(ctx context.Context, clientID string) (int, error)
}
