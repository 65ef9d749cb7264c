// Package profile tracks per-user recency for each tenant.
//
// A profile is created the first time a (client, user) pair is seen.
// FirstSeen is write-once; LastActive only ever moves forward.
package profile

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("profile: not found")
)

// Profile is the server-owned recency record for a user.
type Profile struct {
	ClientID   string    `json:"clientId"`
	UserID     string    `json:"userId"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastActive time.Time `json:"lastActive"`
}

// Store persists user profiles.
type Store interface {
	// Touch upserts the profile for (clientID, userID): creates it with
	// FirstSeen = LastActive = at if absent, otherwise advances LastActive
	// monotonically (an older timestamp never rewinds it).
	Touch(ctx context.Context, clientID, userID string, at time.Time) error
	// Get returns the profile or ErrNotFound.
	Get(ctx context.Context, clientID, userID string) (*Profile, error)
}
