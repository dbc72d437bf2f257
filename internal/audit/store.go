package audit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWriteFailure means the event could not be appended to the store.
	// It is fatal to the request that produced the event.
	ErrWriteFailure = errors.New("audit: write failure")

	// ErrForwardingFailure means the external collector did not accept the
	// event. It is logged and never returned by Record.
	ErrForwardingFailure = errors.New("audit: forwarding failure")

	// ErrInvalidEvent is returned for entries outside the taxonomy.
	ErrInvalidEvent = errors.New("audit: invalid event")
)

// Filter selects events. Zero fields match everything. From is inclusive,
// To is inclusive. Limit <= 0 means no limit at the store level.
type Filter struct {
	Actor   string
	Type    EventType
	Outcome Status
	From    time.Time
	To      time.Time
	Limit   int
}

// Match reports whether e satisfies f, ignoring Limit.
func (f Filter) Match(e *Event) bool {
	if f.Actor != "" && e.User != f.Actor {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Outcome != "" && e.Status != f.Outcome {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// UserCount is one row of the top users ranking.
type UserCount struct {
	User  string `json:"user"`
	Count int64  `json:"count"`
}

// Statistics summarizes the whole trail.
type Statistics struct {
	TotalEvents     int64            `json:"total_events"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	EventsByStatus  map[string]int64 `json:"events_by_status"`
	TopUsers        []UserCount      `json:"top_users"`
	RecentEvents24h int64            `json:"recent_events_24h"`
}

// TopUsersLimit bounds Statistics.TopUsers.
const TopUsersLimit = 10

// Store persists audit events. Implementations never update an event;
// PurgeBefore is the only delete path.
type Store interface {
	Append(ctx context.Context, event *Event) error
	// Query returns matching events newest first.
	Query(ctx context.Context, filter Filter) ([]Event, error)
	// Stats aggregates all events; RecentEvents24h counts events at or after since.
	Stats(ctx context.Context, since time.Time) (*Statistics, error)
	// PurgeBefore deletes events older than cutoff and returns how many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
