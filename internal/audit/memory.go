package audit

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of event.
func (s *MemoryStore) Append(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := *event
	e.Details = maps.Clone(event.Details)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Query returns matching events newest first. Events with equal timestamps
// are returned in reverse insertion order.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if filter.Match(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Stats aggregates every stored event.
func (s *MemoryStore) Stats(ctx context.Context, since time.Time) (*Statistics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Statistics{
		EventsByType:   map[string]int64{},
		EventsByStatus: map[string]int64{},
	}
	users := map[string]int64{}
	for i := range s.events {
		e := &s.events[i]
		st.TotalEvents++
		st.EventsByType[string(e.Type)]++
		st.EventsByStatus[string(e.Status)]++
		users[e.User]++
		if !e.Timestamp.Before(since) {
			st.RecentEvents24h++
		}
	}
	st.TopUsers = rankUsers(users, TopUsersLimit)
	return st, nil
}

// PurgeBefore drops events older than cutoff.
func (s *MemoryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func rankUsers(counts map[string]int64, limit int) []UserCount {
	out := make([]UserCount, 0, len(counts))
	for u, c := range counts {
		out = append(out, UserCount{User: u, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].User < out[j].User
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
