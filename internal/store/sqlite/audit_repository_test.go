package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/observability/logger"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_RestrictsPermissions(t *testing.T) {
	db := openTestDB(t)

	st, err := os.Stat(db.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	repo := NewAuditRepository(db)
	trail := audit.New(repo, audit.WithLogger(logger.Discard()))
	_, err = trail.Record(context.Background(), audit.Entry{Type: audit.TypeAPICall, User: "u", Status: audit.StatusSuccess})
	require.NoError(t, err)

	events, err := trail.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// TestPurpose: Validates that the SQLite audit store filters by actor, applies the limit and returns newest events first.
// Scope: Unit Test
// Security: Forensic reconstruction of access decisions
// Expected: At most 5 events, all for alice, ordered by timestamp then insertion, descending.
// Test Case ID: AUD-SQL-01
func TestAuditRepository_QueryActorLimitOrder(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trail := audit.New(repo, audit.WithLogger(logger.Discard()), audit.WithClock(func() time.Time { return now }))

	var lastAlice string
	for i := 0; i < 8; i++ {
		for _, user := range []string{"alice", "bob"} {
			id, err := trail.Record(ctx, audit.Entry{
				Type:      audit.TypeAuthentication,
				User:      user,
				Action:    "authenticate",
				Resource:  "/api/v1/me",
				Status:    audit.StatusSuccess,
				IPAddress: "10.0.0.1",
				Details:   map[string]any{"method": "api_key", "attempt": i},
			})
			require.NoError(t, err)
			if user == "alice" {
				lastAlice = id
			}
		}
		if i%2 == 1 {
			now = now.Add(time.Second)
		}
	}

	events, err := trail.Query(ctx, audit.Filter{Actor: "alice", Limit: 5})
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, lastAlice, events[0].ID)
	for i, e := range events {
		assert.Equal(t, "alice", e.User)
		assert.Equal(t, "10.0.0.1", e.IPAddress)
		assert.Equal(t, "", e.UserAgent)
		if i > 0 {
			assert.False(t, e.Timestamp.After(events[i-1].Timestamp))
		}
	}
	assert.Equal(t, "api_key", events[0].Details["method"])
	assert.EqualValues(t, 7, events[0].Details["attempt"])
}

func TestAuditRepository_FiltersAndWindow(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	add := func(offset time.Duration, et audit.EventType, st audit.Status) {
		ts := base.Add(offset)
		require.NoError(t, repo.Append(ctx, &audit.Event{
			ID: ts.Format(time.RFC3339Nano) + string(et), Timestamp: ts, Type: et,
			User: "carol", Action: "x", Resource: "y", Status: st, CreatedAt: ts,
		}))
	}
	add(0, audit.TypeAuthentication, audit.StatusFailure)
	add(time.Hour, audit.TypeAuthorization, audit.StatusDenied)
	add(2*time.Hour, audit.TypeAuthentication, audit.StatusSuccess)

	events, err := repo.Query(ctx, audit.Filter{Type: audit.TypeAuthentication})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = repo.Query(ctx, audit.Filter{From: base.Add(time.Hour), To: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.StatusDenied, events[0].Status)

	events, err = repo.Query(ctx, audit.Filter{Outcome: audit.StatusFailure})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, base, events[0].Timestamp)
	assert.Empty(t, events[0].Details)
}

// TestPurpose: Validates that stored audit rows cannot be modified in place.
// Scope: Unit Test
// Security: Audit log integrity (CWE-117)
// Expected: UPDATE is aborted by the trigger while the purge DELETE still works.
// Test Case ID: AUD-SQL-02
func TestAuditRepository_AppendOnly(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	ts := time.Now().UTC().Add(-90 * 24 * time.Hour)
	require.NoError(t, repo.Append(ctx, &audit.Event{
		ID: "e1", Timestamp: ts, Type: audit.TypeAPICall, User: "u", Status: audit.StatusSuccess, CreatedAt: ts,
	}))

	_, err := db.SQL().ExecContext(ctx, `UPDATE audit_log SET status = 'denied'`)
	assert.Error(t, err)

	n, err := repo.PurgeBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAuditRepository_DuplicateIDFails(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	e := &audit.Event{ID: "dup", Timestamp: time.Now(), Type: audit.TypeAPICall, User: "u", Status: audit.StatusSuccess, CreatedAt: time.Now()}
	require.NoError(t, repo.Append(ctx, e))
	assert.Error(t, repo.Append(ctx, e))
}

func TestAuditRepository_StatsAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	db, err := Open(ctx, path)
	require.NoError(t, err)
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	trail := audit.New(NewAuditRepository(db), audit.WithLogger(logger.Discard()), audit.WithClock(func() time.Time { return now }))

	for _, u := range []string{"alice", "alice", "bob"} {
		_, err := trail.Record(ctx, audit.Entry{Type: audit.TypeDataAccess, User: u, Status: audit.StatusSuccess})
		require.NoError(t, err)
	}
	_, err = trail.Record(ctx, audit.Entry{Type: audit.TypeAuthentication, User: "mallory", Status: audit.StatusFailure})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	trail = audit.New(NewAuditRepository(db), audit.WithLogger(logger.Discard()), audit.WithClock(func() time.Time { return now }))

	st, err := trail.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, st.TotalEvents)
	assert.EqualValues(t, 4, st.RecentEvents24h)
	assert.Equal(t, map[string]int64{"data_access": 3, "authentication": 1}, st.EventsByType)
	assert.Equal(t, map[string]int64{"success": 3, "failure": 1}, st.EventsByStatus)
	require.Len(t, st.TopUsers, 3)
	assert.Equal(t, audit.UserCount{User: "alice", Count: 2}, st.TopUsers[0])
	assert.Equal(t, audit.UserCount{User: "bob", Count: 1}, st.TopUsers[1])
}
