package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opentrusty/trustcore/internal/audit"
)

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(audit.Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args = buildWhere(audit.Filter{
		Actor:   "alice",
		Outcome: audit.StatusFailure,
		From:    from,
	})
	assert.Equal(t, ` WHERE "user" = $1 AND status = $2 AND timestamp >= $3`, where)
	assert.Equal(t, []any{"alice", "failure", from}, args)
}

func TestConfig_ConnString(t *testing.T) {
	cfg := Config{
		Host: "db", Port: "5432", User: "trustcore", Password: "p@ss word",
		Database: "audit", SSLMode: "disable", MaxOpenConns: 4, MaxIdleConns: 1,
	}
	assert.Equal(t,
		"host=db port=5432 user=trustcore password='p@ss word' dbname=audit sslmode=disable pool_max_conns=4 pool_min_conns=1",
		cfg.ConnString())
	assert.Equal(t, "trustcore@db:5432/audit", cfg.Redacted())

	cfg.URL = "postgres://trustcore:secret@db:5432/audit"
	assert.Equal(t, cfg.URL, cfg.ConnString())
	assert.NotContains(t, cfg.Redacted(), "secret")
}
