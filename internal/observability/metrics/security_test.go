package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityInstruments_NilIsNoop(t *testing.T) {
	var inst *SecurityInstruments
	ctx := context.Background()

	assert.NotPanics(t, func() {
		inst.RecordAuthDecision(ctx, "jwt", "denied", "token_expired")
		inst.RecordAuthDuration(ctx, "jwt", time.Millisecond)
		inst.RecordAuditEvent(ctx, "authentication", "success")
		inst.RecordForwardFailure(ctx)
		inst.RecordDecryptFailure(ctx)
	})
}

func TestNewSecurityInstruments(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		m, err := New(Config{Enabled: enabled, ServiceName: "trustcore-test"})
		require.NoError(t, err)
		inst, err := NewSecurityInstruments(m)
		require.NoError(t, err)
		require.NotNil(t, inst)

		assert.NotPanics(t, func() {
			inst.RecordAuthDecision(context.Background(), "api_key", "success", "")
			inst.RecordAuthDuration(context.Background(), "api_key", 3*time.Millisecond)
		})
	}
}

func TestMeter_ExportsThroughHandler(t *testing.T) {
	m, err := New(Config{Enabled: true, ServiceName: "trustcore-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	inst, err := NewSecurityInstruments(m)
	require.NoError(t, err)
	inst.RecordAuthDecision(context.Background(), "jwt", "denied", "token_expired")
	inst.RecordAuditEvent(context.Background(), "authentication", "denied")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "trustcore_auth_decisions")
	assert.Contains(t, body, `reason="token_expired"`)
	assert.Contains(t, body, "trustcore_audit_records")
}

func TestMeter_DisabledHandler(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NoError(t, m.Shutdown(context.Background()))
}
