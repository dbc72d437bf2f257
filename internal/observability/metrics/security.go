package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityInstruments are the counters emitted by the access core. A nil
// *SecurityInstruments is valid and records nothing.
type SecurityInstruments struct {
	authDecisions   metric.Int64Counter
	auditRecords    metric.Int64Counter
	forwardFailures metric.Int64Counter
	decryptFailures metric.Int64Counter
	authDuration    metric.Float64Histogram
}

// NewSecurityInstruments creates the counters on m.
func NewSecurityInstruments(m *Meter) (*SecurityInstruments, error) {
	var (
		inst SecurityInstruments
		err  error
	)
	if inst.authDecisions, err = m.CreateCounter("trustcore.auth.decisions", "Authentication decisions by method and outcome"); err != nil {
		return nil, err
	}
	if inst.auditRecords, err = m.CreateCounter("trustcore.audit.records", "Audit events written by type and status"); err != nil {
		return nil, err
	}
	if inst.forwardFailures, err = m.CreateCounter("trustcore.audit.forward_failures", "Audit events the external collector did not accept"); err != nil {
		return nil, err
	}
	if inst.decryptFailures, err = m.CreateCounter("trustcore.secrets.decrypt_failures", "Ciphertexts that failed to decrypt"); err != nil {
		return nil, err
	}
	if inst.authDuration, err = m.CreateHistogram("trustcore.auth.duration", "Time to reach an authentication decision, audit write included", "ms"); err != nil {
		return nil, err
	}
	return &inst, nil
}

// RecordAuthDecision counts one authentication outcome.
func (i *SecurityInstruments) RecordAuthDecision(ctx context.Context, method, outcome, reason string) {
	if i == nil {
		return
	}
	i.authDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

// RecordAuthDuration records how long one authentication took.
func (i *SecurityInstruments) RecordAuthDuration(ctx context.Context, method string, d time.Duration) {
	if i == nil {
		return
	}
	i.authDuration.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordAuditEvent counts one persisted audit event.
func (i *SecurityInstruments) RecordAuditEvent(ctx context.Context, eventType, status string) {
	if i == nil {
		return
	}
	i.auditRecords.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("status", status),
	))
}

// RecordForwardFailure counts one failed delivery to the collector.
func (i *SecurityInstruments) RecordForwardFailure(ctx context.Context) {
	if i == nil {
		return
	}
	i.forwardFailures.Add(ctx, 1)
}

// RecordDecryptFailure counts one rejected ciphertext.
func (i *SecurityInstruments) RecordDecryptFailure(ctx context.Context) {
	if i == nil {
		return
	}
	i.decryptFailures.Add(ctx, 1)
}
