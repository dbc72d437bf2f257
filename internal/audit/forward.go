package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/trustcore/internal/observability/logger"
)

// DefaultForwardTimeout bounds a single delivery to the collector.
const DefaultForwardTimeout = 5 * time.Second

// Forwarder delivers events to an external security-event collector.
type Forwarder interface {
	Forward(ctx context.Context, event *Event) error
}

// NopForwarder discards events.
type NopForwarder struct{}

func (NopForwarder) Forward(context.Context, *Event) error { return nil }

// ForwardPayload is the body posted to the collector.
type ForwardPayload struct {
	Event  *Event `json:"event"`
	Syslog string `json:"syslog"`
}

// HTTPForwarderConfig configures HTTPForwarder.
type HTTPForwarderConfig struct {
	Endpoint string
	Timeout  time.Duration
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open. Defaults to 30s.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// HTTPForwarder posts events as JSON. Deliveries pass through a circuit
// breaker so a dead collector costs one fast failure per event.
type HTTPForwarder struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *slog.Logger
}

// NewHTTPForwarder creates a forwarder for cfg.Endpoint.
func NewHTTPForwarder(cfg HTTPForwarderConfig) (*HTTPForwarder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("audit: collector endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultForwardTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("audit_forwarder"))

	f := &HTTPForwarder{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log,
	}
	f.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "audit-collector",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("collector circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return f, nil
}

// Forward posts {event, syslog} to the collector. Any non-2xx response is
// an error wrapping ErrForwardingFailure.
func (f *HTTPForwarder) Forward(ctx context.Context, event *Event) error {
	body, err := json.Marshal(ForwardPayload{Event: event, Syslog: event.Syslog()})
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrForwardingFailure, err)
	}

	_, err = f.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, f.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForwardingFailure, err)
	}
	f.logger.DebugContext(ctx, "audit event forwarded", logger.EventID(event.ID))
	return nil
}

func (f *HTTPForwarder) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector responded %d", resp.StatusCode)
	}
	return nil
}

// BreakerState reports the circuit breaker state.
func (f *HTTPForwarder) BreakerState() gobreaker.State {
	return f.breaker.State()
}
