package secrets

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable is returned by operations that need an enterprise
// secret store when none is configured or reachable.
var ErrBackendUnavailable = errors.New("secret backend unavailable")

// Lease is a set of dynamic database credentials issued by the backend.
type Lease struct {
	LeaseID       string
	Username      string
	Password      string
	LeaseDuration time.Duration
	Renewable     bool
}

// Backend is an external, path-addressed secret store.
type Backend interface {
	Name() string
	Available(ctx context.Context) bool
	Get(ctx context.Context, path string) (map[string]string, error)
	Put(ctx context.Context, path string, data map[string]string) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, path string) ([]string, error)
	DatabaseCredentials(ctx context.Context, role string) (*Lease, error)
}

// NopBackend is the absent backend. Every operation fails with
// ErrBackendUnavailable.
type NopBackend struct{}

func (NopBackend) Name() string                   { return "none" }
func (NopBackend) Available(context.Context) bool { return false }

func (NopBackend) Get(context.Context, string) (map[string]string, error) {
	return nil, ErrBackendUnavailable
}

func (NopBackend) Put(context.Context, string, map[string]string) error {
	return ErrBackendUnavailable
}

func (NopBackend) Delete(context.Context, string) error { return ErrBackendUnavailable }

func (NopBackend) List(context.Context, string) ([]string, error) {
	return nil, ErrBackendUnavailable
}

func (NopBackend) DatabaseCredentials(context.Context, string) (*Lease, error) {
	return nil, ErrBackendUnavailable
}
