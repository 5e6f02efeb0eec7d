package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals an unknown endpoint or request ID, as opposed to
// a storage fault.
var ErrNotFound = errors.New("not found")

type Endpoint struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	// SecretHash is the bcrypt hash of the access key; empty means the
	// endpoint is unprotected. Never serialized.
	SecretHash string `json:"-"`
}

// Protected reports whether reads and deletes require an access key.
func (e *Endpoint) Protected() bool {
	return e.SecretHash != ""
}

type Request struct {
	ID         int64             `json:"id"`
	EndpointID string            `json:"endpoint_id"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Query      map[string]string `json:"query"`
	Body       *string           `json:"body"`
	Truncated  bool              `json:"truncated"`
	IP         *string           `json:"ip"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Store interface {
	// CreateEndpoint inserts a new endpoint row. secretHash may be
	// empty for an unprotected endpoint.
	CreateEndpoint(ctx context.Context, id string, secretHash string, ttl time.Duration) (*Endpoint, error)
	// EnsureEndpoint returns the endpoint for id, creating a fresh
	// unprotected one when no live row exists. An expired row that the
	// sweep has not reached yet is replaced the same way. The boolean
	// reports whether a row was created.
	EnsureEndpoint(ctx context.Context, id string, ttl time.Duration) (*Endpoint, bool, error)
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	// RefreshExpiration pushes the endpoint's expiry ttl past now.
	RefreshExpiration(ctx context.Context, id string, ttl time.Duration) error
	DeleteEndpoint(ctx context.Context, id string) error

	SaveRequest(ctx context.Context, req *Request) error
	// ListRequests returns up to limit requests, newest first.
	ListRequests(ctx context.Context, endpointID string, limit int) ([]*Request, error)
	GetRequest(ctx context.Context, endpointID string, id int64) (*Request, error)
	DeleteRequest(ctx context.Context, endpointID string, id int64) error
	ClearRequests(ctx context.Context, endpointID string) error
	// PruneOldRequests keeps only the keep newest requests (by id) for
	// the endpoint.
	PruneOldRequests(ctx context.Context, endpointID string, keep int) error

	// Cleanup deletes every endpoint past its expiry, cascading to its
	// requests.
	Cleanup(ctx context.Context) error
	// MaybeCleanup runs Cleanup at most once per sweep interval;
	// between windows it returns immediately, which keeps it cheap
	// enough to call on every inbound request.
	MaybeCleanup(ctx context.Context) error
}
