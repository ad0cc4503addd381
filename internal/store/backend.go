package store

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by a backend write that would push the backend
// past its size ceiling. Only the simple backend enforces one.
var ErrQuotaExceeded = errors.New("store: quota exceeded")

// ErrUnavailable is returned by Open when neither backend can be opened.
var ErrUnavailable = errors.New("store: no storage backend available")

// UsageEstimate is a best-effort report of backend storage consumption.
// Quota is 0 when the backend has no enforced ceiling.
type UsageEstimate struct {
	Used  int64 `json:"used"`
	Quota int64 `json:"quota"`
}

// Backend is the contract both storage strategies implement.
//
// Get returns (nil, nil) for an absent id; expiry filtering is the Store's
// job, not the backend's. All writes must be durable before returning.
type Backend interface {
	// Name identifies the backend ("sqlite" or "file") for logs and stats.
	Name() string

	// Put upserts the item under (partition, id).
	Put(ctx context.Context, partition string, item *Item) error

	// Get returns the item or (nil, nil) when absent.
	Get(ctx context.Context, partition, id string) (*Item, error)

	// List returns every item in the partition, unordered.
	List(ctx context.Context, partition string) ([]*Item, error)

	// Delete removes the item. Deleting an absent id is not an error.
	Delete(ctx context.Context, partition, id string) error

	// Clear removes every item in the partition.
	Clear(ctx context.Context, partition string) error

	// Usage reports storage consumption, or (nil, nil) when the backend
	// cannot report it.
	Usage(ctx context.Context) (*UsageEstimate, error)

	// Close releases backend resources.
	Close() error
}
