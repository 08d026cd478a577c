package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is the minimal primitive set the round store and leader
// elector require: key/value with TTL, atomic set-if-absent,
// owner-checked renew/delete, and append-and-trim lists.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// RenewIfOwner refreshes the TTL only if the key still holds owner.
	RenewIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// DelIfOwner deletes the key only if it still holds owner.
	DelIfOwner(ctx context.Context, key, owner string) (bool, error)

	Incr(ctx context.Context, key string) (int64, error)

	// PushTrim prepends value and trims the list to keep entries.
	PushTrim(ctx context.Context, key, value string, keep int64) error
	// RPush appends value, preserving submission order.
	RPush(ctx context.Context, key, value string) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
