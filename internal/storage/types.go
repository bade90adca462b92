package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "redis", "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// Store is the durable recipient list.
//
// AddRecipient is idempotent: adding a known id succeeds without changing
// the order. LoadRecipients returns ids in registration order.
type Store interface {
	LoadRecipients(ctx context.Context) ([]int64, error)
	AddRecipient(ctx context.Context, id int64, joinedAt time.Time) error
	Close() error
}

// Compactor is implemented by stores that benefit from periodic housekeeping.
type Compactor interface {
	Compact(ctx context.Context) error
}
