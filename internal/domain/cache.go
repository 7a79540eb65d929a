package domain

import (
	"context"
	"time"
)

// BookMirror publishes the latest captured book to a shared cache so that
// other processes can read it without subscribing.
type BookMirror interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	// GetSnapshot returns ErrNotFound when nothing is mirrored for symbol.
	GetSnapshot(ctx context.Context, symbol string) (OrderBookSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SnapshotPublisher fans captured snapshots out to downstream consumers.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snap OrderBookSnapshot) error
}

// LeaseManager grants short-lived exclusive leases shared across processes.
// A lease expires on its own after ttl; release frees it early.
type LeaseManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
