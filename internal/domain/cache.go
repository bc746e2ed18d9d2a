package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest spot price of every outcome of a market as
// decimal strings, indexed by outcome.
type PriceCache interface {
	SetPrices(ctx context.Context, marketID string, prices []string, ts time.Time) error
	GetPrices(ctx context.Context, marketID string) ([]string, time.Time, error)
}

// RateLimiter admits at most limit requests per window for a bucket key
// shared across API processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager leases a named lock for ttl. Acquire fails with ErrLockHeld
// while another holder's lease is live; unlock is idempotent.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one replayable market event. ID orders entries and is
// the cursor clients pass back to resume.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans market events out live over pub/sub and keeps them in a
// bounded stream for replay. It also carries oracle fulfillments between
// API and keeper processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
