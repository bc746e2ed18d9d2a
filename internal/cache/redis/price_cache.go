package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// PriceCache implements domain.PriceCache using one Redis hash per market
// at "prices:{marketID}". Field "n" holds the outcome count, fields "0",
// "1", ... the decimal prices and "ts" the Unix nanosecond timestamp.
type PriceCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after ttl; zero keeps them forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, rdb: c.Underlying(), ttl: ttl}
}

// SetPrices replaces the cached prices of a market.
func (pc *PriceCache) SetPrices(ctx context.Context, marketID string, prices []string, ts time.Time) error {
	key := pc.c.Key("prices", marketID)
	fields := make(map[string]any, len(prices)+2)
	fields["n"] = strconv.Itoa(len(prices))
	fields["ts"] = strconv.FormatInt(ts.UnixNano(), 10)
	for i, p := range prices {
		fields[strconv.Itoa(i)] = p
	}

	_, err := pc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		if pc.ttl > 0 {
			pipe.Expire(ctx, key, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set prices %s: %w", marketID, err)
	}
	return nil
}

// GetPrices returns the cached prices of a market and when they were set.
// It returns domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetPrices(ctx context.Context, marketID string) ([]string, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.c.Key("prices", marketID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get prices %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	n, err := strconv.Atoi(vals["n"])
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse outcome count %s: %w", marketID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}

	prices := make([]string, n)
	for i := range prices {
		p, ok := vals[strconv.Itoa(i)]
		if !ok {
			return nil, time.Time{}, fmt.Errorf("redis: get prices %s: outcome %d missing: %w", marketID, i, domain.ErrNotFound)
		}
		prices[i] = p
	}
	return prices, time.Unix(0, tsNano).UTC(), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
