package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/metrics"
)

// SeriesCache shares fetched price history across service instances.
// All methods are nil-receiver safe so callers need no cache checks.
type SeriesCache struct {
	client *redis.Client
	ttl    time.Duration
}

type seriesEntry struct {
	Symbol    string    `json:"symbol"`
	Days      int       `json:"days"`
	Prices    []float64 `json:"prices"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewSeriesCache wraps a Redis client. A nil client yields a nil cache,
// which is valid and simply never hits.
func NewSeriesCache(client *redis.Client, ttl time.Duration) *SeriesCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	return &SeriesCache{client: client, ttl: ttl}
}

func seriesKey(symbol string, days int) string {
	return fmt.Sprintf("prices:%s:%d", symbol, days)
}

// Get returns the cached series. Any Redis failure counts as a miss.
func (c *SeriesCache) Get(ctx context.Context, symbol string, days int) ([]float64, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	key := seriesKey(symbol, days)
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	metrics.RecordRedisOperation("get")
	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("Redis get error, treating as cache miss")
		}
		metrics.RecordCacheLookup(false)
		return nil, false
	}

	var entry seriesEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached series")
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	if len(entry.Prices) < MinSeriesPoints {
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	metrics.RecordCacheLookup(true)
	return entry.Prices, true
}

// Set stores a series under the cache TTL.
func (c *SeriesCache) Set(ctx context.Context, symbol string, days int, prices []float64) error {
	if c == nil || c.client == nil {
		return nil
	}

	entry := seriesEntry{
		Symbol:    symbol,
		Days:      days,
		Prices:    prices,
		FetchedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling series entry: %w", err)
	}

	key := seriesKey(symbol, days)
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	metrics.RecordRedisOperation("set")
	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache series")
		return err
	}
	return nil
}

// SetAsync writes back without blocking the caller. Fetches should not
// wait on cache plumbing.
func (c *SeriesCache) SetAsync(symbol string, days int, prices []float64) {
	if c == nil || c.client == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Set(ctx, symbol, days, prices); err == nil {
			log.Debug().
				Str("symbol", symbol).
				Int("days", days).
				Int("points", len(prices)).
				Msg("Cached price series")
		}
	}()
}

// Health pings Redis.
func (c *SeriesCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// QuoteMirror keeps the latest venue quotes in Redis so API reads do
// not round-trip to the venue between cycles.
type QuoteMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// MirroredQuote is the stored quote shape.
type MirroredQuote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mark      float64   `json:"mark"`
	Timestamp time.Time `json:"timestamp"`
}

// NewQuoteMirror wraps a Redis client. A nil client yields a nil
// mirror, which is valid and inert.
func NewQuoteMirror(client *redis.Client, ttl time.Duration) *QuoteMirror {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &QuoteMirror{client: client, ttl: ttl}
}

func quoteKey(symbol string) string {
	return "quotes:" + symbol
}

// Store mirrors one quote.
func (m *QuoteMirror) Store(ctx context.Context, quote MirroredQuote) {
	if m == nil || m.client == nil {
		return
	}
	data, err := json.Marshal(quote)
	if err != nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := m.client.Set(cacheCtx, quoteKey(quote.Symbol), data, m.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("symbol", quote.Symbol).Msg("Quote mirror write failed")
	}
}

// Lookup returns the mirrored quote if present and fresh.
func (m *QuoteMirror) Lookup(ctx context.Context, symbol string) (*MirroredQuote, bool) {
	if m == nil || m.client == nil {
		return nil, false
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := m.client.Get(cacheCtx, quoteKey(symbol)).Result()
	if err != nil {
		return nil, false
	}
	var quote MirroredQuote
	if err := json.Unmarshal([]byte(cached), &quote); err != nil {
		return nil, false
	}
	return &quote, true
}
