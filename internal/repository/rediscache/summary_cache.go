// Package rediscache keeps computed tenant summaries in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailtrack/internal/service/tracking"
)

const defaultPrefix = "mailtrack:"

// Reads the generation and the entry stored under it in one round trip, so
// a concurrent Invalidate cannot split the two.
const lookupLuaScript = `
local gen = redis.call("GET", KEYS[1]) or "0"
local payload = redis.call("GET", ARGV[1] .. gen)
if not payload then
    return {gen}
end
return {gen, payload}
`

// SummaryCache implements tracking.SummaryCache.
//
// Keys:
//
//	{prefix}gen:{tenant}                  generation counter, no expiry
//	{prefix}summary:{tenant}:{g}:{gen}    JSON summary, expires after ttl
type SummaryCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	lookup *redis.Script
}

var _ tracking.SummaryCache = (*SummaryCache)(nil)

// New creates a cache on rdb. Entries expire after ttl.
func New(rdb *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SummaryCache{
		rdb:    rdb,
		ttl:    ttl,
		prefix: defaultPrefix,
		lookup: redis.NewScript(lookupLuaScript),
	}
}

func (c *SummaryCache) genKey(tenantID string) string {
	return c.prefix + "gen:" + tenantID
}

func (c *SummaryCache) entryPrefix(tenantID string, g tracking.Granularity) string {
	return fmt.Sprintf("%ssummary:%s:%s:", c.prefix, tenantID, g)
}

// Lookup returns the cached summary of the current generation, or nil.
func (c *SummaryCache) Lookup(ctx context.Context, tenantID string, g tracking.Granularity) (*tracking.Summary, int64, error) {
	res, err := c.lookup.Run(ctx, c.rdb, []string{c.genKey(tenantID)}, c.entryPrefix(tenantID, g)).Slice()
	if err != nil {
		return nil, 0, fmt.Errorf("summary lookup: %w", err)
	}
	if len(res) == 0 {
		return nil, 0, fmt.Errorf("summary lookup: empty reply")
	}

	genStr, _ := res[0].(string)
	gen, err := strconv.ParseInt(genStr, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("summary generation %q: %w", genStr, err)
	}
	if len(res) < 2 {
		return nil, gen, nil
	}

	payload, _ := res[1].(string)
	var s tracking.Summary
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		// A corrupt entry is a miss; the recomputed summary overwrites it.
		return nil, gen, nil
	}
	return &s, gen, nil
}

// Put stores s under generation gen.
func (c *SummaryCache) Put(ctx context.Context, tenantID string, g tracking.Granularity, gen int64, s *tracking.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	key := c.entryPrefix(tenantID, g) + strconv.FormatInt(gen, 10)
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

// Invalidate advances the tenant's generation. Entries of older
// generations are never read again and expire on their own.
func (c *SummaryCache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.rdb.Incr(ctx, c.genKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("invalidate summary: %w", err)
	}
	return nil
}
