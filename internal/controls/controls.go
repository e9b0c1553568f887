// Package controls implements the Redis-backed suppression primitives:
// deduplication, rate limiting, silence windows and storm counting.
//
// Every decision is made by a single atomic Redis operation so workers in
// different processes agree without any in-process locking.
package controls

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tphakala/notifyroute/internal/logger"
)

// DefaultKeyPrefix namespaces every key written by this package.
const DefaultKeyPrefix = "notif"

// DefaultSilenceCacheTTL bounds how long a silence decision is reused.
const DefaultSilenceCacheTTL = 5 * time.Minute

// incrWithExpire increments a counter and starts its TTL only on the first
// increment, so a steady stream of hits cannot extend the window.
var incrWithExpire = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// Options configures Controls.
type Options struct {
	KeyPrefix       string
	SilenceCacheTTL time.Duration
	// Location is the zone silence windows are written in. Defaults to UTC.
	Location *time.Location
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Controls evaluates suppression policies against a shared Redis.
type Controls struct {
	rdb             redis.Cmdable
	prefix          string
	silenceCacheTTL time.Duration
	loc             *time.Location
	now             func() time.Time
	log             logger.Logger
}

// New creates Controls over rdb.
func New(rdb redis.Cmdable, opts Options, log logger.Logger) *Controls {
	c := &Controls{
		rdb:             rdb,
		prefix:          opts.KeyPrefix,
		silenceCacheTTL: opts.SilenceCacheTTL,
		loc:             opts.Location,
		now:             opts.Now,
		log:             log.Module("controls"),
	}
	if c.prefix == "" {
		c.prefix = DefaultKeyPrefix
	}
	if c.silenceCacheTTL <= 0 {
		c.silenceCacheTTL = DefaultSilenceCacheTTL
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Controls) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// IsDuplicate records (event, rule, recipient) and reports whether it was
// already recorded within ttlSec. A non-positive ttlSec disables dedup.
func (c *Controls) IsDuplicate(ctx context.Context, eventID, ruleID, recipientID string, ttlSec int) (bool, error) {
	if ttlSec <= 0 {
		return false, nil
	}
	key := c.key("dedup", eventID, ruleID, recipientID)
	created, err := c.rdb.SetNX(ctx, key, "1", time.Duration(ttlSec)*time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return !created, nil
}

// ReleaseDuplicate forgets the record made by IsDuplicate, so the same
// (event, rule, recipient) is accepted again.
func (c *Controls) ReleaseDuplicate(ctx context.Context, eventID, ruleID, recipientID string) error {
	if err := c.rdb.Del(ctx, c.key("dedup", eventID, ruleID, recipientID)).Err(); err != nil {
		return fmt.Errorf("dedup release failed: %w", err)
	}
	return nil
}

// RateDecision is the outcome of CheckRateLimit.
type RateDecision struct {
	Allowed bool
	// Count is the post-increment hit count, zero when limiting is disabled.
	Count int64
}

// CheckRateLimit counts one hit against scope. The window starts at the first
// hit; the hit is allowed while the count stays within limit. Non-positive
// limit or windowSec disables limiting.
func (c *Controls) CheckRateLimit(ctx context.Context, scope string, limit, windowSec int) (RateDecision, error) {
	if limit <= 0 || windowSec <= 0 {
		return RateDecision{Allowed: true}, nil
	}
	count, err := c.incr(ctx, c.key("rl", scope), windowSec)
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	return RateDecision{Allowed: count <= int64(limit), Count: count}, nil
}

// AggregateStorm counts a suppressed duplicate for (rule, recipient, event)
// and returns the running count. The counter lives for windowSec seconds
// from the first duplicate. A non-positive windowSec or empty id is a no-op.
func (c *Controls) AggregateStorm(ctx context.Context, ruleID, recipientID, eventID string, windowSec int) (int64, error) {
	if ruleID == "" || recipientID == "" || eventID == "" || windowSec <= 0 {
		return 0, nil
	}
	count, err := c.incr(ctx, c.key("storm", ruleID, recipientID, eventID), windowSec)
	if err != nil {
		return 0, fmt.Errorf("storm aggregation failed: %w", err)
	}
	return count, nil
}

func (c *Controls) incr(ctx context.Context, key string, windowSec int) (int64, error) {
	return incrWithExpire.Run(ctx, c.rdb, []string{key}, windowSec).Int64()
}
