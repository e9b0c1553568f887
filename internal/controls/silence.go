package controls

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tphakala/notifyroute/internal/datastore/entities"
	"github.com/tphakala/notifyroute/internal/errors"
	"github.com/tphakala/notifyroute/internal/logger"
)

const (
	defaultWindowStart = "00:00"
	defaultWindowEnd   = "23:59"
)

// EffectiveWindows picks the silence windows that apply to one delivery.
// Recipient windows win outright; rule windows are consulted only when the
// recipient defines none.
func EffectiveWindows(recipient, rule []entities.SilenceWindow) []entities.SilenceWindow {
	if len(recipient) > 0 {
		return recipient
	}
	return rule
}

// IsSilenced reports whether now falls inside any of windows. The decision
// is cached per recipient, window set and hour so repeated checks agree.
// Redis failures fall back to evaluating directly.
func (c *Controls) IsSilenced(ctx context.Context, recipientID string, windows []entities.SilenceWindow) bool {
	if len(windows) == 0 {
		return false
	}
	now := c.now().In(c.loc)

	scope := recipientID
	if scope == "" {
		scope = "global"
	}
	key := c.key("silence", scope, windowsDigest(windows), now.Format("2006010215"))

	cached, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		return cached == "1"
	}
	if !errors.Is(err, redis.Nil) {
		c.log.Warn("silence check without redis cache, evaluating directly",
			logger.String("recipient_id", recipientID),
			logger.Error(err))
		return InWindows(now, windows, c.log)
	}

	active := InWindows(now, windows, c.log)
	flag := "0"
	if active {
		flag = "1"
	}
	if err := c.rdb.Set(ctx, key, flag, c.silenceCacheTTL).Err(); err != nil {
		c.log.Warn("failed to cache silence decision",
			logger.String("recipient_id", recipientID),
			logger.Error(err))
	}
	return active
}

// InWindows evaluates windows against the wall-clock time of now. A window
// with start <= end covers [start, end]; otherwise it wraps midnight.
// Malformed windows are skipped with a warning.
func InWindows(now time.Time, windows []entities.SilenceWindow, log logger.Logger) bool {
	current := now.Hour()*3600 + now.Minute()*60 + now.Second()
	for _, w := range windows {
		start, errStart := parseClock(w.Start, defaultWindowStart)
		end, errEnd := parseClock(w.End, defaultWindowEnd)
		if errStart != nil || errEnd != nil {
			if log != nil {
				log.Warn("invalid silence window", logger.String("window", w.String()))
			}
			continue
		}
		if start <= end {
			if start <= current && current <= end {
				return true
			}
		} else if current >= start || current <= end {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" to seconds since midnight.
func parseClock(s, fallback string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = fallback
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// windowsDigest keys the cache by window set so a rule's and a recipient's
// windows never share a cached decision.
func windowsDigest(windows []entities.SilenceWindow) string {
	h := fnv.New32a()
	for _, w := range windows {
		_, _ = h.Write([]byte(w.String()))
		_, _ = h.Write([]byte{';'})
	}
	return fmt.Sprintf("%08x", h.Sum32())
}
