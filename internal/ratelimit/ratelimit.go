// Package ratelimit implements a per-key minimum-interval gate on top of
// pkg/cache. It deliberately preserves a quirk present in the original
// Python rate limiter: every call to Register updates the key's last-seen
// timestamp, whether or not the caller was within the window. Repeated
// attempts during the limited window therefore keep extending it rather
// than letting it lapse at the original interval boundary.
package ratelimit

import (
	"lnurl-gateway/pkg/cache"
	"context"
	"strconv"
	"time"
)

func key(k string) string {
	return "ratelimit::" + k
}

// Limiter gates access to a key to at most once per Interval.
type Limiter struct {
	Interval time.Duration
}

// New returns a Limiter with the given minimum interval between accepted
// accesses for the same key.
func New(interval time.Duration) *Limiter {
	return &Limiter{Interval: interval}
}

// Register reports whether key was seen within Interval of now, and
// unconditionally refreshes the key's last-seen timestamp regardless of
// the outcome.
func (l *Limiter) Register(ctx context.Context, k string) (limited bool, err error) {
	now := time.Now().UTC()
	raw, err := cache.Get(ctx, key(k))
	if err != nil {
		return false, err
	}
	if raw != "" {
		lastNanos, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr == nil {
			last := time.Unix(0, lastNanos).UTC()
			if now.Sub(last) < l.Interval {
				limited = true
			}
		}
	}
	if err := cache.Set(ctx, key(k), strconv.FormatInt(now.UnixNano(), 10), l.Interval+l.grace()); err != nil {
		return limited, err
	}
	return limited, nil
}

func (l *Limiter) grace() time.Duration {
	return l.Interval
}

// Sweep is a no-op placeholder for symmetry with the source's periodic
// cleanup loop: pkg/cache keys carry their own TTL (Interval+grace) set on
// every Register call, so Redis itself evicts stale entries and no
// separate sweep pass is needed. Nothing in the gateway calls it.
func (l *Limiter) Sweep(ctx context.Context) {}
