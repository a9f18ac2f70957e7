// Package sessioncache implements the short-lived keyed state RequestFlow
// uses for admission control: challenge→user bindings, a per-user balance
// snapshot, and the per-user trading lock, all on top of the redis-backed
// pkg/cache client. Every decision made from this package is re-checked
// inside the LedgerStore transaction before it is allowed to change money.
package sessioncache

import (
	"lnurl-gateway/pkg/cache"
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	challengeTTL = 600 * time.Second

	statusActive = "active"
	statusLocked = "locked"

	fieldBalance = "balance"
	fieldStatus  = "status"
)

func challengeKey(k1 string) string {
	return "challenge::" + k1
}

// sessionKey names the Redis hash a separate external trading subsystem
// also reads and writes (spec.md §3, §5): "balance" and "status" are
// fields of this one hash, not standalone keys, so that subsystem's
// `HSET {userid}::session balance …` and the core's lock-status writes
// land in the same place.
func sessionKey(userid string) string {
	return userid + "::session"
}

// Cache is the SessionCache component (spec.md §4.B).
type Cache struct{}

// New returns a Cache bound to the already-initialized pkg/cache client.
func New() *Cache {
	return &Cache{}
}

// SetChallenge binds k1 to userid for challengeTTL. Idempotent overwrite.
func (c *Cache) SetChallenge(ctx context.Context, k1, userid string) error {
	return cache.Set(ctx, challengeKey(k1), userid, challengeTTL)
}

// GetChallenge resolves k1 to the userid that minted it, or "" if the
// challenge is missing or expired.
func (c *Cache) GetChallenge(ctx context.Context, k1 string) (string, error) {
	val, err := cache.Get(ctx, challengeKey(k1))
	if err != nil {
		return "", err
	}
	return val, nil
}

// DeleteChallenge evicts a challenge, typically on first-successful redeem.
func (c *Cache) DeleteChallenge(ctx context.Context, k1 string) error {
	_, err := cache.Delete(ctx, challengeKey(k1))
	return err
}

// SetBalanceSnapshot publishes a best-effort balance snapshot for userid,
// used only for RequestFlow pre-checks; LedgerStore remains authoritative
// at commit time. TTL matches the challenge TTL so a stale snapshot never
// outlives a single withdraw handshake by much.
func (c *Cache) SetBalanceSnapshot(ctx context.Context, userid string, balance int64) error {
	return cache.HSet(ctx, sessionKey(userid), fieldBalance, strconv.FormatInt(balance, 10), challengeTTL)
}

// GetBalanceSnapshot returns the cached snapshot, or (0, false) if absent.
func (c *Cache) GetBalanceSnapshot(ctx context.Context, userid string) (int64, bool, error) {
	val, err := cache.HGet(ctx, sessionKey(userid), fieldBalance)
	if err != nil {
		return 0, false, err
	}
	if val == "" {
		return 0, false, nil
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("sessioncache: corrupt balance snapshot for %s: %w", userid, err)
	}
	return balance, true, nil
}

// SetSessionStatus records whether userid's session is active or locked
// during payment dispatch. The caller is responsible for scheduling the
// matching unlock as an after-response hook so it runs on every exit path.
func (c *Cache) SetSessionStatus(ctx context.Context, userid string, locked bool) error {
	status := statusActive
	if locked {
		status = statusLocked
	}
	return cache.HSet(ctx, sessionKey(userid), fieldStatus, status, challengeTTL)
}

// Unlock is a convenience wrapper over SetSessionStatus(userid, false),
// named for use directly as a deferred after-response hook.
func (c *Cache) Unlock(ctx context.Context, userid string) error {
	return c.SetSessionStatus(ctx, userid, false)
}
