//go:build integration

package ratelimit

import (
	"lnurl-gateway/pkg/cache"
	"lnurl-gateway/pkg/logger"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func setupTestLimiter(t *testing.T, interval time.Duration) *Limiter {
	t.Helper()
	err := cache.Init(cache.Config{Host: "localhost", Port: "6379", DB: 3})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cache.Client.FlushDB(context.Background()).Err()
	})
	return New(interval)
}

func TestLimiter_FirstAccessIsNeverLimited(t *testing.T) {
	l := setupTestLimiter(t, time.Minute)
	ctx := context.Background()

	limited, err := l.Register(ctx, "user01")
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestLimiter_SecondAccessWithinIntervalIsLimited(t *testing.T) {
	l := setupTestLimiter(t, time.Minute)
	ctx := context.Background()

	_, err := l.Register(ctx, "user01")
	require.NoError(t, err)

	limited, err := l.Register(ctx, "user01")
	require.NoError(t, err)
	assert.True(t, limited)
}

// TestLimiter_RepeatedAttemptsExtendTheWindow preserves the source's
// self-extending quirk: every attempted access refreshes last-seen, so a
// caller hammering the key during the limited window never sees the gate
// lapse at the original interval boundary.
func TestLimiter_RepeatedAttemptsExtendTheWindow(t *testing.T) {
	l := setupTestLimiter(t, 300*time.Millisecond)
	ctx := context.Background()

	_, err := l.Register(ctx, "user01")
	require.NoError(t, err)

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		limited, err := l.Register(ctx, "user01")
		require.NoError(t, err)
		assert.True(t, limited)
		time.Sleep(50 * time.Millisecond)
	}

	// Immediately after the loop the window has just been refreshed again,
	// so it is still limited rather than having lapsed at the original
	// 300ms mark measured from the very first Register call.
	limited, err := l.Register(ctx, "user01")
	require.NoError(t, err)
	assert.True(t, limited)
}

func TestLimiter_DifferentKeysAreIndependent(t *testing.T) {
	l := setupTestLimiter(t, time.Minute)
	ctx := context.Background()

	_, err := l.Register(ctx, "user01")
	require.NoError(t, err)

	limited, err := l.Register(ctx, "user02")
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestLimiter_LapsesAfterIntervalWithNoFurtherAttempts(t *testing.T) {
	l := setupTestLimiter(t, 150*time.Millisecond)
	ctx := context.Background()

	_, err := l.Register(ctx, "user01")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	limited, err := l.Register(ctx, "user01")
	require.NoError(t, err)
	assert.False(t, limited, "with no intervening attempts the gate must lapse after Interval")
}
