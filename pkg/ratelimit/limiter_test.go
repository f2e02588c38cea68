package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ratewindow/pkg/testutils"
)

func newTestLimiter(t *testing.T, cfg Config) (*SlidingWindowLimiter[string], *testutils.ManualClock) {
	t.Helper()
	clock := testutils.NewManualClock(t0)
	limiter, err := New[string](cfg, WithClock(clock))
	require.NoError(t, err)
	return limiter, clock
}

func TestLimiter_AllowWithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 5, WindowSize: time.Second})

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("client"), "request %d should be allowed", i+1)
	}
}

func TestLimiter_DenyOverLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 5, WindowSize: time.Second})

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow("client"))
	}
	assert.False(t, limiter.Allow("client"))
	assert.False(t, limiter.Allow("client"))
}

func TestLimiter_WindowBoundary(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{MaxRequestsPerKey: 3, WindowSize: time.Second})

	assert.True(t, limiter.Allow("k"))
	assert.True(t, limiter.Allow("k"))
	assert.True(t, limiter.Allow("k"))
	assert.False(t, limiter.Allow("k"))

	// 3 * 0.999 + 1 > 3
	clock.Set(t0.Add(1001 * time.Millisecond))
	assert.False(t, limiter.Allow("k"))

	// 3 * 0.5 + 1 <= 3, then 3 * 0.5 + 1 + 1 > 3
	clock.Set(t0.Add(1500 * time.Millisecond))
	assert.True(t, limiter.Allow("k"))
	assert.False(t, limiter.Allow("k"))
}

func TestLimiter_IdleResetAfterTwoWindows(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{MaxRequestsPerKey: 5, WindowSize: time.Second})

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow("client"))
	}
	require.False(t, limiter.Allow("client"))

	clock.Advance(2100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("client"), "request %d after reset", i+1)
	}
	assert.False(t, limiter.Allow("client"))

	u, ok := limiter.Usage("client")
	require.True(t, ok)
	assert.True(t, clock.Now().Equal(u.WindowStart), "idle reset restarts the window at now")
}

func TestLimiter_GradualTransition(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{MaxRequestsPerKey: 10, WindowSize: time.Second})

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow("client"))
	}

	// Previous window weight 0.5 leaves room for 5.
	clock.Advance(1500 * time.Millisecond)
	admitted := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow("client") {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)
}

func TestLimiter_IndependentKeys(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 2, WindowSize: time.Second})

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))

	assert.True(t, limiter.Allow("b"))
	assert.True(t, limiter.Allow("b"))
	assert.False(t, limiter.Allow("b"))
	assert.Equal(t, 2, limiter.Len())
}

func TestLimiter_Cost(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 10, WindowSize: time.Second})

	assert.True(t, limiter.AllowN("client", 4))
	assert.True(t, limiter.AllowN("client", 6))
	assert.False(t, limiter.AllowN("client", 1))
}

func TestLimiter_CostLargerThanLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 10, WindowSize: time.Second})

	d := limiter.Take("client", 11)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonQuota, d.Reason)
	assert.Zero(t, d.RetryAfter)

	// The failed attempt consumed nothing.
	assert.True(t, limiter.AllowN("client", 10))
}

func TestLimiter_InvalidCost(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 10, WindowSize: time.Second})

	for _, cost := range []int64{-1, -100} {
		d := limiter.Take("client", cost)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonInvalidCost, d.Reason)
	}
	assert.Equal(t, 0, limiter.Len(), "invalid cost must not create state")
}

func TestLimiter_ZeroCost(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{MaxRequestsPerKey: 3, WindowSize: time.Second})

	assert.True(t, limiter.AllowN("client", 0))
	assert.True(t, limiter.AllowN("client", 0))
	assert.Equal(t, 0, limiter.Len(), "zero cost must not create state")

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("client"))
	}
	assert.False(t, limiter.Allow("client"))

	before, ok := limiter.Usage("client")
	require.True(t, ok)
	clock.Advance(100 * time.Millisecond)

	d := limiter.Take("client", 0)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)
	assert.Equal(t, int64(0), d.Remaining)

	after, ok := limiter.Usage("client")
	require.True(t, ok)
	assert.Equal(t, before.CurrentCount, after.CurrentCount)
	assert.Equal(t, before.LastAccess, after.LastAccess, "zero cost must not refresh the TTL")
}

func TestLimiter_MaxKeys(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		MaxRequestsPerKey: 3,
		WindowSize:        time.Second,
		MaxKeys:           IntPtr(2),
	})

	require.True(t, limiter.Allow("a"))
	require.True(t, limiter.Allow("b"))

	before, ok := limiter.Usage("a")
	require.True(t, ok)

	d := limiter.Take("c", 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonKeyspace, d.Reason)
	assert.Equal(t, 2, limiter.Len())

	after, ok := limiter.Usage("a")
	require.True(t, ok)
	assert.Equal(t, before, after, "rejecting a new key leaves existing state untouched")

	// Existing keys keep being served.
	assert.True(t, limiter.Allow("a"))
}

func TestLimiter_TTLEvictionStartsFresh(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{
		MaxRequestsPerKey: 2,
		WindowSize:        time.Second,
		TTL:               5 * time.Second,
		CleanupInterval:   time.Second,
	})

	require.True(t, limiter.Allow("stale"))
	require.True(t, limiter.Allow("stale"))
	require.False(t, limiter.Allow("stale"))

	clock.Advance(5 * time.Second)
	assert.True(t, limiter.Allow("other"), "admission path triggers the sweep")
	assert.Equal(t, 1, limiter.Len())

	_, ok := limiter.Usage("stale")
	assert.False(t, ok)

	assert.True(t, limiter.Allow("stale"))
	u, ok := limiter.Usage("stale")
	require.True(t, ok)
	assert.Equal(t, int64(0), u.PreviousCount)
	assert.Equal(t, int64(1), u.CurrentCount)
}

func TestLimiter_CleanupInterval(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{
		MaxRequestsPerKey: 5,
		WindowSize:        time.Second,
		TTL:               time.Second,
		CleanupInterval:   10 * time.Second,
	})

	limiter.Allow("a")
	clock.Advance(5 * time.Second)
	limiter.Allow("b")
	assert.Equal(t, 2, limiter.Len(), "no sweep before the interval elapses")

	clock.Advance(5 * time.Second)
	limiter.Allow("b")
	assert.Equal(t, 1, limiter.Len())
}

func TestLimiter_WindowStartIsMonotonic(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{MaxRequestsPerKey: 1000, WindowSize: time.Second})

	var last time.Time
	for i := 0; i < 50; i++ {
		limiter.Allow("k")
		u, ok := limiter.Usage("k")
		require.True(t, ok)
		assert.False(t, u.WindowStart.Before(last), "window start moved backwards at step %d", i)
		last = u.WindowStart
		clock.Advance(time.Duration(i%7) * 173 * time.Millisecond)
	}
}

func TestLimiter_UsageAndReset(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{MaxRequestsPerKey: 10, WindowSize: time.Second})

	_, ok := limiter.Usage("client")
	assert.False(t, ok)

	limiter.AllowN("client", 4)
	clock.Advance(200 * time.Millisecond)

	u, ok := limiter.Usage("client")
	require.True(t, ok)
	assert.Equal(t, int64(4), u.CurrentCount)
	assert.Equal(t, int64(6), u.Remaining)
	assert.InDelta(t, 40.0, u.Percentage(), 1e-9)
	assert.True(t, t0.Equal(u.LastAccess), "usage must not refresh last access")

	assert.True(t, limiter.Reset("client"))
	assert.False(t, limiter.Reset("client"))
	assert.Equal(t, 0, limiter.Len())
	assert.True(t, limiter.AllowN("client", 10))
}

func TestLimiter_EvictedStateIsNotUsed(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 1, WindowSize: time.Second})

	require.True(t, limiter.Allow("k"))
	orphan, ok := limiter.store.lookup("k")
	require.True(t, ok)
	require.True(t, limiter.Reset("k"))

	_, ok = limiter.takeLocked(orphan, 1)
	assert.False(t, ok)
	assert.Equal(t, int64(1), orphan.window.current)

	assert.True(t, limiter.Allow("k"), "a fresh state replaces the evicted one")
}

func TestLimiter_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	const (
		limit      = 100
		goroutines = 50
		perWorker  = 20
	)
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: limit, WindowSize: time.Minute})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if limiter.Allow("shared") {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
}

func TestLimiter_ConcurrentKeysWithSweeps(t *testing.T) {
	limiter, err := New[int](Config{
		MaxRequestsPerKey: 5,
		WindowSize:        10 * time.Millisecond,
		TTL:               time.Millisecond,
		CleanupInterval:   time.Millisecond,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				limiter.Allow(i*1000 + j%10)
				limiter.Usage(j % 10)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, limiter.Len(), 16*10)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		fields []string
	}{
		{
			name: "valid with defaults",
			cfg:  Config{MaxRequestsPerKey: 1, WindowSize: time.Second},
		},
		{
			name:   "zero limit",
			cfg:    Config{WindowSize: time.Second},
			fields: []string{"max_requests_per_key"},
		},
		{
			name:   "negative window",
			cfg:    Config{MaxRequestsPerKey: 1, WindowSize: -time.Second},
			fields: []string{"window_size"},
		},
		{
			name:   "negative ttl and interval",
			cfg:    Config{MaxRequestsPerKey: 1, WindowSize: time.Second, TTL: -1, CleanupInterval: -1},
			fields: []string{"ttl", "cleanup_interval"},
		},
		{
			name:   "zero max keys",
			cfg:    Config{MaxRequestsPerKey: 1, WindowSize: time.Second, MaxKeys: IntPtr(0)},
			fields: []string{"max_keys"},
		},
		{
			name:   "idle reset below two windows",
			cfg:    Config{MaxRequestsPerKey: 1, WindowSize: time.Second, IdleResetWindows: 1},
			fields: []string{"idle_reset_windows"},
		},
		{
			name:   "everything wrong",
			cfg:    Config{MaxRequestsPerKey: -1},
			fields: []string{"max_requests_per_key", "window_size"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := New[string](tt.cfg)
			if len(tt.fields) == 0 {
				require.NoError(t, err)
				assert.NotNil(t, limiter)
				return
			}

			require.Error(t, err)
			assert.Nil(t, limiter)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			for _, field := range tt.fields {
				assert.Contains(t, err.Error(), field)
			}
		})
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	maxKeys := 10
	limiter, err := New[string](Config{MaxRequestsPerKey: 1, WindowSize: time.Second, MaxKeys: &maxKeys})
	require.NoError(t, err)

	cfg := limiter.Config()
	assert.Equal(t, DefaultTTL, cfg.TTL)
	assert.Equal(t, DefaultCleanupInterval, cfg.CleanupInterval)
	assert.Equal(t, DefaultIdleResetWindows, cfg.IdleResetWindows)

	maxKeys = 1
	assert.Equal(t, 10, *limiter.Config().MaxKeys, "config is copied on construction")
}
