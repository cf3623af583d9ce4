package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLimiter(t *testing.T, window time.Duration, sweepChance float64) *Limiter {
	t.Helper()
	return New(window, sweepChance, zaptest.NewLogger(t))
}

func TestAdmitCountsWithinWindow(t *testing.T) {
	l := newTestLimiter(t, time.Minute, 0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, l.admit("203.0.113.7", base))
	assert.Equal(t, 2, l.admit("203.0.113.7", base.Add(time.Second)))
	assert.Equal(t, 3, l.admit("203.0.113.7", base.Add(2*time.Second)))

	// A different identity gets its own window.
	assert.Equal(t, 1, l.admit("198.51.100.2", base.Add(2*time.Second)))
}

func TestAdmitEvictsExpiredEntries(t *testing.T) {
	l := newTestLimiter(t, time.Minute, 0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l.admit("203.0.113.7", base)
	l.admit("203.0.113.7", base.Add(time.Second))

	// 61 seconds after the first request only the second remains in the
	// window, plus the admit itself.
	count := l.admit("203.0.113.7", base.Add(61*time.Second))
	assert.Equal(t, 2, count)

	// Far past the window everything prior is gone.
	count = l.admit("203.0.113.7", base.Add(10*time.Minute))
	assert.Equal(t, 1, count)
}

func TestAdmitWindowBoundary(t *testing.T) {
	l := newTestLimiter(t, time.Minute, 0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l.admit("203.0.113.7", base)

	// Exactly window-later the original entry sits on the cutoff and is out.
	count := l.admit("203.0.113.7", base.Add(time.Minute))
	assert.Equal(t, 1, count)

	// One nanosecond inside the window it still counts.
	l2 := newTestLimiter(t, time.Minute, 0)
	l2.admit("203.0.113.7", base)
	count = l2.admit("203.0.113.7", base.Add(time.Minute-time.Nanosecond))
	assert.Equal(t, 2, count)
}

func TestSweepRemovesIdleIdentities(t *testing.T) {
	// sweepChance 1 forces a sweep on every admit.
	l := newTestLimiter(t, time.Minute, 1)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		l.admit(fmt.Sprintf("10.0.0.%d", i), base)
	}
	require.Equal(t, 10, l.Len())

	// A single admit far in the future sweeps all the idle identities.
	l.admit("10.0.0.99", base.Add(2*time.Minute))
	assert.Equal(t, 1, l.Len())
}

func TestSweepKeepsActiveIdentities(t *testing.T) {
	l := newTestLimiter(t, time.Minute, 1)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l.admit("active", base)
	l.admit("idle", base.Add(-2*time.Minute))

	l.admit("active", base.Add(time.Second))
	assert.Equal(t, 1, l.Len(), "idle identity should be swept, active kept")
}

func TestAdmitConcurrent(t *testing.T) {
	l := newTestLimiter(t, time.Minute, 0.01)

	const goroutines = 16
	const perGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			identity := fmt.Sprintf("172.16.0.%d", id%4)
			for i := 0; i < perGoroutine; i++ {
				count := l.Admit(identity)
				assert.Greater(t, count, 0)
			}
		}(g)
	}
	wg.Wait()

	// Four identities were used; each must carry all its admits.
	assert.Equal(t, 4, l.Len())
	total := 0
	for i := 0; i < 4; i++ {
		total += l.admit(fmt.Sprintf("172.16.0.%d", i), time.Now()) - 1
	}
	assert.Equal(t, goroutines*perGoroutine, total)
}
