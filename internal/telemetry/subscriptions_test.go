package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

// TestSubscriptionCoalescing covers scenario S6: two back-to-back notifications
// collapse such that the first callback fires immediately and a second fires only
// after minExecuteInterval has elapsed, never more than once per interval.
func TestSubscriptionCoalescing(t *testing.T) {
	engine := NewSubscriptionEngine(nil)

	var mu sync.Mutex
	var fireTimes []time.Time
	handle := engine.OnNewLogs("watcher", nil, SubscriptionOther, 200*time.Millisecond, func(ctx context.Context) {
		mu.Lock()
		fireTimes = append(fireTimes, time.Now())
		mu.Unlock()
	})
	defer handle.Dispose()

	start := time.Now()
	engine.NotifyNewLogs(ResourceKey{Name: "svc"})
	time.Sleep(20 * time.Millisecond)
	engine.NotifyNewLogs(ResourceKey{Name: "svc"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fireTimes) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fireTimes, 2)
	assert.WithinDuration(t, start, fireTimes[0], 50*time.Millisecond)
	assert.GreaterOrEqual(t, fireTimes[1].Sub(fireTimes[0]), 190*time.Millisecond)
}

func TestSubscriptionResourceScoping(t *testing.T) {
	engine := NewSubscriptionEngine(nil)

	var mu sync.Mutex
	fired := 0
	key := NewResourceKey("svc", "1")
	handle := engine.OnNewLogs("scoped", &key, SubscriptionOther, 0, func(ctx context.Context) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer handle.Dispose()

	engine.NotifyNewLogs(NewResourceKey("svc", "2"))
	engine.NotifyNewLogs(NewResourceKey("svc", "1"))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	})
}

func TestSubscriptionDisposalIdempotent(t *testing.T) {
	engine := NewSubscriptionEngine(nil)
	fired := false
	handle := engine.OnNewApplications("app", 0, func(ctx context.Context) { fired = true })

	handle.Dispose()
	assert.NotPanics(t, func() { handle.Dispose() })

	engine.NotifyNewApplications()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired, "disposed subscription must not fire")
}

func TestReadSubscriptionCoverage(t *testing.T) {
	engine := NewSubscriptionEngine(nil)
	key := NewResourceKey("svc", "1")
	handle := engine.OnNewLogs("reader", &key, SubscriptionRead, 0, func(ctx context.Context) {})
	defer handle.Dispose()

	assert.True(t, engine.IsReadCoveringResource(NewResourceKey("svc", "1")))
	assert.False(t, engine.IsReadCoveringResource(NewResourceKey("svc", "2")))
}
