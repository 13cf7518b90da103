package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minutesFrom(base time.Time, m int) time.Time {
	return base.Add(time.Duration(m) * time.Minute)
}

func newViewFor(t *testing.T, reg *ResourceRegistry, name, instanceID string) *ResourceView {
	t.Helper()
	_, view := reg.Resolve([]Attribute{{Key: attrServiceName, Value: name}, {Key: attrServiceInstanceID, Value: instanceID}}, nil)
	return view
}

// TestLogsOutOfOrderInsertion covers scenario S2: inserting 10 logs out of order yields
// them back in timestamp order.
func TestLogsOutOfOrderInsertion(t *testing.T) {
	store := NewLogStore(Limits{MaxLogCount: 100}, nil, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	minuteOrder := []int{1, 2, 3, 10, 9, 4, 5, 7, 6, 8}

	for _, m := range minuteOrder {
		store.Insert(&LogEntry{Timestamp: minutesFrom(base, m), Message: itoa(m)}, "svc")
	}

	res := store.GetLogs(LogsQuery{Count: 100})
	require.Len(t, res.Items, 10)
	for i, e := range res.Items {
		assert.Equal(t, itoa(i+1), e.Message)
	}
}

// TestUnviewedErrorCounts covers invariant 8.
func TestUnviewedErrorCounts(t *testing.T) {
	store := NewLogStore(Limits{MaxLogCount: 100}, nil, nil)
	reg := newTestRegistry()
	base := time.Now().UTC()

	view1 := newViewFor(t, reg, "svc", "1")
	view2 := newViewFor(t, reg, "svc", "2")

	severities := []int32{1, 5, 9, 13, 17, 21} // Trace, Debug, Info, Warn, Error, Fatal
	for _, sev := range severities {
		store.Insert(&LogEntry{Timestamp: base, Severity: sev, View: view1}, "svc-1")
		base = base.Add(time.Second)
	}
	store.Insert(&LogEntry{Timestamp: base, Severity: 21, View: view2}, "svc-2")

	counts := store.UnviewedErrorCounts()
	assert.Equal(t, int64(2), counts["svc-1"])
	assert.Equal(t, int64(1), counts["svc-2"])

	one := "svc-1"
	store.MarkViewed(&one)
	counts = store.UnviewedErrorCounts()
	_, has1 := counts["svc-1"]
	assert.False(t, has1)
	assert.Equal(t, int64(1), counts["svc-2"])

	store.MarkViewed(nil)
	counts = store.UnviewedErrorCounts()
	assert.Empty(t, counts)
}

// TestReadSubscriptionSuppression covers invariant 9.
func TestReadSubscriptionSuppression(t *testing.T) {
	reg := newTestRegistry()
	view1 := newViewFor(t, reg, "svc", "1")
	view2 := newViewFor(t, reg, "svc", "2")

	t.Run("read covering all resources suppresses all", func(t *testing.T) {
		covering := true
		store := NewLogStore(Limits{MaxLogCount: 10}, nil, func(ResourceKey) bool { return covering })
		store.Insert(&LogEntry{Timestamp: time.Now(), Severity: 17, View: view1}, "svc-1")
		assert.Empty(t, store.UnviewedErrorCounts())
	})

	t.Run("read for resource 1 only does not suppress resource 2", func(t *testing.T) {
		store := NewLogStore(Limits{MaxLogCount: 10}, nil, func(k ResourceKey) bool {
			return k.Matches("svc", "1")
		})
		store.Insert(&LogEntry{Timestamp: time.Now(), Severity: 17, View: view1}, "svc-1")
		store.Insert(&LogEntry{Timestamp: time.Now(), Severity: 17, View: view2}, "svc-2")
		counts := store.UnviewedErrorCounts()
		_, has1 := counts["svc-1"]
		assert.False(t, has1)
		assert.Equal(t, int64(1), counts["svc-2"])
	})

	t.Run("non-read subscription does not suppress", func(t *testing.T) {
		store := NewLogStore(Limits{MaxLogCount: 10}, nil, func(ResourceKey) bool { return false })
		store.Insert(&LogEntry{Timestamp: time.Now(), Severity: 17, View: view1}, "svc-1")
		assert.Equal(t, int64(1), store.UnviewedErrorCounts()["svc-1"])
	})
}

// TestLogsIngestAndRetrieve covers scenario S1.
func TestLogsIngestAndRetrieve(t *testing.T) {
	reg := newTestRegistry()
	view := newViewFor(t, reg, "TestService", "TestId")

	store := NewLogStore(Limits{MaxLogCount: 10, MaxAttributeCount: 10}, nil, nil)
	store.Insert(&LogEntry{
		Timestamp:      time.Now(),
		Message:        "Test Value!",
		OriginalFormat: "Test {Log}",
		TraceID:        "5465737454726163654964",
		SpanID:         "546573745370616e4964",
		Attributes:     []Attribute{{Key: "Log", Value: "Value!"}},
		View:           view,
	}, "TestService-TestId")

	res := store.GetLogs(LogsQuery{Count: 10})
	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, "Test Value!", item.Message)
	assert.Equal(t, "Test {Log}", item.OriginalFormat)
	require.Len(t, item.Attributes, 1)
	assert.Equal(t, Attribute{Key: "Log", Value: "Value!"}, item.Attributes[0])
}

func TestLogStoreBoundAndEviction(t *testing.T) {
	store := NewLogStore(Limits{MaxLogCount: 3}, nil, nil)
	base := time.Now()
	for i := 0; i < 5; i++ {
		store.Insert(&LogEntry{Timestamp: base.Add(time.Duration(i) * time.Minute), Message: itoa(i)}, "svc")
	}
	res := store.GetLogs(LogsQuery{Count: 100})
	require.Len(t, res.Items, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{res.Items[0].Message, res.Items[1].Message, res.Items[2].Message})
}
