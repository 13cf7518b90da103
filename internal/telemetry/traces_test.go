package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSpan(traceID, spanID, parentID string, start time.Time) *Span {
	return &Span{TraceID: traceID, SpanID: spanID, ParentSpanID: parentID, StartTime: start, EndTime: start}
}

// TestOutOfOrderSpanInsertion covers scenario S3.
func TestOutOfOrderSpanInsertion(t *testing.T) {
	store := NewTraceStore(Limits{MaxTraceCount: 10}, nil)
	base := time.Now()

	order := []string{"1-2", "1-5", "1-3", "1-4", "1-1"}
	for _, id := range order {
		parent := "1-1"
		if id == "1-1" {
			parent = ""
		}
		minute := int(id[2] - '0')
		store.Insert(newSpan("1", id, parent, minutesFrom(base, minute)))
	}

	trace := store.GetTrace("1")
	require.NotNil(t, trace)
	assert.Equal(t, "1-1", trace.FirstSpan.SpanID)
	assert.Equal(t, "1-1", trace.RootSpan.SpanID)

	var ids []string
	for _, sp := range trace.Spans {
		ids = append(ids, sp.SpanID)
	}
	assert.Equal(t, []string{"1-1", "1-2", "1-3", "1-4", "1-5"}, ids)
}

// TestCycleRejectionSelfParent covers invariant 10.
func TestCycleRejectionSelfParent(t *testing.T) {
	store := NewTraceStore(Limits{MaxTraceCount: 10}, nil)
	result := store.Insert(newSpan("t", "s1", "s1", time.Now()))
	assert.True(t, result.Rejected)
	assert.Nil(t, store.GetTrace("t"))
}

// TestMultiSpanCycleRejection covers invariant 11: spans A->C, B->A, C->B (parent edges)
// reject exactly one span; the trace contains the remaining two.
func TestMultiSpanCycleRejection(t *testing.T) {
	store := NewTraceStore(Limits{MaxTraceCount: 10}, nil)
	base := time.Now()

	rA := store.Insert(newSpan("t", "A", "C", base))
	rB := store.Insert(newSpan("t", "B", "A", base.Add(time.Second)))
	rC := store.Insert(newSpan("t", "C", "B", base.Add(2*time.Second)))

	rejections := 0
	for _, r := range []InsertResult{rA, rB, rC} {
		if r.Rejected {
			rejections++
		}
	}
	assert.Equal(t, 1, rejections)

	trace := store.GetTrace("t")
	require.NotNil(t, trace)
	assert.Len(t, trace.Spans, 2)
}

// TestDuplicateSpanRejected covers invariant 12.
func TestDuplicateSpanRejected(t *testing.T) {
	store := NewTraceStore(Limits{MaxTraceCount: 10}, nil)
	first := store.Insert(newSpan("t", "s1", "", time.Now()))
	second := store.Insert(newSpan("t", "s1", "", time.Now()))

	assert.False(t, first.Rejected)
	assert.True(t, second.Rejected)
	trace := store.GetTrace("t")
	require.NotNil(t, trace)
	assert.Len(t, trace.Spans, 1)
}

// TestRootSpanSelection covers invariant 13.
func TestRootSpanSelection(t *testing.T) {
	store := NewTraceStore(Limits{MaxTraceCount: 10}, nil)
	base := time.Now()

	store.Insert(newSpan("t", "parentless-5min", "", minutesFrom(base, 5)))
	store.Insert(newSpan("t", "child-3min", "1-1", minutesFrom(base, 3)))
	store.Insert(newSpan("t", "another-root-4min", "", minutesFrom(base, 4)))

	trace := store.GetTrace("t")
	require.NotNil(t, trace)
	assert.Equal(t, "child-3min", trace.FirstSpan.SpanID)
	assert.Equal(t, "another-root-4min", trace.RootSpan.SpanID)
}

// TestLinkBacklink covers invariant 14.
func TestLinkBacklink(t *testing.T) {
	store := NewTraceStore(Limits{MaxTraceCount: 10}, nil)
	store.Insert(newSpan("1", "1-1", "", time.Now()))

	linked := newSpan("1", "1-2", "", time.Now())
	linked.Links = []SpanLink{{TraceID: "1", SpanID: "1-1"}}
	store.Insert(linked)

	backlinks := store.GetBacklinks("1", "1-1")
	require.Len(t, backlinks, 1)
	assert.Equal(t, "1-2", backlinks[0].SourceSpanID)
}

// TestTraceDeepCopy covers invariant 4.
func TestTraceDeepCopy(t *testing.T) {
	store := NewTraceStore(Limits{MaxTraceCount: 10}, nil)
	store.Insert(newSpan("t", "s1", "", time.Now()))

	first := store.GetTrace("t")
	second := store.GetTrace("t")
	require.NotSame(t, first, second)
	require.NotSame(t, first.Spans[0], second.Spans[0])

	first.Spans[0].Name = "mutated"
	third := store.GetTrace("t")
	assert.NotEqual(t, "mutated", third.Spans[0].Name)
}

// TestTraceEvictionFIFO covers trace-count eviction: once MaxTraceCount is exceeded, the
// trace with the oldest firstSpan.startTime is evicted.
func TestTraceEvictionFIFO(t *testing.T) {
	store := NewTraceStore(Limits{MaxTraceCount: 2}, nil)
	base := time.Now()
	store.Insert(newSpan("1", "1-1", "", base))
	store.Insert(newSpan("2", "2-1", "", base.Add(time.Minute)))
	store.Insert(newSpan("3", "3-1", "", base.Add(2*time.Minute)))

	assert.Nil(t, store.GetTrace("1"))
	assert.NotNil(t, store.GetTrace("2"))
	assert.NotNil(t, store.GetTrace("3"))
}

func TestSpanEventsSortedByTime(t *testing.T) {
	base := time.Now()
	sp := newSpan("t", "s1", "", base)
	sp.Events = []SpanEvent{
		{Name: "c", Time: base.Add(3 * time.Second)},
		{Name: "a", Time: base.Add(1 * time.Second)},
		{Name: "b", Time: base.Add(2 * time.Second)},
	}
	sortSpanEvents(sp.Events)
	var names []string
	for _, e := range sp.Events {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
