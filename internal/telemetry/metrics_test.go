package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetricRingBufferBound covers invariant 5: inserting 5 points into a dimension
// bounded to 3 retains exactly the last 3.
func TestMetricRingBufferBound(t *testing.T) {
	store := NewMetricStore(Limits{MaxMetricsCount: 3}, nil)
	base := time.Now()

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		store.Insert("svc", "meter", "requests", "", "", MetricKindSum, nil, DataPoint{
			Start: ts, End: ts, IsInt: true, IntValue: int64(i),
		})
	}

	inst := store.GetInstrument("svc", "meter", "requests", InstrumentsQuery{})
	require.NotNil(t, inst)
	require.Len(t, inst.Dimensions(), 1)
	for _, dim := range inst.Dimensions() {
		require.Len(t, dim.Values, 3)
		assert.Equal(t, int64(2), dim.Values[0].IntValue)
		assert.Equal(t, int64(3), dim.Values[1].IntValue)
		assert.Equal(t, int64(4), dim.Values[2].IntValue)
	}
}

// TestMetricTimeWindowFilter checks that GetInstrument returns only the points whose
// timestamps fall inside [StartTime, EndTime].
func TestMetricTimeWindowFilter(t *testing.T) {
	store := NewMetricStore(Limits{MaxMetricsCount: 100}, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		store.Insert("svc", "meter", "latency", "", "ms", MetricKindGauge, nil, DataPoint{
			Start: ts, End: ts, Value: float64(i),
		})
	}

	inst := store.GetInstrument("svc", "meter", "latency", InstrumentsQuery{
		StartTime: base.Add(time.Hour),
		EndTime:   base.Add(3 * time.Hour),
	})
	require.NotNil(t, inst)
	for _, dim := range inst.Dimensions() {
		require.Len(t, dim.Values, 3)
		assert.Equal(t, 1.0, dim.Values[0].Value)
		assert.Equal(t, 3.0, dim.Values[2].Value)
	}
}

func TestMetricKnownAttributeValuesAndDimensions(t *testing.T) {
	store := NewMetricStore(Limits{MaxMetricsCount: 10}, nil)
	ts := time.Now()
	store.Insert("svc", "meter", "calls", "calls made", "1", MetricKindSum, []Attribute{{Key: "route", Value: "/a"}}, DataPoint{Start: ts, End: ts, IsInt: true, IntValue: 1})
	store.Insert("svc", "meter", "calls", "calls made", "1", MetricKindSum, []Attribute{{Key: "route", Value: "/b"}}, DataPoint{Start: ts, End: ts, IsInt: true, IntValue: 1})

	inst := store.GetInstrument("svc", "meter", "calls", InstrumentsQuery{})
	require.NotNil(t, inst)
	assert.Equal(t, "calls made", inst.Description)
	assert.Len(t, inst.Dimensions(), 2)
	assert.ElementsMatch(t, []string{"/a", "/b"}, inst.KnownAttributeValues()["route"])
}

func TestGetMetricPropertyKeys(t *testing.T) {
	store := NewMetricStore(Limits{MaxMetricsCount: 10}, nil)
	ts := time.Now()
	store.Insert("svc", "meter", "calls", "", "", MetricKindSum, []Attribute{{Key: "route", Value: "/a"}}, DataPoint{Start: ts, End: ts})
	store.Insert("svc", "meter", "errors", "", "", MetricKindSum, []Attribute{{Key: "code", Value: "500"}}, DataPoint{Start: ts, End: ts})

	keys := store.GetMetricPropertyKeys("svc")
	assert.Equal(t, []string{"code", "route"}, keys)
}

func TestGetInstrumentsSummariesMetadataOnly(t *testing.T) {
	store := NewMetricStore(Limits{MaxMetricsCount: 10}, nil)
	ts := time.Now()
	store.Insert("svc", "meter", "b_metric", "", "", MetricKindGauge, nil, DataPoint{Start: ts, End: ts})
	store.Insert("svc", "meter", "a_metric", "", "", MetricKindGauge, nil, DataPoint{Start: ts, End: ts})

	summaries := store.GetInstrumentsSummaries("svc")
	require.Len(t, summaries, 2)
	assert.Equal(t, "a_metric", summaries[0].Name)
	assert.Equal(t, "b_metric", summaries[1].Name)
	assert.Empty(t, summaries[0].Dimensions())
}
