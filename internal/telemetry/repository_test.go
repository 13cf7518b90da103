package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

func strKV(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}}}
}

func testResource(name, instanceID string) *resourcepb.Resource {
	return &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
		strKV(attrServiceName, name),
		strKV(attrServiceInstanceID, instanceID),
	}}
}

func logsDataFor(name, instanceID, message string, nanos int64) *logspb.LogsData {
	return &logspb.LogsData{ResourceLogs: []*logspb.ResourceLogs{{
		Resource: testResource(name, instanceID),
		ScopeLogs: []*logspb.ScopeLogs{{
			LogRecords: []*logspb.LogRecord{{
				TimeUnixNano: uint64(nanos),
				Body:         &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: message}},
			}},
		}},
	}}}
}

func tracesDataFor(name, instanceID, traceID, spanID, parentID string, nanos int64) *tracepb.TracesData {
	sp := &tracepb.Span{
		TraceId:           []byte(traceID),
		SpanId:            []byte(spanID),
		Name:              "op",
		StartTimeUnixNano: uint64(nanos),
		EndTimeUnixNano:   uint64(nanos + 1),
	}
	if parentID != "" {
		sp.ParentSpanId = []byte(parentID)
	}
	return &tracepb.TracesData{ResourceSpans: []*tracepb.ResourceSpans{{
		Resource:   testResource(name, instanceID),
		ScopeSpans: []*tracepb.ScopeSpans{{Spans: []*tracepb.Span{sp}}},
	}}}
}

func metricsDataFor(name, instanceID, metricName string, value int64, nanos int64) *metricspb.MetricsData {
	return &metricspb.MetricsData{ResourceMetrics: []*metricspb.ResourceMetrics{{
		Resource: testResource(name, instanceID),
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Metrics: []*metricspb.Metric{{
				Name: metricName,
				Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
					DataPoints: []*metricspb.NumberDataPoint{{
						StartTimeUnixNano: uint64(nanos),
						TimeUnixNano:      uint64(nanos),
						Value:             &metricspb.NumberDataPoint_AsInt{AsInt: value},
					}},
				}},
			}},
		}},
	}}}
}

func newTestRepository() *Repository {
	return NewRepository(Limits{
		MaxLogCount: 100, MaxTraceCount: 100, MaxMetricsCount: 100,
		MaxAttributeCount: 100, MaxAttributeLength: 1024,
	}, nil, nil)
}

// TestPauseSuppressesIngestPerSignal covers invariant 15.
func TestPauseSuppressesIngestPerSignal(t *testing.T) {
	repo := newTestRepository()
	repo.Pause().SetLogsPaused(true)

	addCtx, err := repo.AddLogs(context.Background(), logsDataFor("svc", "1", "hello", time.Now().UnixNano()))
	require.NoError(t, err)
	assert.Equal(t, 0, addCtx.FailureCount)

	res := repo.GetLogs(LogsQuery{Count: 10})
	assert.Empty(t, res.Items)

	repo.Pause().SetLogsPaused(false)
	_, err = repo.AddLogs(context.Background(), logsDataFor("svc", "1", "hello", time.Now().UnixNano()))
	require.NoError(t, err)
	res = repo.GetLogs(LogsQuery{Count: 10})
	assert.Len(t, res.Items, 1)
}

// TestClearSelectedSignalsRemovesResourceWhenFullySelected covers invariant 16.
func TestClearSelectedSignalsRemovesResourceWhenFullySelected(t *testing.T) {
	repo := newTestRepository()
	now := time.Now().UnixNano()
	_, err := repo.AddLogs(context.Background(), logsDataFor("svc", "1", "hello", now))
	require.NoError(t, err)
	_, err = repo.AddTraces(context.Background(), tracesDataFor("svc", "1", "trace1", "span1", "", now))
	require.NoError(t, err)
	_, err = repo.AddMetrics(context.Background(), metricsDataFor("svc", "1", "requests", 1, now))
	require.NoError(t, err)

	composite := NewResourceKey("svc", "1").Composite()

	// Partial selection: clears only logs, resource remains listed.
	repo.ClearSelectedSignals(map[string]DataTypeSet{
		composite: NewDataTypeSet(DataTypeStructuredLogs),
	})
	assert.Empty(t, repo.GetLogs(LogsQuery{Count: 10}).Items)
	_, ok := repo.GetResourceByCompositeName(composite)
	assert.True(t, ok)

	// Full selection: resource is removed entirely.
	repo.ClearSelectedSignals(map[string]DataTypeSet{
		composite: NewDataTypeSet(DataTypeStructuredLogs, DataTypeTraces, DataTypeMetrics, DataTypeResource),
	})
	_, ok = repo.GetResourceByCompositeName(composite)
	assert.False(t, ok)
}

// TestTimebaseRoundTrip covers invariant 17: converting a unix-nano timestamp to ticks
// and back is lossless when the value is already ticks-aligned.
func TestTimebaseRoundTrip(t *testing.T) {
	nanos := int64(1_700_000_000_000_000_00) // multiple of 100
	ticks := UnixNanoToTicks(nanos)
	assert.Equal(t, nanos, TicksToUnixNano(ticks))
}

// TestEndToEndIngestQuerySubscribeClear exercises Add*/Get*/Subscribe/Clear together.
func TestEndToEndIngestQuerySubscribeClear(t *testing.T) {
	repo := newTestRepository()

	fired := make(chan struct{}, 1)
	handle := repo.OnNewLogs(context.Background(), "watch", nil, SubscriptionOther, 0, func(ctx context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer handle.Dispose()

	now := time.Now().UnixNano()
	_, err := repo.AddLogs(context.Background(), logsDataFor("svc", "1", "hi", now))
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to fire after ingest")
	}

	res := repo.GetLogs(LogsQuery{Count: 10})
	require.Len(t, res.Items, 1)
	assert.Equal(t, "hi", res.Items[0].Message)

	apps := repo.GetApplications(false)
	require.Len(t, apps, 1)
	assert.Equal(t, "svc", apps[0].Key.Name)

	repo.ClearStructuredLogs(nil)
	assert.Empty(t, repo.GetLogs(LogsQuery{Count: 10}).Items)
}

func TestRepositoryStopRejectsIngest(t *testing.T) {
	repo := newTestRepository()
	repo.Stop()
	_, err := repo.AddLogs(context.Background(), logsDataFor("svc", "1", "hi", time.Now().UnixNano()))
	assert.Error(t, err)
}
