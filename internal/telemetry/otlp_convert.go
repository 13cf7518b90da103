package telemetry

import (
	"log/slog"
	"time"

	"github.com/sirupsen/logrus"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// OTLPConverter turns decoded OTLP wire objects into the repository's domain shapes,
// applying the Attribute Limiter and Resource Registry along the way. legacyLogger
// carries conversion-time warnings about malformed or partially droppable input (missing
// resource, unsupported metric type), matching the teacher converter's logrus signature;
// everything else the repository logs goes through slog (see logger).
type OTLPConverter struct {
	legacyLogger *logrus.Logger
	logger       *slog.Logger
	registry     *ResourceRegistry
	limits       Limits
}

// NewOTLPConverter builds a converter bound to a Resource Registry and limits.
func NewOTLPConverter(legacyLogger *logrus.Logger, logger *slog.Logger, registry *ResourceRegistry, limits Limits) *OTLPConverter {
	if legacyLogger == nil {
		legacyLogger = logrus.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OTLPConverter{legacyLogger: legacyLogger, logger: logger, registry: registry, limits: limits}
}

func (c *OTLPConverter) resolveResource(res *resourcepb.Resource) (*Resource, *ResourceView) {
	var attrs []*commonpb.KeyValue
	if res != nil {
		attrs = res.GetAttributes()
	} else {
		c.legacyLogger.WithField("fallback", "unknown_service").Warn("otlp: resource missing from payload")
	}
	var identity, other []*commonpb.KeyValue
	for _, kv := range attrs {
		switch kv.GetKey() {
		case attrServiceName, attrServiceInstanceID:
			identity = append(identity, kv)
		default:
			other = append(other, kv)
		}
	}
	identityLimited, _ := LimitAttributes(c.logger, nil, identity, c.limits)
	otherLimited, _ := LimitAttributes(c.logger, nil, other, c.limits)
	return c.registry.Resolve(identityLimited, otherLimited)
}

func convertScope(scope *commonpb.InstrumentationScope, logger *slog.Logger, limits Limits) Scope {
	if scope == nil {
		return EmptyScope
	}
	attrs, _ := LimitAttributes(logger, nil, scope.GetAttributes(), limits)
	return Scope{Name: scope.GetName(), Version: scope.GetVersion(), Attributes: attrs}
}

// ConvertedLog is one decoded log entry plus the composite resource key it belongs under.
type ConvertedLog struct {
	Entry     *LogEntry
	Composite string
}

// ConvertLogs flattens a LogsData into per-entry domain records.
func (c *OTLPConverter) ConvertLogs(data *logspb.LogsData) []ConvertedLog {
	if data == nil {
		return nil
	}
	var out []ConvertedLog
	for _, rl := range data.GetResourceLogs() {
		resource, view := c.resolveResource(rl.GetResource())
		composite := resource.Key.Composite()
		for _, sl := range rl.GetScopeLogs() {
			scope := convertScope(sl.GetScope(), c.logger, c.limits)
			for _, rec := range sl.GetLogRecords() {
				out = append(out, ConvertedLog{Entry: c.convertLogRecord(rec, scope, view), Composite: composite})
			}
		}
	}
	return out
}

const wellKnownOriginalFormat = "OriginalFormat"
const wellKnownMessage = "message"

func (c *OTLPConverter) convertLogRecord(rec *logspb.LogRecord, scope Scope, view *ResourceView) *LogEntry {
	var originalFormat string
	var filtered []*commonpb.KeyValue
	for _, kv := range rec.GetAttributes() {
		if kv.GetKey() == wellKnownOriginalFormat {
			originalFormat = Stringify(kv.GetValue())
			continue
		}
		if kv.GetKey() == wellKnownMessage {
			continue
		}
		filtered = append(filtered, kv)
	}
	attrs, _ := LimitAttributes(c.logger, nil, filtered, c.limits)

	return &LogEntry{
		Timestamp:      time.Unix(0, int64(rec.GetTimeUnixNano())).UTC(),
		Severity:       int32(rec.GetSeverityNumber()),
		SeverityText:   rec.GetSeverityText(),
		Message:        Stringify(rec.GetBody()),
		TraceID:        HexID(rec.GetTraceId()),
		SpanID:         HexID(rec.GetSpanId()),
		OriginalFormat: originalFormat,
		Attributes:     attrs,
		Scope:          scope,
		View:           view,
	}
}

// ConvertedSpan is one decoded span plus the composite resource key it belongs under.
type ConvertedSpan struct {
	Span      *Span
	Composite string
}

// ConvertTraces flattens a TracesData into per-span domain records.
func (c *OTLPConverter) ConvertTraces(data *tracepb.TracesData) []ConvertedSpan {
	if data == nil {
		return nil
	}
	var out []ConvertedSpan
	for _, rs := range data.GetResourceSpans() {
		resource, view := c.resolveResource(rs.GetResource())
		composite := resource.Key.Composite()
		for _, ss := range rs.GetScopeSpans() {
			scope := convertScope(ss.GetScope(), c.logger, c.limits)
			for _, sp := range ss.GetSpans() {
				out = append(out, ConvertedSpan{Span: c.convertSpan(sp, scope, view), Composite: composite})
			}
		}
	}
	return out
}

func (c *OTLPConverter) convertSpan(sp *tracepb.Span, scope Scope, view *ResourceView) *Span {
	attrs, _ := LimitAttributes(c.logger, nil, sp.GetAttributes(), c.limits)

	events := make([]SpanEvent, 0, len(sp.GetEvents()))
	for _, ev := range sp.GetEvents() {
		evAttrs, _ := LimitAttributes(c.logger, nil, ev.GetAttributes(), c.limits)
		events = append(events, SpanEvent{
			Name:       ev.GetName(),
			Time:       time.Unix(0, int64(ev.GetTimeUnixNano())).UTC(),
			Attributes: evAttrs,
		})
	}
	sortSpanEvents(events)
	if c.limits.MaxSpanEventCount > 0 && len(events) > c.limits.MaxSpanEventCount {
		events = events[:c.limits.MaxSpanEventCount]
	}

	links := make([]SpanLink, 0, len(sp.GetLinks()))
	for _, l := range sp.GetLinks() {
		linkAttrs, _ := LimitAttributes(c.logger, nil, l.GetAttributes(), c.limits)
		links = append(links, SpanLink{
			TraceID:    HexID(l.GetTraceId()),
			SpanID:     HexID(l.GetSpanId()),
			Attributes: linkAttrs,
		})
	}

	return &Span{
		TraceID:       HexID(sp.GetTraceId()),
		SpanID:        HexID(sp.GetSpanId()),
		ParentSpanID:  HexID(sp.GetParentSpanId()),
		Kind:          convertSpanKind(sp.GetKind()),
		Status:        convertStatusCode(sp.GetStatus().GetCode()),
		StatusMessage: sp.GetStatus().GetMessage(),
		StartTime:     time.Unix(0, int64(sp.GetStartTimeUnixNano())).UTC(),
		EndTime:       time.Unix(0, int64(sp.GetEndTimeUnixNano())).UTC(),
		Name:          sp.GetName(),
		Scope:         scope,
		Attributes:    attrs,
		Events:        events,
		Links:         links,
		View:          view,
	}
}

func sortSpanEvents(events []SpanEvent) {
	// insertion sort: event counts per span are small (bounded by MaxSpanEventCount)
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Time.Before(events[j-1].Time); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

// convertSpanKind maps the OTLP enum to the domain SpanKind, mapping any unrecognized
// numeric value to Unspecified rather than Internal.
func convertSpanKind(k tracepb.Span_SpanKind) SpanKind {
	switch k {
	case tracepb.Span_SPAN_KIND_INTERNAL:
		return SpanKindInternal
	case tracepb.Span_SPAN_KIND_SERVER:
		return SpanKindServer
	case tracepb.Span_SPAN_KIND_CLIENT:
		return SpanKindClient
	case tracepb.Span_SPAN_KIND_PRODUCER:
		return SpanKindProducer
	case tracepb.Span_SPAN_KIND_CONSUMER:
		return SpanKindConsumer
	default:
		return SpanKindUnspecified
	}
}

func convertStatusCode(c tracepb.Status_StatusCode) SpanStatusCode {
	switch c {
	case tracepb.Status_STATUS_CODE_OK:
		return SpanStatusOK
	case tracepb.Status_STATUS_CODE_ERROR:
		return SpanStatusError
	default:
		return SpanStatusUnset
	}
}

// ConvertedMetric is one decoded data point plus the composite resource key, meter name,
// and instrument metadata it belongs under.
type ConvertedMetric struct {
	Composite   string
	Meter       string
	Name        string
	Description string
	Unit        string
	Kind        MetricKind
	DimAttrs    []Attribute
	Point       DataPoint
}

// ConvertMetrics flattens a MetricsData into per-data-point domain records.
func (c *OTLPConverter) ConvertMetrics(data *metricspb.MetricsData) []ConvertedMetric {
	if data == nil {
		return nil
	}
	var out []ConvertedMetric
	for _, rm := range data.GetResourceMetrics() {
		resource, _ := c.resolveResource(rm.GetResource())
		composite := resource.Key.Composite()
		for _, sm := range rm.GetScopeMetrics() {
			meter := sm.GetScope().GetName()
			for _, m := range sm.GetMetrics() {
				out = append(out, c.convertMetric(composite, meter, m)...)
			}
		}
	}
	return out
}

func (c *OTLPConverter) convertMetric(composite, meter string, m *metricspb.Metric) []ConvertedMetric {
	switch {
	case m.GetSum() != nil:
		return c.convertNumberPoints(composite, meter, m.GetName(), m.GetDescription(), m.GetUnit(), MetricKindSum, m.GetSum().GetDataPoints())
	case m.GetGauge() != nil:
		return c.convertNumberPoints(composite, meter, m.GetName(), m.GetDescription(), m.GetUnit(), MetricKindGauge, m.GetGauge().GetDataPoints())
	case m.GetHistogram() != nil:
		return c.convertHistogramPoints(composite, meter, m.GetName(), m.GetDescription(), m.GetUnit(), m.GetHistogram().GetDataPoints())
	default:
		c.legacyLogger.WithFields(logrus.Fields{
			"meter": meter,
			"name":  m.GetName(),
		}).Warn("otlp: dropping metric of unsupported type (summary or exponential histogram)")
		return nil
	}
}

func (c *OTLPConverter) convertNumberPoints(composite, meter, name, description, unit string, kind MetricKind, points []*metricspb.NumberDataPoint) []ConvertedMetric {
	out := make([]ConvertedMetric, 0, len(points))
	for _, p := range points {
		dimAttrs, _ := LimitAttributes(c.logger, nil, p.GetAttributes(), c.limits)
		dp := DataPoint{
			Start: time.Unix(0, int64(p.GetStartTimeUnixNano())).UTC(),
			End:   time.Unix(0, int64(p.GetTimeUnixNano())).UTC(),
		}
		if iv, ok := p.GetValue().(*metricspb.NumberDataPoint_AsInt); ok {
			dp.IsInt = true
			dp.IntValue = iv.AsInt
		} else {
			dp.Value = p.GetAsDouble()
		}
		out = append(out, ConvertedMetric{
			Composite: composite, Meter: meter, Name: name, Description: description, Unit: unit,
			Kind: kind, DimAttrs: dimAttrs, Point: dp,
		})
	}
	return out
}

func (c *OTLPConverter) convertHistogramPoints(composite, meter, name, description, unit string, points []*metricspb.HistogramDataPoint) []ConvertedMetric {
	out := make([]ConvertedMetric, 0, len(points))
	for _, p := range points {
		dimAttrs, _ := LimitAttributes(c.logger, nil, p.GetAttributes(), c.limits)
		dp := DataPoint{
			Start:          time.Unix(0, int64(p.GetStartTimeUnixNano())).UTC(),
			End:            time.Unix(0, int64(p.GetTimeUnixNano())).UTC(),
			Count:          p.GetCount(),
			Sum:            p.GetSum(),
			ExplicitBounds: append([]float64(nil), p.GetExplicitBounds()...),
			BucketCounts:   append([]uint64(nil), p.GetBucketCounts()...),
		}
		if p.Min != nil {
			dp.HasMin, dp.Min = true, p.GetMin()
		}
		if p.Max != nil {
			dp.HasMax, dp.Max = true, p.GetMax()
		}
		out = append(out, ConvertedMetric{
			Composite: composite, Meter: meter, Name: name, Description: description, Unit: unit,
			Kind: MetricKindHistogram, DimAttrs: dimAttrs, Point: dp,
		})
	}
	return out
}
