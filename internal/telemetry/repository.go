package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// AddContext is filled in by the facade during an Add* call. FailureCount counts rejected
// items (cycles, duplicates, oversized payloads); successfully stored items never add to
// it, and a paused signal never does either.
type AddContext struct {
	FailureCount int
}

// DataType is one of the four categories ClearSelectedSignals can act on.
type DataType int

const (
	DataTypeStructuredLogs DataType = iota
	DataTypeTraces
	DataTypeMetrics
	DataTypeResource
)

// DataTypeSet is a set of DataType values selected for one resource in ClearSelectedSignals.
type DataTypeSet map[DataType]struct{}

// NewDataTypeSet builds a DataTypeSet from the given members.
func NewDataTypeSet(types ...DataType) DataTypeSet {
	set := make(DataTypeSet, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func (s DataTypeSet) has(t DataType) bool {
	_, ok := s[t]
	return ok
}

// Repository is the single entry point for ingest, query, clearing, pausing, and
// subscribing. It owns one store per signal plus the resource registry, subscription
// engine, and pause manager, and never returns an error from Add*/Get* for malformed
// individual records — those are counted in AddContext.FailureCount instead.
type Repository struct {
	limits Limits
	logger *slog.Logger

	registry      *ResourceRegistry
	logs          *LogStore
	traces        *TraceStore
	metrics       *MetricStore
	subscriptions *SubscriptionEngine
	pause         *PauseManager
	converter     *OTLPConverter

	stopped bool
}

// NewRepository builds a Repository with the given limits. legacyLogger is passed to the
// OTLP converter, which logs conversion-time warnings (missing resource, unsupported metric
// type) through it; logger is the repository's own structured logger.
func NewRepository(limits Limits, logger *slog.Logger, legacyLogger *logrus.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewResourceRegistry(logger, 1024)
	subs := NewSubscriptionEngine(logger)

	repo := &Repository{
		limits:        limits,
		logger:        logger,
		registry:      registry,
		subscriptions: subs,
		pause:         &PauseManager{},
	}
	repo.logs = NewLogStore(limits, logger, subs.IsReadCoveringResource)
	repo.traces = NewTraceStore(limits, logger)
	repo.metrics = NewMetricStore(limits, logger)
	repo.converter = NewOTLPConverter(legacyLogger, logger, registry, limits)
	return repo
}

// SetPeerResolver installs the outgoing peer resolver used for client-kind spans.
func (r *Repository) SetPeerResolver(resolver PeerResolver) {
	r.traces.SetPeerResolver(resolver)
}

// Registry exposes the resource registry, e.g. so a caller can build a PeerResolver bound
// to the same identity space.
func (r *Repository) Registry() *ResourceRegistry { return r.registry }

// Pause exposes the pause manager.
func (r *Repository) Pause() *PauseManager { return r.pause }

// Stop marks the repository stopped; subsequent Add* calls return ErrRepositoryStopped.
// OnNew* calls still register subscriptions, and existing subscriptions are not cancelled.
func (r *Repository) Stop() { r.stopped = true }

// AddLogs ingests a decoded OTLP LogsData payload.
func (r *Repository) AddLogs(ctx context.Context, data *logspb.LogsData) (*AddContext, error) {
	if r == nil {
		return nil, ErrNilRepository
	}
	if r.stopped {
		return nil, ErrRepositoryStopped
	}
	addCtx := &AddContext{}
	if r.pause.LogsPaused() {
		return addCtx, nil
	}

	touched := make(map[string]ResourceKey)
	for _, converted := range r.converter.ConvertLogs(data) {
		r.logs.Insert(converted.Entry, converted.Composite)
		if converted.Entry.View != nil && converted.Entry.View.Resource != nil {
			touched[strings.ToLower(converted.Composite)] = converted.Entry.View.Resource.Key
		}
	}
	for _, key := range touched {
		r.subscriptions.NotifyNewLogs(key)
	}
	r.subscriptions.NotifyNewApplications()
	return addCtx, nil
}

// AddTraces ingests a decoded OTLP TracesData payload.
func (r *Repository) AddTraces(ctx context.Context, data *tracepb.TracesData) (*AddContext, error) {
	if r == nil {
		return nil, ErrNilRepository
	}
	if r.stopped {
		return nil, ErrRepositoryStopped
	}
	addCtx := &AddContext{}
	if r.pause.TracesPaused() {
		return addCtx, nil
	}

	touched := make(map[string]ResourceKey)
	for _, converted := range r.converter.ConvertTraces(data) {
		result := r.traces.Insert(converted.Span)
		if result.Rejected {
			addCtx.FailureCount++
			continue
		}
		if converted.Span.View != nil && converted.Span.View.Resource != nil {
			touched[strings.ToLower(converted.Composite)] = converted.Span.View.Resource.Key
		}
	}
	for _, key := range touched {
		r.subscriptions.NotifyNewTraces(key)
	}
	r.subscriptions.NotifyNewApplications()
	return addCtx, nil
}

// AddMetrics ingests a decoded OTLP MetricsData payload.
func (r *Repository) AddMetrics(ctx context.Context, data *metricspb.MetricsData) (*AddContext, error) {
	if r == nil {
		return nil, ErrNilRepository
	}
	if r.stopped {
		return nil, ErrRepositoryStopped
	}
	addCtx := &AddContext{}
	if r.pause.MetricsPaused() {
		return addCtx, nil
	}

	touched := make(map[string]ResourceKey)
	for _, converted := range r.converter.ConvertMetrics(data) {
		r.metrics.Insert(converted.Composite, converted.Meter, converted.Name, converted.Description, converted.Unit, converted.Kind, converted.DimAttrs, converted.Point)
		if res, ok := r.registry.GetByCompositeName(converted.Composite); ok {
			touched[strings.ToLower(converted.Composite)] = res.Key
		}
	}
	for _, key := range touched {
		r.subscriptions.NotifyNewMetrics(key)
	}
	r.subscriptions.NotifyNewApplications()
	return addCtx, nil
}

// GetLogs executes a filtered, paged log query.
func (r *Repository) GetLogs(q LogsQuery) LogsResult { return r.logs.GetLogs(q) }

// GetLogPropertyKeys returns the sorted attribute-key catalog for a resource's logs.
func (r *Repository) GetLogPropertyKeys(key ResourceKey) []string {
	return r.logs.GetPropertyKeys(key.Composite())
}

// UnviewedErrorCounts returns the current per-resource unviewed error-log counts.
func (r *Repository) UnviewedErrorCounts() map[string]int64 { return r.logs.UnviewedErrorCounts() }

// MarkViewedErrorLogs resets the unviewed error counter(s); nil resets every resource.
func (r *Repository) MarkViewedErrorLogs(key *ResourceKey) {
	var composite *string
	if key != nil {
		c := key.Composite()
		composite = &c
	}
	r.logs.MarkViewed(composite)
}

// GetTraces executes a filtered, paged trace query; results are deep copies.
func (r *Repository) GetTraces(q TracesQuery) TracesResult { return r.traces.GetTraces(q) }

// GetTrace returns one trace by id, or nil; the result is a deep copy.
func (r *Repository) GetTrace(traceID string) *Trace { return r.traces.GetTrace(traceID) }

// GetTracePropertyKeys returns the sorted attribute-key catalog for a resource's spans.
func (r *Repository) GetTracePropertyKeys(key *ResourceKey) []string {
	return r.traces.GetTracePropertyKeys(key)
}

// GetInstrument returns one instrument with its dimensions' points filtered to a time
// window; the result is a deep copy.
func (r *Repository) GetInstrument(key ResourceKey, meter, name string, q InstrumentsQuery) *Instrument {
	return r.metrics.GetInstrument(key.Composite(), meter, name, q)
}

// GetInstrumentsSummaries returns metadata-only instruments for a resource.
func (r *Repository) GetInstrumentsSummaries(key ResourceKey) []*Instrument {
	return r.metrics.GetInstrumentsSummaries(key.Composite())
}

// GetMetricPropertyKeys returns the sorted attribute-key catalog across a resource's instruments.
func (r *Repository) GetMetricPropertyKeys(key ResourceKey) []string {
	return r.metrics.GetMetricPropertyKeys(key.Composite())
}

// GetApplications lists known resources, optionally including synthesized uninstrumented peers.
func (r *Repository) GetApplications(includeUninstrumentedPeers bool) []*Resource {
	return r.registry.List(includeUninstrumentedPeers)
}

// GetResourceByCompositeName performs a case-insensitive composite-name lookup.
func (r *Repository) GetResourceByCompositeName(composite string) (*Resource, bool) {
	return r.registry.GetByCompositeName(composite)
}

// GetResourceShortName resolves the display short name for a composite resource key,
// memoized so repeated lookups for the same composite (e.g. annotating a page of log or
// trace rows) don't each pay a fresh registry lookup.
func (r *Repository) GetResourceShortName(composite string) (string, bool) {
	return r.registry.ShortName(composite)
}

// ClearTraces removes traces for a resource (nil clears all).
func (r *Repository) ClearTraces(key *ResourceKey) {
	r.traces.Clear(compositeOrNil(key))
}

// ClearStructuredLogs removes logs for a resource (nil clears all).
func (r *Repository) ClearStructuredLogs(key *ResourceKey) {
	r.logs.Clear(compositeOrNil(key))
}

// ClearMetrics removes metrics for a resource (nil clears all).
func (r *Repository) ClearMetrics(key *ResourceKey) {
	r.metrics.Clear(compositeOrNil(key))
}

// ClearSelectedSignals clears the selected data categories per resource composite name;
// a resource selected under all four categories is removed entirely. Each store is
// cleared in turn under its own lock, so a concurrent query can observe some categories
// already cleared and others not yet.
func (r *Repository) ClearSelectedSignals(selection map[string]DataTypeSet) {
	for composite, types := range selection {
		c := composite
		if types.has(DataTypeStructuredLogs) {
			r.logs.Clear(&c)
		}
		if types.has(DataTypeTraces) {
			r.traces.Clear(&c)
		}
		if types.has(DataTypeMetrics) {
			r.metrics.Clear(&c)
		}
		if types.has(DataTypeResource) && types.has(DataTypeStructuredLogs) && types.has(DataTypeTraces) && types.has(DataTypeMetrics) {
			r.registry.Remove(c)
		}
	}
	r.subscriptions.NotifyNewApplications()
}

func compositeOrNil(key *ResourceKey) *string {
	if key == nil {
		return nil
	}
	c := key.Composite()
	return &c
}

// OnNewApplications subscribes to resource registry changes.
func (r *Repository) OnNewApplications(ctx context.Context, name string, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	return r.subscriptions.OnNewApplications(name, minInterval, capture(ctx, cb))
}

// OnNewLogs subscribes to newly ingested logs for resourceKey (nil selects all resources).
func (r *Repository) OnNewLogs(ctx context.Context, name string, resourceKey *ResourceKey, subType SubscriptionType, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	return r.subscriptions.OnNewLogs(name, resourceKey, subType, minInterval, capture(ctx, cb))
}

// OnNewTraces subscribes to newly ingested spans for resourceKey (nil selects all resources).
func (r *Repository) OnNewTraces(ctx context.Context, name string, resourceKey *ResourceKey, subType SubscriptionType, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	return r.subscriptions.OnNewTraces(name, resourceKey, subType, minInterval, capture(ctx, cb))
}

// OnNewMetrics subscribes to newly ingested metrics for resourceKey (nil selects all resources).
func (r *Repository) OnNewMetrics(ctx context.Context, name string, resourceKey *ResourceKey, subType SubscriptionType, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	return r.subscriptions.OnNewMetrics(name, resourceKey, subType, minInterval, capture(ctx, cb))
}

// capture snapshots the caller's ambient context at subscribe time so the callback later
// runs under it rather than whichever goroutine happens to be ingesting data.
func capture(ctx context.Context, cb func(context.Context)) func(context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	captured := ctx
	return func(runCtx context.Context) {
		// runCtx carries the subscription's own cancellation; captured carries the
		// caller's ambient values. Merge by running the callback with captured values
		// but honoring runCtx's cancellation.
		cb(contextWithCancelSource(captured, runCtx))
	}
}
