package telemetry

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SpanKind mirrors tracepb.Span_SpanKind, narrowed to the repository's own enum so the
// domain layer never leaks proto types past the conversion boundary.
type SpanKind int32

const (
	SpanKindUnspecified SpanKind = iota
	SpanKindInternal
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// SpanStatusCode mirrors tracepb.Status_StatusCode.
type SpanStatusCode int32

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// SpanEvent is a single timed annotation on a span.
type SpanEvent struct {
	Name       string
	Time       time.Time
	Attributes []Attribute
}

// SpanLink is a cross-trace/span pointer declared by a span.
type SpanLink struct {
	TraceID    string
	SpanID     string
	Attributes []Attribute
}

// Backlink is the reverse-index entry for a SpanLink: it records that (SourceTraceID,
// SourceSpanID) points at the span this backlink is attached to.
type Backlink struct {
	SourceTraceID string
	SourceSpanID  string
	Attributes    []Attribute
}

// Span is a single timed operation within a trace.
type Span struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	Kind          SpanKind
	Status        SpanStatusCode
	StatusMessage string
	StartTime     time.Time
	EndTime       time.Time
	Name          string
	Scope         Scope
	Attributes    []Attribute
	Events        []SpanEvent
	Links         []SpanLink
	View          *ResourceView
	PeerResource  *Resource

	insertionSeq uint64
}

// Clone returns a deep copy of the span safe for a caller to mutate.
func (sp *Span) Clone() *Span {
	cp := *sp
	cp.Attributes = append([]Attribute(nil), sp.Attributes...)
	cp.Events = make([]SpanEvent, len(sp.Events))
	for i, e := range sp.Events {
		cp.Events[i] = SpanEvent{Name: e.Name, Time: e.Time, Attributes: append([]Attribute(nil), e.Attributes...)}
	}
	cp.Links = make([]SpanLink, len(sp.Links))
	for i, l := range sp.Links {
		cp.Links[i] = SpanLink{TraceID: l.TraceID, SpanID: l.SpanID, Attributes: append([]Attribute(nil), l.Attributes...)}
	}
	return &cp
}

// Trace is the set of spans sharing a traceId, plus derived firstSpan/rootSpan state.
type Trace struct {
	TraceID   string
	Spans     []*Span
	FirstSpan *Span
	RootSpan  *Span
	Scope     Scope
	FullName  string
}

// Clone returns a deep copy of the trace and all its spans.
func (t *Trace) Clone() *Trace {
	cp := &Trace{TraceID: t.TraceID, Scope: t.Scope, FullName: t.FullName}
	cp.Spans = make([]*Span, len(t.Spans))
	var firstIdx, rootIdx = -1, -1
	for i, sp := range t.Spans {
		cp.Spans[i] = sp.Clone()
		if t.FirstSpan == sp {
			firstIdx = i
		}
		if t.RootSpan == sp {
			rootIdx = i
		}
	}
	if firstIdx >= 0 {
		cp.FirstSpan = cp.Spans[firstIdx]
	}
	if rootIdx >= 0 {
		cp.RootSpan = cp.Spans[rootIdx]
	}
	return cp
}

// TracesQuery is the input to GetTraces.
type TracesQuery struct {
	ResourceKey *ResourceKey
	FilterText  string
	Filters     []Filter
	StartIndex  int
	Count       int
}

// TracesResult is the output of GetTraces.
type TracesResult struct {
	Items          []*Trace
	TotalItemCount int
}

type traceBucket struct {
	trace    *Trace
	spanByID map[string]*Span
}

// TraceStore assembles spans arriving in any order into traces, bounded by MaxTraceCount,
// rejecting cycles and duplicates, and maintaining a backlink index.
type TraceStore struct {
	mu     sync.RWMutex
	traces map[string]*traceBucket // traceID -> bucket
	order  []string                // insertion order of trace ids, for stable iteration
	// backlinks indexed by "<traceId>/<spanId>" -> incoming links
	backlinks     map[string][]*Backlink
	backlinkCount int

	seq    uint64
	limits Limits
	logger *slog.Logger

	peerResolver PeerResolver
}

// NewTraceStore builds an empty trace store.
func NewTraceStore(limits Limits, logger *slog.Logger) *TraceStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceStore{
		traces:    make(map[string]*traceBucket),
		backlinks: make(map[string][]*Backlink),
		limits:    limits,
		logger:    logger,
	}
}

// SetPeerResolver installs the outgoing peer resolver and subscribes to its change
// notifications to re-resolve client-kind spans already stored.
func (s *TraceStore) SetPeerResolver(resolver PeerResolver) {
	s.mu.Lock()
	s.peerResolver = resolver
	s.mu.Unlock()
	if resolver != nil {
		resolver.OnChange(func() { s.reresolvePeers() })
	}
}

// InsertResult reports the outcome of inserting one span.
type InsertResult struct {
	Rejected bool
	Reason   string
}

// Insert adds one span to its trace in (startTime, insertionOrder) position, creating the
// trace on first observation. It rejects self-parent and multi-hop cycles and duplicate
// (traceId, spanId) pairs, recomputes firstSpan/rootSpan, registers link backlinks, and
// resolves an uninstrumented peer for client-kind spans.
func (s *TraceStore) Insert(span *Span) InsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if span.ParentSpanID != "" && span.ParentSpanID == span.SpanID {
		s.logger.Debug("circular loop detected: self-parent span", "traceId", span.TraceID, "spanId", span.SpanID)
		return InsertResult{Rejected: true, Reason: "self-parent"}
	}

	bucket := s.traces[span.TraceID]
	if bucket == nil {
		bucket = &traceBucket{
			trace:    &Trace{TraceID: span.TraceID},
			spanByID: make(map[string]*Span),
		}
	} else if _, dup := bucket.spanByID[span.SpanID]; dup {
		s.logger.Debug("duplicate span rejected", "traceId", span.TraceID, "spanId", span.SpanID)
		return InsertResult{Rejected: true, Reason: "duplicate"}
	}

	if span.ParentSpanID != "" && s.wouldCreateCycle(bucket, span) {
		s.logger.Debug("circular loop detected: multi-span cycle", "traceId", span.TraceID, "spanId", span.SpanID)
		return InsertResult{Rejected: true, Reason: "cycle"}
	}

	s.seq++
	span.insertionSeq = s.seq

	if span.Kind == SpanKindClient && s.peerResolver != nil {
		if name, ok := s.peerResolver.Resolve(span.Attributes); ok {
			span.PeerResource = s.peerResolver.ResourceRegistry().ResolvePeer(name)
		}
	}

	isNewTrace := s.traces[span.TraceID] == nil
	bucket.spanByID[span.SpanID] = span

	idx := sort.Search(len(bucket.trace.Spans), func(i int) bool {
		sp := bucket.trace.Spans[i]
		return sp.StartTime.After(span.StartTime) ||
			(sp.StartTime.Equal(span.StartTime) && sp.insertionSeq > span.insertionSeq)
	})
	bucket.trace.Spans = append(bucket.trace.Spans, nil)
	copy(bucket.trace.Spans[idx+1:], bucket.trace.Spans[idx:])
	bucket.trace.Spans[idx] = span
	s.recomputeFirstAndRoot(bucket.trace)

	if isNewTrace {
		s.traces[span.TraceID] = bucket
		s.order = append(s.order, span.TraceID)
		s.evictIfNeeded()
	}

	for _, link := range span.Links {
		key := link.TraceID + "/" + link.SpanID
		s.backlinks[key] = append(s.backlinks[key], &Backlink{
			SourceTraceID: span.TraceID,
			SourceSpanID:  span.SpanID,
			Attributes:    link.Attributes,
		})
		s.backlinkCount++
	}
	s.evictBacklinksIfNeeded()

	return InsertResult{}
}

// wouldCreateCycle walks the ancestor chain starting at span's parent; if it returns to
// span's own id, inserting span would close a cycle.
func (s *TraceStore) wouldCreateCycle(bucket *traceBucket, span *Span) bool {
	visited := map[string]struct{}{span.SpanID: {}}
	cur := span.ParentSpanID
	for steps := 0; cur != "" && steps <= len(bucket.spanByID)+1; steps++ {
		if _, ok := visited[cur]; ok {
			return true
		}
		visited[cur] = struct{}{}
		parent, ok := bucket.spanByID[cur]
		if !ok {
			return false
		}
		cur = parent.ParentSpanID
	}
	return false
}

func (s *TraceStore) recomputeFirstAndRoot(t *Trace) {
	var first, root *Span
	for _, sp := range t.Spans {
		if first == nil || sp.StartTime.Before(first.StartTime) ||
			(sp.StartTime.Equal(first.StartTime) && sp.insertionSeq < first.insertionSeq) {
			first = sp
		}
		if sp.ParentSpanID == "" {
			if root == nil || sp.StartTime.Before(root.StartTime) ||
				(sp.StartTime.Equal(root.StartTime) && sp.insertionSeq < root.insertionSeq) {
				root = sp
			}
		}
	}
	t.FirstSpan = first
	t.RootSpan = root
	if first != nil {
		t.Scope = first.Scope
		resName := ""
		if first.View != nil && first.View.Resource != nil {
			resName = first.View.Resource.Key.Name
		}
		t.FullName = fmt.Sprintf("%s: %s. Id: %s", resName, first.Name, first.SpanID)
	}
}

func (s *TraceStore) evictIfNeeded() {
	for len(s.traces) > s.limits.MaxTraceCount && len(s.order) > 0 {
		oldestIdx := 0
		var oldestTime time.Time
		found := false
		for i, id := range s.order {
			b, ok := s.traces[id]
			if !ok || b.trace.FirstSpan == nil {
				continue
			}
			if !found || b.trace.FirstSpan.StartTime.Before(oldestTime) {
				oldestTime = b.trace.FirstSpan.StartTime
				oldestIdx = i
				found = true
			}
		}
		if !found {
			oldestIdx = 0
		}
		id := s.order[oldestIdx]
		s.order = append(s.order[:oldestIdx], s.order[oldestIdx+1:]...)
		s.removeTraceLocked(id)
	}
}

func (s *TraceStore) removeTraceLocked(traceID string) {
	bucket, ok := s.traces[traceID]
	if !ok {
		return
	}
	delete(s.traces, traceID)
	for spanID := range bucket.spanByID {
		key := traceID + "/" + spanID
		if links, ok := s.backlinks[key]; ok {
			s.backlinkCount -= len(links)
			delete(s.backlinks, key)
		}
	}
}

func (s *TraceStore) evictBacklinksIfNeeded() {
	for s.backlinkCount > s.limits.MaxTraceCount {
		removed := false
		for key, links := range s.backlinks {
			if len(links) == 0 {
				delete(s.backlinks, key)
				continue
			}
			s.backlinks[key] = links[1:]
			s.backlinkCount--
			removed = true
			break
		}
		if !removed {
			break
		}
	}
}

// GetBacklinks returns the backlinks registered against (traceId, spanId).
func (s *TraceStore) GetBacklinks(traceID, spanID string) []*Backlink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links := s.backlinks[traceID+"/"+spanID]
	out := make([]*Backlink, len(links))
	copy(out, links)
	return out
}

// GetTrace returns a deep copy of a single trace by id, or nil if absent.
func (s *TraceStore) GetTrace(traceID string) *Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.traces[traceID]
	if !ok {
		return nil
	}
	return bucket.trace.Clone()
}

// GetTraces applies resource/filter/free-text selection, orders by firstSpan.StartTime,
// pages, and returns deep copies.
func (s *TraceStore) GetTraces(q TracesQuery) TracesResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*Trace, 0, len(s.traces))
	for _, id := range s.order {
		bucket, ok := s.traces[id]
		if !ok {
			continue
		}
		t := bucket.trace
		if t.FirstSpan == nil {
			continue
		}
		if q.ResourceKey != nil && !traceMatchesResource(t, *q.ResourceKey) {
			continue
		}
		if !traceMatchesFilters(t, q.Filters) {
			continue
		}
		if q.FilterText != "" && !traceMatchesFreeText(t, q.FilterText) {
			continue
		}
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].FirstSpan.StartTime.Before(matched[j].FirstSpan.StartTime)
	})

	total := len(matched)
	start := q.StartIndex
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if q.Count > 0 && start+q.Count < end {
		end = start + q.Count
	}

	items := make([]*Trace, 0, end-start)
	for _, t := range matched[start:end] {
		items = append(items, t.Clone())
	}
	return TracesResult{Items: items, TotalItemCount: total}
}

func traceMatchesResource(t *Trace, key ResourceKey) bool {
	for _, sp := range t.Spans {
		if resourceKeyMatchesView(key, sp.View) {
			return true
		}
	}
	return false
}

func traceMatchesFreeText(t *Trace, text string) bool {
	for _, sp := range t.Spans {
		if strings.Contains(sp.Name, text) {
			return true
		}
		for _, a := range sp.Attributes {
			if strings.Contains(a.Value, text) {
				return true
			}
		}
	}
	return false
}

func traceMatchesFilters(t *Trace, filters []Filter) bool {
	for _, f := range filters {
		matched := false
		for _, sp := range t.Spans {
			if spanMatchesFilter(sp, f) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func spanMatchesFilter(sp *Span, f Filter) bool {
	switch f.Field {
	case "TraceId":
		return matchValue(f.Condition, sp.TraceID, f.Value)
	case "SpanId":
		return matchValue(f.Condition, sp.SpanID, f.Value)
	case "Status":
		return matchValue(f.Condition, strconv.Itoa(int(sp.Status)), f.Value)
	case "Kind":
		return matchValue(f.Condition, strconv.Itoa(int(sp.Kind)), f.Value)
	case "Resource", "service.name":
		name := ""
		if sp.View != nil && sp.View.Resource != nil {
			name = sp.View.Resource.Key.Name
		}
		return matchValue(f.Condition, name, f.Value)
	case "Scope", "Scope/name":
		return matchValue(f.Condition, sp.Scope.Name, f.Value)
	default:
		val, ok := AttributeValue(sp.Attributes, f.Field)
		if !ok {
			return f.Condition == FilterNotEqual
		}
		return matchValue(f.Condition, val, f.Value)
	}
}

// GetTracePropertyKeys returns the sorted union of attribute keys observed on spans
// matching the given resource selection (nil selects all).
func (s *TraceStore) GetTracePropertyKeys(key *ResourceKey) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, bucket := range s.traces {
		for _, sp := range bucket.trace.Spans {
			if key != nil && !resourceKeyMatchesView(*key, sp.View) {
				continue
			}
			for _, a := range sp.Attributes {
				seen[a.Key] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clear removes spans belonging to the selection (nil clears all); traces left without
// spans are removed entirely, and their backlinks are pruned.
func (s *TraceStore) Clear(composite *string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if composite == nil {
		s.traces = make(map[string]*traceBucket)
		s.order = nil
		s.backlinks = make(map[string][]*Backlink)
		s.backlinkCount = 0
		return
	}
	lc := strings.ToLower(*composite)
	var remainingOrder []string
	for _, id := range s.order {
		bucket, ok := s.traces[id]
		if !ok {
			continue
		}
		var keptSpans []*Span
		for _, sp := range bucket.trace.Spans {
			if matchesComposite(sp.View, lc) {
				delete(bucket.spanByID, sp.SpanID)
				key := id + "/" + sp.SpanID
				if links, ok := s.backlinks[key]; ok {
					s.backlinkCount -= len(links)
					delete(s.backlinks, key)
				}
				continue
			}
			keptSpans = append(keptSpans, sp)
		}
		bucket.trace.Spans = keptSpans
		if len(keptSpans) == 0 {
			delete(s.traces, id)
			continue
		}
		s.recomputeFirstAndRoot(bucket.trace)
		remainingOrder = append(remainingOrder, id)
	}
	s.order = remainingOrder
}

func (s *TraceStore) reresolvePeers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerResolver == nil {
		return
	}
	for _, bucket := range s.traces {
		for _, sp := range bucket.trace.Spans {
			if sp.Kind != SpanKindClient || sp.PeerResource != nil {
				continue
			}
			if name, ok := s.peerResolver.Resolve(sp.Attributes); ok {
				sp.PeerResource = s.peerResolver.ResourceRegistry().ResolvePeer(name)
			}
		}
	}
}
