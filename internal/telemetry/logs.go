package telemetry

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
)

// severityErrorThreshold is the SeverityNumber value at which a log is considered an
// "error" for unviewed-error bookkeeping (logspb.SeverityNumber_SEVERITY_NUMBER_ERROR).
const severityErrorThreshold = int32(logspb.SeverityNumber_SEVERITY_NUMBER_ERROR)

// LogEntry is a single stored log record.
type LogEntry struct {
	Timestamp      time.Time
	Severity       int32
	SeverityText   string
	Message        string
	TraceID        string
	SpanID         string
	OriginalFormat string
	Attributes     []Attribute
	Scope          Scope
	View           *ResourceView
	Viewed         bool

	seq uint64
}

// IsError reports whether the entry's severity is Error or above.
func (e *LogEntry) IsError() bool { return e.Severity >= severityErrorThreshold }

// Clone returns a deep copy safe for a caller to mutate.
func (e *LogEntry) Clone() *LogEntry {
	cp := *e
	cp.Attributes = append([]Attribute(nil), e.Attributes...)
	return &cp
}

// FilterCondition is one of the three comparison operators the query layer supports.
type FilterCondition int

const (
	FilterEquals FilterCondition = iota
	FilterNotEqual
	FilterContains
)

// Filter is a single "field op value" clause against a known field or an attribute key.
type Filter struct {
	Field     string
	Condition FilterCondition
	Value     string
}

func matchValue(cond FilterCondition, actual, want string) bool {
	switch cond {
	case FilterEquals:
		return actual == want
	case FilterNotEqual:
		return actual != want
	case FilterContains:
		return strings.Contains(actual, want)
	default:
		return false
	}
}

// LogsQuery is the input to GetLogs.
type LogsQuery struct {
	ResourceKey *ResourceKey
	StartIndex  int
	Count       int
	Filters     []Filter
}

// LogsResult is the output of GetLogs.
type LogsResult struct {
	Items          []*LogEntry
	TotalItemCount int
}

// LogStore is a global, time-ordered, ring-bounded log buffer with per-resource property
// key catalogs and unviewed-error-log counters.
type LogStore struct {
	mu      sync.RWMutex
	entries []*LogEntry
	seq     uint64

	propertyKeys map[string]map[string]struct{} // resource composite (lower) -> attribute keys
	unviewed     map[string]*int64              // resource composite (lower) -> unviewed error count

	limits Limits
	logger *slog.Logger

	isReadCovering func(ResourceKey) bool
}

// NewLogStore builds an empty log store. isReadCovering reports whether an active
// Read-type log subscription currently covers the given resource, used to auto-view
// newly arriving error logs per the subscription engine's contract.
func NewLogStore(limits Limits, logger *slog.Logger, isReadCovering func(ResourceKey) bool) *LogStore {
	if logger == nil {
		logger = slog.Default()
	}
	if isReadCovering == nil {
		isReadCovering = func(ResourceKey) bool { return false }
	}
	return &LogStore{
		propertyKeys:   make(map[string]map[string]struct{}),
		unviewed:       make(map[string]*int64),
		limits:         limits,
		logger:         logger,
		isReadCovering: isReadCovering,
	}
}

// Insert adds one log entry, preserving non-decreasing timestamp order, evicting the
// oldest entry if the store is at capacity. Returns true if the entry counts as an
// unviewed error.
func (s *LogStore) Insert(entry *LogEntry, composite string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry.seq = s.seq

	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp.After(entry.Timestamp)
	})
	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry

	if len(s.entries) > s.limits.MaxLogCount {
		s.entries = s.entries[1:]
	}

	lc := strings.ToLower(composite)
	keys := s.propertyKeys[lc]
	if keys == nil {
		keys = make(map[string]struct{})
		s.propertyKeys[lc] = keys
	}
	for _, a := range entry.Attributes {
		keys[a.Key] = struct{}{}
	}

	if !entry.IsError() {
		return false
	}
	if entry.View != nil && entry.View.Resource != nil && s.isReadCovering(entry.View.Resource.Key) {
		entry.Viewed = true
		return false
	}
	counter := s.unviewed[lc]
	if counter == nil {
		var z int64
		counter = &z
		s.unviewed[lc] = counter
	}
	atomic.AddInt64(counter, 1)
	return true
}

// GetLogs returns entries in non-decreasing timestamp order after applying ResourceKey
// selection and all Filters, then paging by StartIndex/Count.
func (s *LogStore) GetLogs(q LogsQuery) LogsResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*LogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if q.ResourceKey != nil && !resourceKeyMatchesView(*q.ResourceKey, e.View) {
			continue
		}
		if !logMatchesFilters(e, q.Filters) {
			continue
		}
		matched = append(matched, e)
	}

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

	items := make([]*LogEntry, 0, end-start)
	for _, e := range matched[start:end] {
		items = append(items, e.Clone())
	}
	return LogsResult{Items: items, TotalItemCount: total}
}

func resourceKeyMatchesView(key ResourceKey, view *ResourceView) bool {
	if view == nil || view.Resource == nil {
		return false
	}
	instanceID := ""
	if view.Resource.Key.InstanceID != nil {
		instanceID = *view.Resource.Key.InstanceID
	}
	return key.Matches(view.Resource.Key.Name, instanceID)
}

func logMatchesFilters(e *LogEntry, filters []Filter) bool {
	for _, f := range filters {
		if !logMatchesFilter(e, f) {
			return false
		}
	}
	return true
}

func logMatchesFilter(e *LogEntry, f Filter) bool {
	switch f.Field {
	case "message":
		return matchValue(f.Condition, e.Message, f.Value)
	case "severity":
		return matchValue(f.Condition, strconv.FormatInt(int64(e.Severity), 10), f.Value)
	case "traceId":
		return matchValue(f.Condition, e.TraceID, f.Value)
	case "spanId":
		return matchValue(f.Condition, e.SpanID, f.Value)
	default:
		val, ok := AttributeValue(e.Attributes, f.Field)
		if !ok {
			return f.Condition == FilterNotEqual
		}
		return matchValue(f.Condition, val, f.Value)
	}
}

// GetPropertyKeys returns the sorted union of attribute keys observed for a resource.
func (s *LogStore) GetPropertyKeys(composite string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.propertyKeys[strings.ToLower(composite)]
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// UnviewedErrorCounts returns a snapshot of the current per-resource unviewed error
// counts, omitting resources with a zero count.
func (s *LogStore) UnviewedErrorCounts() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.unviewed))
	for k, v := range s.unviewed {
		n := atomic.LoadInt64(v)
		if n != 0 {
			out[k] = n
		}
	}
	return out
}

// MarkViewed resets the unviewed error counter(s). A nil composite resets all resources.
func (s *LogStore) MarkViewed(composite *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if composite == nil {
		for _, v := range s.unviewed {
			atomic.StoreInt64(v, 0)
		}
		return
	}
	if v, ok := s.unviewed[strings.ToLower(*composite)]; ok {
		atomic.StoreInt64(v, 0)
	}
}

// Clear removes log entries selected by composite (nil clears all) and their property-key
// and unviewed-count bookkeeping.
func (s *LogStore) Clear(composite *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if composite == nil {
		s.entries = nil
		s.propertyKeys = make(map[string]map[string]struct{})
		s.unviewed = make(map[string]*int64)
		return
	}
	lc := strings.ToLower(*composite)
	filtered := s.entries[:0:0]
	for _, e := range s.entries {
		if matchesComposite(e.View, lc) {
			continue
		}
		filtered = append(filtered, e)
	}
	s.entries = filtered
	delete(s.propertyKeys, lc)
	delete(s.unviewed, lc)
}

func matchesComposite(view *ResourceView, lc string) bool {
	if view == nil || view.Resource == nil {
		return false
	}
	return strings.ToLower(view.Resource.Key.Composite()) == lc
}
