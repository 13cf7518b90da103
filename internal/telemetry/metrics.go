package telemetry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricKind is the closed set of OTLP instrument shapes the store understands.
type MetricKind int

const (
	MetricKindSum MetricKind = iota
	MetricKindGauge
	MetricKindHistogram
)

// DataPoint is one stored measurement. Exactly the fields relevant to the instrument's
// Kind are populated.
type DataPoint struct {
	Start time.Time
	End   time.Time

	// Sum/Gauge
	IsInt    bool
	IntValue int64
	Value    float64

	// Histogram
	Count          uint64
	Sum            float64
	ExplicitBounds []float64
	BucketCounts   []uint64
	HasMin         bool
	Min            float64
	HasMax         bool
	Max            float64
}

// DimensionScope is one distinct attribute tuple under an Instrument, holding a bounded
// ring buffer of data points.
type DimensionScope struct {
	Attributes []Attribute
	Values     []DataPoint
}

// Instrument is a named metric within a meter.
type Instrument struct {
	Meter       string
	Name        string
	Description string
	Unit        string
	Kind        MetricKind

	knownAttributeValues map[string]map[string]struct{}
	dimensions           map[string]*DimensionScope
}

// KnownAttributeValues returns, for each attribute key ever observed on this instrument's
// dimensions, the sorted set of distinct values seen (including "" when a point lacked the
// key while a sibling point had it).
func (in *Instrument) KnownAttributeValues() map[string][]string {
	out := make(map[string][]string, len(in.knownAttributeValues))
	for k, set := range in.knownAttributeValues {
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		out[k] = vals
	}
	return out
}

// InstrumentsQuery selects the time window returned by GetInstrument.
type InstrumentsQuery struct {
	StartTime time.Time
	EndTime   time.Time
}

// MetricStore holds, per resource, a meterName -> instrumentName -> Instrument tree.
type MetricStore struct {
	mu         sync.RWMutex
	byResource map[string]map[string]map[string]*Instrument // resource composite(lower) -> meter -> instrument

	limits Limits
	logger *slog.Logger
}

// NewMetricStore builds an empty metric store.
func NewMetricStore(limits Limits, logger *slog.Logger) *MetricStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricStore{
		byResource: make(map[string]map[string]map[string]*Instrument),
		limits:     limits,
		logger:     logger,
	}
}

// Insert records one data point for (composite, meter, instrument), creating the
// Instrument/DimensionScope on first observation and evicting the oldest point in the
// dimension's ring buffer on overflow.
func (s *MetricStore) Insert(composite, meter, name, description, unit string, kind MetricKind, dimAttrs []Attribute, point DataPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lc := strings.ToLower(composite)
	meters := s.byResource[lc]
	if meters == nil {
		meters = make(map[string]map[string]*Instrument)
		s.byResource[lc] = meters
	}
	instruments := meters[meter]
	if instruments == nil {
		instruments = make(map[string]*Instrument)
		meters[meter] = instruments
	}
	inst := instruments[name]
	if inst == nil {
		inst = &Instrument{
			Meter:                meter,
			Name:                 name,
			Description:          description,
			Unit:                 unit,
			Kind:                 kind,
			knownAttributeValues: make(map[string]map[string]struct{}),
			dimensions:           make(map[string]*DimensionScope),
		}
		instruments[name] = inst
	} else if inst.Description == "" && description != "" {
		inst.Description = description
	}

	present := make(map[string]struct{}, len(dimAttrs))
	for _, a := range dimAttrs {
		present[a.Key] = struct{}{}
		set := inst.knownAttributeValues[a.Key]
		if set == nil {
			set = make(map[string]struct{})
			if len(inst.dimensions) > 0 {
				set[""] = struct{}{}
			}
			inst.knownAttributeValues[a.Key] = set
		}
		set[a.Value] = struct{}{}
	}
	for k, set := range inst.knownAttributeValues {
		if _, ok := present[k]; !ok {
			set[""] = struct{}{}
		}
	}

	dimKey := normalizedAttributeSignature(dimAttrs)
	dim := inst.dimensions[dimKey]
	if dim == nil {
		dim = &DimensionScope{Attributes: dimAttrs}
		inst.dimensions[dimKey] = dim
	}
	dim.Values = append(dim.Values, point)
	if len(dim.Values) > s.limits.MaxMetricsCount {
		dim.Values = dim.Values[len(dim.Values)-s.limits.MaxMetricsCount:]
	}
}

// GetInstrument returns a deep copy of one instrument with its dimensions' points
// filtered to [StartTime, EndTime].
func (s *MetricStore) GetInstrument(composite, meter, name string, q InstrumentsQuery) *Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meters := s.byResource[strings.ToLower(composite)]
	if meters == nil {
		return nil
	}
	instruments := meters[meter]
	if instruments == nil {
		return nil
	}
	src := instruments[name]
	if src == nil {
		return nil
	}

	out := &Instrument{
		Meter: src.Meter, Name: src.Name, Description: src.Description, Unit: src.Unit, Kind: src.Kind,
		knownAttributeValues: cloneKnownAttributeValues(src.knownAttributeValues),
		dimensions:           make(map[string]*DimensionScope),
	}
	for k, dim := range src.dimensions {
		var pts []DataPoint
		for _, p := range dim.Values {
			if !q.StartTime.IsZero() && p.End.Before(q.StartTime) {
				continue
			}
			if !q.EndTime.IsZero() && p.Start.After(q.EndTime) {
				continue
			}
			pts = append(pts, p)
		}
		if pts == nil {
			continue
		}
		out.dimensions[k] = &DimensionScope{Attributes: append([]Attribute(nil), dim.Attributes...), Values: pts}
	}
	return out
}

// cloneKnownAttributeValues is an internal clone helper (kept distinct from the exported
// KnownAttributeValues which flattens to sorted slices).
func cloneKnownAttributeValues(src map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(src))
	for k, set := range src {
		cp := make(map[string]struct{}, len(set))
		for v := range set {
			cp[v] = struct{}{}
		}
		out[k] = cp
	}
	return out
}

// Dimensions returns the instrument's dimension scopes, keyed by signature.
func (in *Instrument) Dimensions() map[string]*DimensionScope {
	return in.dimensions
}

// GetInstrumentsSummaries returns metadata-only instruments (no data points) for a
// resource, across all meters.
func (s *MetricStore) GetInstrumentsSummaries(composite string) []*Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meters := s.byResource[strings.ToLower(composite)]
	var out []*Instrument
	for _, instruments := range meters {
		for _, inst := range instruments {
			out = append(out, &Instrument{
				Meter: inst.Meter, Name: inst.Name, Description: inst.Description,
				Unit: inst.Unit, Kind: inst.Kind,
				knownAttributeValues: cloneKnownAttributeValues(inst.knownAttributeValues),
				dimensions:           make(map[string]*DimensionScope),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Meter != out[j].Meter {
			return out[i].Meter < out[j].Meter
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// GetMetricPropertyKeys returns the sorted union of known attribute keys across every
// instrument observed for a resource (supplemented feature: a property catalog for
// metrics analogous to the log/trace ones).
func (s *MetricStore) GetMetricPropertyKeys(composite string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meters := s.byResource[strings.ToLower(composite)]
	seen := make(map[string]struct{})
	for _, instruments := range meters {
		for _, inst := range instruments {
			for k := range inst.knownAttributeValues {
				seen[k] = struct{}{}
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

// Clear removes all metric state for a resource (nil clears everything).
func (s *MetricStore) Clear(composite *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if composite == nil {
		s.byResource = make(map[string]map[string]map[string]*Instrument)
		return
	}
	delete(s.byResource, strings.ToLower(*composite))
}
