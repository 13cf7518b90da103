package telemetry

// Limits carries the bounded-growth knobs for the repository (TelemetryLimitOptions).
// A zero value is not valid configuration; use DefaultLimits or construct explicitly.
type Limits struct {
	// MaxLogCount bounds the global log ring buffer.
	MaxLogCount int
	// MaxTraceCount bounds the number of concurrently retained traces.
	MaxTraceCount int
	// MaxMetricsCount bounds the number of data points retained per dimension.
	MaxMetricsCount int
	// MaxAttributeCount bounds the number of attributes kept per record.
	MaxAttributeCount int
	// MaxAttributeLength bounds each attribute value's length in UTF-16 code units.
	// Zero means unlimited.
	MaxAttributeLength int
	// MaxSpanEventCount bounds the number of events retained per span.
	MaxSpanEventCount int
}

// DefaultLimits returns the suggested defaults from the configuration surface.
func DefaultLimits() Limits {
	return Limits{
		MaxLogCount:        10000,
		MaxTraceCount:      10000,
		MaxMetricsCount:    30000,
		MaxAttributeCount:  128,
		MaxAttributeLength: 0,
		MaxSpanEventCount:  128,
	}
}
