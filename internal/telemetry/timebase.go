package telemetry

// UnixNanoToTicks converts a unix-nanosecond timestamp to 100ns ticks, matching the
// original implementation's tick-based timebase. Stored and queried times use
// unix-nanoseconds / time.Time directly; these helpers exist only for round-trip parity
// with callers that still speak in ticks.
func UnixNanoToTicks(nanos int64) int64 {
	return nanos / 100
}

// TicksToUnixNano converts 100ns ticks back to unix-nanoseconds.
func TicksToUnixNano(ticks int64) int64 {
	return ticks * 100
}
