package telemetry

import "sync/atomic"

// PauseManager holds the three process-wide ingest pause flags. While a flag is set, the
// corresponding Add* call at the facade silently drops its payload: failure count stays
// zero and no subscriber fires. Resuming does not replay dropped data.
type PauseManager struct {
	logsPaused    atomic.Bool
	tracesPaused  atomic.Bool
	metricsPaused atomic.Bool
}

func (p *PauseManager) SetLogsPaused(v bool)    { p.logsPaused.Store(v) }
func (p *PauseManager) SetTracesPaused(v bool)  { p.tracesPaused.Store(v) }
func (p *PauseManager) SetMetricsPaused(v bool) { p.metricsPaused.Store(v) }

func (p *PauseManager) LogsPaused() bool    { return p.logsPaused.Load() }
func (p *PauseManager) TracesPaused() bool  { return p.tracesPaused.Load() }
func (p *PauseManager) MetricsPaused() bool { return p.metricsPaused.Load() }
