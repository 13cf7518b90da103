package telemetry

import (
	"context"
	"time"
)

// capturedContext lets a subscriber's callback see the ambient values captured at
// subscribe time while still observing the subscription's own cancellation signal
// (fired on disposal; Repository.Stop does not cancel it), matching the "captured execution context"
// contract: subscribers run under their subscribe-time environment, not the ingest
// goroutine's.
type capturedContext struct {
	values context.Context
	cancel context.Context
}

func contextWithCancelSource(values, cancel context.Context) context.Context {
	return capturedContext{values: values, cancel: cancel}
}

func (c capturedContext) Deadline() (time.Time, bool) { return c.cancel.Deadline() }
func (c capturedContext) Done() <-chan struct{}       { return c.cancel.Done() }
func (c capturedContext) Err() error                  { return c.cancel.Err() }
func (c capturedContext) Value(key any) any           { return c.values.Value(key) }
