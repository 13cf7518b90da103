package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"brokle-telemetry/pkg/ulid"
)

// SubscriptionType distinguishes a "Read" consumer (actively viewing, so its coverage
// auto-views incoming error logs) from any "Other" subscriber.
type SubscriptionType int

const (
	SubscriptionRead SubscriptionType = iota
	SubscriptionOther
)

// SubscriptionHandle is returned by every OnNew* call; disposing it removes the
// subscription. Disposal is idempotent.
type SubscriptionHandle struct {
	sub *subscription
}

// Dispose removes the subscription. Safe to call more than once.
func (h *SubscriptionHandle) Dispose() {
	h.sub.dispose()
}

type subscription struct {
	id          string
	name        string
	resourceKey *ResourceKey
	subType     SubscriptionType
	callback    func(context.Context)
	ctx         context.Context
	cancel      context.CancelFunc
	minInterval time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	lastFire time.Time
	fired    bool
	pending  bool

	disposeOnce sync.Once
	disposed    atomic.Bool

	trigger chan struct{}
}

func newSubscription(parentCtx context.Context, name string, resourceKey *ResourceKey, subType SubscriptionType, minInterval time.Duration, cb func(context.Context), logger *slog.Logger) *subscription {
	ctx, cancel := context.WithCancel(parentCtx)
	s := &subscription{
		id:          ulid.New().String(),
		name:        name,
		resourceKey: resourceKey,
		subType:     subType,
		callback:    cb,
		ctx:         ctx,
		cancel:      cancel,
		minInterval: minInterval,
		logger:      logger,
		trigger:     make(chan struct{}, 1),
	}
	go s.worker()
	return s
}

func (s *subscription) worker() {
	for range s.trigger {
		s.runCallback()
	}
}

func (s *subscription) runCallback() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("subscriber callback panicked", "name", s.name, "panic", r)
		}
	}()
	s.callback(s.ctx)
}

// fire schedules (or immediately runs) one callback invocation, honoring the
// minExecuteInterval coalescing contract: concurrent fires during the quiet period
// collapse to a single trailing invocation.
func (s *subscription) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed.Load() {
		s.logger.Debug(fmt.Sprintf("Callback '%s' has been disposed.", s.name))
		return
	}

	now := time.Now()
	if !s.fired || s.minInterval <= 0 || now.Sub(s.lastFire) >= s.minInterval {
		s.fired = true
		s.lastFire = now
		s.enqueue()
		return
	}
	if s.pending {
		return
	}
	s.pending = true
	wait := s.minInterval - now.Sub(s.lastFire)
	s.timer = time.AfterFunc(wait, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pending = false
		if s.disposed.Load() {
			s.logger.Debug(fmt.Sprintf("Callback '%s' has been disposed.", s.name))
			return
		}
		s.lastFire = time.Now()
		s.enqueue()
	})
}

func (s *subscription) enqueue() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *subscription) dispose() {
	s.disposeOnce.Do(func() {
		s.disposed.Store(true)
		s.cancel()
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		close(s.trigger)
	})
}

func (s *subscription) covers(key ResourceKey) bool {
	if s.resourceKey == nil {
		return true
	}
	instanceID := ""
	if key.InstanceID != nil {
		instanceID = *key.InstanceID
	}
	return s.resourceKey.Matches(key.Name, instanceID)
}

// SubscriptionEngine maintains the four named channels of live subscribers (new
// applications/logs/traces/metrics), resource-scoped filtering, and per-subscription
// coalescing.
type SubscriptionEngine struct {
	mu         sync.RWMutex
	appSubs    map[string]*subscription
	logSubs    map[string]*subscription
	traceSubs  map[string]*subscription
	metricSubs map[string]*subscription
	logger     *slog.Logger
}

// NewSubscriptionEngine builds an empty engine.
func NewSubscriptionEngine(logger *slog.Logger) *SubscriptionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionEngine{
		appSubs:    make(map[string]*subscription),
		logSubs:    make(map[string]*subscription),
		traceSubs:  make(map[string]*subscription),
		metricSubs: make(map[string]*subscription),
		logger:     logger,
	}
}

// OnNewApplications subscribes to resource registry changes (new or updated resources).
func (e *SubscriptionEngine) OnNewApplications(name string, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	return e.add(e.appSubs, name, nil, SubscriptionOther, minInterval, cb)
}

// OnNewLogs subscribes to newly ingested logs for resourceKey (nil = all resources).
func (e *SubscriptionEngine) OnNewLogs(name string, resourceKey *ResourceKey, subType SubscriptionType, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	return e.add(e.logSubs, name, resourceKey, subType, minInterval, cb)
}

// OnNewTraces subscribes to newly ingested spans for resourceKey (nil = all resources).
func (e *SubscriptionEngine) OnNewTraces(name string, resourceKey *ResourceKey, subType SubscriptionType, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	return e.add(e.traceSubs, name, resourceKey, subType, minInterval, cb)
}

// OnNewMetrics subscribes to newly ingested metrics for resourceKey (nil = all resources).
func (e *SubscriptionEngine) OnNewMetrics(name string, resourceKey *ResourceKey, subType SubscriptionType, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	return e.add(e.metricSubs, name, resourceKey, subType, minInterval, cb)
}

func (e *SubscriptionEngine) add(set map[string]*subscription, name string, resourceKey *ResourceKey, subType SubscriptionType, minInterval time.Duration, cb func(context.Context)) *SubscriptionHandle {
	sub := newSubscription(context.Background(), name, resourceKey, subType, minInterval, cb, e.logger)
	e.mu.Lock()
	set[sub.id] = sub
	e.mu.Unlock()

	// Disposal cancels sub.ctx; forget the subscription from the engine's bookkeeping
	// once that happens so disposed subscriptions stop being considered for firing.
	go func() {
		<-sub.ctx.Done()
		e.mu.Lock()
		delete(set, sub.id)
		e.mu.Unlock()
	}()
	return &SubscriptionHandle{sub: sub}
}

func (e *SubscriptionEngine) notify(set map[string]*subscription, key ResourceKey) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, sub := range set {
		if sub.covers(key) {
			sub.fire()
		}
	}
}

// NotifyNewApplications fires all application subscribers.
func (e *SubscriptionEngine) NotifyNewApplications() {
	e.mu.RLock()
	subs := make([]*subscription, 0, len(e.appSubs))
	for _, s := range e.appSubs {
		subs = append(subs, s)
	}
	e.mu.RUnlock()
	for _, s := range subs {
		s.fire()
	}
}

// NotifyNewLogs fires log subscribers covering key.
func (e *SubscriptionEngine) NotifyNewLogs(key ResourceKey) { e.notify(e.logSubs, key) }

// NotifyNewTraces fires trace subscribers covering key.
func (e *SubscriptionEngine) NotifyNewTraces(key ResourceKey) { e.notify(e.traceSubs, key) }

// NotifyNewMetrics fires metric subscribers covering key.
func (e *SubscriptionEngine) NotifyNewMetrics(key ResourceKey) { e.notify(e.metricSubs, key) }

// IsReadCoveringResource reports whether an active Read-type log subscription currently
// covers key, used by LogStore to auto-view newly arriving error logs.
func (e *SubscriptionEngine) IsReadCoveringResource(key ResourceKey) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, sub := range e.logSubs {
		if sub.subType == SubscriptionRead && sub.covers(key) {
			return true
		}
	}
	return false
}
