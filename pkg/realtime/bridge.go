package realtime

import (
	"context"
	"time"

	"brokle-telemetry/internal/telemetry"
)

const (
	ChannelApplications = "applications"
	ChannelLogs         = "logs"
	ChannelTraces       = "traces"
	ChannelMetrics      = "metrics"
)

// Bridge wires a telemetry Repository's Subscription Engine to a Broadcaster, turning
// each OnNew* callback into a Broadcast call on the matching named channel so dashboard
// WebSocket subscribers see the same fan-out the in-process engine already computed.
type Bridge struct {
	repo        *telemetry.Repository
	broadcaster *Broadcaster
	minInterval time.Duration

	handles []*telemetry.SubscriptionHandle
}

// NewBridge creates the four channels (idempotently ignoring "already exists") and
// starts forwarding. Call Close to dispose the underlying repository subscriptions.
func NewBridge(repo *telemetry.Repository, broadcaster *Broadcaster, minInterval time.Duration) *Bridge {
	b := &Bridge{repo: repo, broadcaster: broadcaster, minInterval: minInterval}

	for _, name := range []string{ChannelApplications, ChannelLogs, ChannelTraces, ChannelMetrics} {
		_, _ = broadcaster.CreateChannel(name, "telemetry "+name, false, false)
	}

	ctx := context.Background()
	b.handles = append(b.handles,
		repo.OnNewApplications(ctx, "realtime-bridge-applications", minInterval, b.onApplications),
		repo.OnNewLogs(ctx, "realtime-bridge-logs", nil, telemetry.SubscriptionOther, minInterval, b.onLogs),
		repo.OnNewTraces(ctx, "realtime-bridge-traces", nil, telemetry.SubscriptionOther, minInterval, b.onTraces),
		repo.OnNewMetrics(ctx, "realtime-bridge-metrics", nil, telemetry.SubscriptionOther, minInterval, b.onMetrics),
	)
	return b
}

func (b *Bridge) onApplications(ctx context.Context) {
	apps := b.repo.GetApplications(true)
	_ = b.broadcaster.Broadcast(ChannelApplications, NewApplicationsChangedEvent(len(apps)))
}

func (b *Bridge) onLogs(ctx context.Context)    { b.forward(ChannelLogs, EventLogsIngested) }
func (b *Bridge) onTraces(ctx context.Context)  { b.forward(ChannelTraces, EventTracesIngested) }
func (b *Bridge) onMetrics(ctx context.Context) { b.forward(ChannelMetrics, EventMetricsIngested) }

// forward emits a broadcast-wide event for a signal channel. The underlying
// subscription (registered for all resources) fired because at least one resource
// changed; the event carries no resource key and a zero failure count.
func (b *Bridge) forward(channel string, eventType EventType) {
	_ = b.broadcaster.Broadcast(channel, NewSignalIngestedEvent(eventType, "", 0))
}

// Close disposes every repository subscription the bridge created.
func (b *Bridge) Close() {
	for _, h := range b.handles {
		h.Dispose()
	}
}
