package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/twinelabs/twine"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Publish metrics
	MessagesPublishedTotal metric.Int64Counter
	PublishErrorsTotal     metric.Int64Counter
	BroadcastErrorsTotal   metric.Int64Counter

	// Connection metrics
	ActiveConnections  metric.Int64UpDownCounter
	FirstConnectsTotal metric.Int64Counter
	ReconnectsTotal    metric.Int64Counter

	// Replay metrics
	MessagesReplayedTotal metric.Int64Counter
	ReplayDuration        metric.Float64Histogram

	// Fan-out metrics
	SlowClientsDroppedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.MessagesPublishedTotal, _ = meter.Int64Counter(
		"twine.messages.published.total",
		metric.WithDescription("Total number of messages appended to the log"),
		metric.WithUnit("{message}"),
	)

	m.PublishErrorsTotal, _ = meter.Int64Counter(
		"twine.messages.publish.errors.total",
		metric.WithDescription("Total number of failed message appends"),
		metric.WithUnit("{error}"),
	)

	m.BroadcastErrorsTotal, _ = meter.Int64Counter(
		"twine.messages.broadcast.errors.total",
		metric.WithDescription("Total number of broadcast failures after a successful append"),
		metric.WithUnit("{error}"),
	)

	m.ActiveConnections, _ = meter.Int64UpDownCounter(
		"twine.connections.active",
		metric.WithDescription("Number of open WebSocket connections"),
		metric.WithUnit("{connection}"),
	)

	m.FirstConnectsTotal, _ = meter.Int64Counter(
		"twine.connections.first_connect.total",
		metric.WithDescription("Total number of connections classified as first connects"),
		metric.WithUnit("{connection}"),
	)

	m.ReconnectsTotal, _ = meter.Int64Counter(
		"twine.connections.reconnect.total",
		metric.WithDescription("Total number of connections classified as reconnects"),
		metric.WithUnit("{connection}"),
	)

	m.MessagesReplayedTotal, _ = meter.Int64Counter(
		"twine.replay.messages.total",
		metric.WithDescription("Total number of missed messages replayed to reconnecting clients"),
		metric.WithUnit("{message}"),
	)

	m.ReplayDuration, _ = meter.Float64Histogram(
		"twine.replay.duration",
		metric.WithDescription("Duration of missed-message replay per reconnect"),
		metric.WithUnit("ms"),
	)

	m.SlowClientsDroppedTotal, _ = meter.Int64Counter(
		"twine.connections.slow_dropped.total",
		metric.WithDescription("Total number of connections dropped because their send queue overflowed"),
		metric.WithUnit("{connection}"),
	)

	return m
}
