package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/sitebundle"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram
	OutputFilesTotal metric.Int64Counter
	WatchEventsTotal metric.Int64Counter

	// Dev server metrics
	ReloadBroadcastsTotal metric.Int64Counter
	ActiveClients         metric.Int64UpDownCounter
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

	m.BuildsTotal, _ = meter.Int64Counter(
		"sitebundle.builds.total",
		metric.WithDescription("Total number of build passes"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"sitebundle.builds.errors.total",
		metric.WithDescription("Total number of build passes that reported errors"),
		metric.WithUnit("{build}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"sitebundle.builds.duration",
		metric.WithDescription("Duration of build passes"),
		metric.WithUnit("ms"),
	)

	m.OutputFilesTotal, _ = meter.Int64Counter(
		"sitebundle.builds.output_files.total",
		metric.WithDescription("Total number of files written by build passes"),
		metric.WithUnit("{file}"),
	)

	m.WatchEventsTotal, _ = meter.Int64Counter(
		"sitebundle.watcher.events.total",
		metric.WithDescription("Total number of file system events recorded by the watcher"),
		metric.WithUnit("{event}"),
	)

	m.ReloadBroadcastsTotal, _ = meter.Int64Counter(
		"sitebundle.devserver.broadcasts.total",
		metric.WithDescription("Total number of messages broadcast to live reload clients"),
		metric.WithUnit("{message}"),
	)

	m.ActiveClients, _ = meter.Int64UpDownCounter(
		"sitebundle.devserver.clients.active",
		metric.WithDescription("Number of connected live reload clients"),
		metric.WithUnit("{client}"),
	)

	return m
}
