package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestGetMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	m := GetMetrics()
	require.Same(t, m, GetMetrics())

	ctx := context.Background()
	m.BuildsTotal.Add(ctx, 2)
	m.ActiveClients.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		require.Equal(t, meterName, sm.Scope.Name)
		for _, metric := range sm.Metrics {
			names[metric.Name] = true
		}
	}
	require.True(t, names["sitebundle.builds.total"])
	require.True(t, names["sitebundle.devserver.clients.active"])
}

func TestNoop(t *testing.T) {
	require.NoError(t, Noop(context.Background()))
}
