package observability_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/chainstat/internal/observability"
	"github.com/Sumatoshi-tech/chainstat/pkg/convergence"
)

func newTestMeterProvider(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() { require.NoError(t, mp.Shutdown(context.Background())) })

	return mp, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}

	return out
}

func sumInt(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()

	var total int64

	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			total += dp.Value
		}
	default:
		t.Fatalf("metric %s is %T, not an int64 sum", m.Name, m.Data)
	}

	return total
}

func histogramCount(t *testing.T, m metricdata.Metrics) uint64 {
	t.Helper()

	data, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "metric %s is %T", m.Name, m.Data)

	var count uint64
	for _, dp := range data.DataPoints {
		count += dp.Count
	}

	return count
}

func TestReconstructionMetrics(t *testing.T) {
	t.Parallel()

	mp, reader := newTestMeterProvider(t)

	rm, err := observability.NewReconstructionMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	done := rm.TrackInflight(ctx)
	rm.RecordBlock(ctx, 500, time.Millisecond)
	rm.RecordBlock(ctx, 250, 2*time.Millisecond)
	rm.RecordChain(ctx, observability.StatusOK, 3, time.Second)
	done()

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumInt(t, got["chainstat.reconstruct.blocks.total"]))
	assert.Equal(t, int64(750), sumInt(t, got["chainstat.reconstruct.lines.total"]))
	assert.Equal(t, int64(1), sumInt(t, got["chainstat.reconstruct.chains.total"]))
	assert.Equal(t, int64(3), sumInt(t, got["chainstat.reconstruct.missing.cells"]))
	assert.Equal(t, int64(0), sumInt(t, got["chainstat.reconstruct.chains.inflight"]))
	assert.Equal(t, uint64(2), histogramCount(t, got["chainstat.reconstruct.block.duration.seconds"]))
}

func TestConvergenceMetrics(t *testing.T) {
	t.Parallel()

	mp, reader := newTestMeterProvider(t)

	cm, err := observability.NewConvergenceMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	cm.RecordSeries(ctx, convergence.Result{Name: "mu", RHat: 1.01})
	cm.RecordSeries(ctx, convergence.Result{Name: "tau", RHat: 1.3, Flagged: true})
	cm.RecordSeries(ctx, convergence.Result{Name: "z", RHat: math.Inf(1), Flagged: true})
	cm.RecordSeries(ctx, convergence.Result{Name: "s", RHat: math.NaN(), Err: convergence.ErrUndefinedStatistic})
	cm.RecordAnalysis(ctx, convergence.Summary{}, time.Second)

	got := collect(t, reader)

	assert.Equal(t, int64(4), sumInt(t, got["chainstat.converge.series.total"]))
	assert.Equal(t, uint64(2), histogramCount(t, got["chainstat.converge.rhat"]))
	assert.Equal(t, uint64(1), histogramCount(t, got["chainstat.converge.duration.seconds"]))
}

func TestCommandMetrics(t *testing.T) {
	t.Parallel()

	mp, reader := newTestMeterProvider(t)

	cm, err := observability.NewCommandMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	cm.RecordCommand(ctx, "reconstruct", observability.StatusOK, time.Second)
	cm.RecordCommand(ctx, "reconstruct", observability.StatusError, time.Second)

	got := collect(t, reader)

	assert.Equal(t, int64(2), sumInt(t, got["chainstat.commands.total"]))
	assert.Equal(t, int64(1), sumInt(t, got["chainstat.errors.total"]))
}
