package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricBlocksTotal    = "chainstat.reconstruct.blocks.total"
	metricLinesTotal     = "chainstat.reconstruct.lines.total"
	metricBlockDuration  = "chainstat.reconstruct.block.duration.seconds"
	metricChainsTotal    = "chainstat.reconstruct.chains.total"
	metricChainDuration  = "chainstat.reconstruct.chain.duration.seconds"
	metricMissingCells   = "chainstat.reconstruct.missing.cells"
	metricChainsInflight = "chainstat.reconstruct.chains.inflight"
)

// blockBucketBoundaries covers 10us to 10s per index block.
var blockBucketBoundaries = []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 10}

// ReconstructionMetrics holds the instruments for chain reconstruction.
type ReconstructionMetrics struct {
	blocks        metric.Int64Counter
	lines         metric.Int64Counter
	blockDuration metric.Float64Histogram
	chains        metric.Int64Counter
	chainDuration metric.Float64Histogram
	missing       metric.Int64Counter
	inflight      metric.Int64UpDownCounter
}

// NewReconstructionMetrics creates reconstruction instruments from mt.
func NewReconstructionMetrics(mt metric.Meter) (*ReconstructionMetrics, error) {
	b := newMetricBuilder(mt)

	rm := &ReconstructionMetrics{
		blocks:        b.counter(metricBlocksTotal, "Index blocks streamed", "{block}"),
		lines:         b.counter(metricLinesTotal, "Chain file lines consumed", "{line}"),
		blockDuration: b.seconds(metricBlockDuration, "Time to stream one index block", blockBucketBoundaries...),
		chains:        b.counter(metricChainsTotal, "Chains reconstructed", "{chain}"),
		chainDuration: b.seconds(metricChainDuration, "Time to reconstruct one chain"),
		missing:       b.counter(metricMissingCells, "Cells left unfilled after streaming", "{cell}"),
		inflight:      b.upDownCounter(metricChainsInflight, "Chains currently being reconstructed", "{chain}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return rm, nil
}

// RecordBlock records one streamed index block.
func (rm *ReconstructionMetrics) RecordBlock(ctx context.Context, lines int, elapsed time.Duration) {
	rm.blocks.Add(ctx, 1)
	rm.lines.Add(ctx, int64(lines))
	rm.blockDuration.Record(ctx, elapsed.Seconds())
}

// RecordChain records one finished chain reconstruction.
func (rm *ReconstructionMetrics) RecordChain(ctx context.Context, status string, missing int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String(attrStatus, status))

	rm.chains.Add(ctx, 1, attrs)
	rm.chainDuration.Record(ctx, elapsed.Seconds(), attrs)

	if missing > 0 {
		rm.missing.Add(ctx, int64(missing))
	}
}

// TrackInflight increments the in-flight counter and returns its decrement.
func (rm *ReconstructionMetrics) TrackInflight(ctx context.Context) func() {
	rm.inflight.Add(ctx, 1)

	return func() {
		rm.inflight.Add(ctx, -1)
	}
}
