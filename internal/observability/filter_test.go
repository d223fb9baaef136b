package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	errTestCreation = errors.New("test: creation failed")
	errTestSecond   = errors.New("second error")
)

func TestAttributeFilter_DropsUnknownKeys(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewAttributeFilter(recorder)))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	_, span := tp.Tracer("test").Start(context.Background(), "chainstat.reconstruct")
	span.SetAttributes(
		attribute.String("reconstruct.chain", "CODAchain1"),
		attribute.Int("store.variables", 4),
		attribute.Bool("error", true),
		attribute.String("user.name", "alice"),
		attribute.String("hostname", "lab-1"),
	)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	keys := make([]string, 0)
	for _, kv := range spans[0].Attributes() {
		keys = append(keys, string(kv.Key))
	}

	assert.ElementsMatch(t, []string{"reconstruct.chain", "store.variables", "error"}, keys)
}

func TestFilteringTracerProvider_SuppressesPerVariableSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	sdk := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { require.NoError(t, sdk.Shutdown(context.Background())) })

	tracer := NewFilteringTracerProvider(sdk).Tracer(tracerName)

	ctx, parent := tracer.Start(context.Background(), "chainstat.reconstruct")
	_, child := tracer.Start(ctx, SpanStoreSave)
	child.End()
	parent.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "chainstat.reconstruct", spans[0].Name())
}

func TestMetricBuilder_Instruments(t *testing.T) {
	t.Parallel()

	b := newMetricBuilder(noopmetric.NewMeterProvider().Meter("test"))

	assert.NotNil(t, b.counter("test.counter", "desc", "{item}"))
	assert.NotNil(t, b.histogram("test.hist", "desc", "s", durationBucketBoundaries...))
	assert.NotNil(t, b.histogram("test.hist.default", "desc", "s"))
	assert.NotNil(t, b.seconds("test.seconds", "desc"))
	assert.NotNil(t, b.seconds("test.seconds.bounded", "desc", 0.1, 1))
	assert.NotNil(t, b.upDownCounter("test.updown", "desc", "{item}"))
	require.NoError(t, b.err)
}

func TestMetricBuilder_KeepsFirstError(t *testing.T) {
	t.Parallel()

	b := newMetricBuilder(metric.Meter(nil))

	b.setErr("first", errTestCreation)
	b.setErr("second", errTestSecond)

	require.ErrorIs(t, b.err, errTestCreation)
	assert.Contains(t, b.err.Error(), "create first")
}
