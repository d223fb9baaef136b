// Package reconstruct turns a sampler chain file and its index into a
// committed chain store: parse the index, allocate the variables, stream the
// chain once, check completeness, and persist.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/chainstat/internal/observability"
	"github.com/Sumatoshi-tech/chainstat/pkg/chainindex"
	"github.com/Sumatoshi-tech/chainstat/pkg/chainstore"
	"github.com/Sumatoshi-tech/chainstat/pkg/chainstream"
	"github.com/Sumatoshi-tech/chainstat/pkg/tensor"
)

const tracerName = "chainstat"

// ErrIncomplete is returned when cells are still missing after streaming and
// incomplete chains are not allowed.
var ErrIncomplete = errors.New("reconstruction left cells unfilled")

// Job names one chain file, its index, and the store directory.
type Job struct {
	ChainPath string
	IndexPath string
	OutDir    string
}

// Incomplete describes a variable with unfilled cells.
type Incomplete struct {
	Variable string
	Missing  int
	Cells    int
}

// Result describes one reconstructed chain.
type Result struct {
	Job        Job
	ChainID    string
	StorePath  string
	Shapes     chainindex.Shapes
	Order      []string
	Stream     chainstream.Stats
	Incomplete []Incomplete
	Elapsed    time.Duration
}

// Metrics receives reconstruction measurements.
type Metrics interface {
	chainstream.Recorder
	RecordChain(ctx context.Context, status string, missing int, elapsed time.Duration)
	TrackInflight(ctx context.Context) func()
}

// Options configures Run and RunAll.
type Options struct {
	// ReadBlockSize is the backward read chunk size for the index file.
	ReadBlockSize int
	// ProgressEvery logs progress every N blocks; zero disables it.
	ProgressEvery int
	// AllowIncomplete stores chains with unfilled cells instead of failing.
	AllowIncomplete bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Tracer defaults to the global provider.
	Tracer trace.Tracer
	// Metrics, when set, receives measurements.
	Metrics Metrics
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}

	return o
}

// Run reconstructs one chain. Nothing is published under the store path
// unless every step succeeds.
func Run(ctx context.Context, job Job, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	began := time.Now()
	chainID := chainstore.ChainID(job.ChainPath)
	logger := opts.Logger.With("chain", chainID)

	ctx, span := opts.Tracer.Start(ctx, "chainstat.reconstruct",
		trace.WithAttributes(attribute.String("reconstruct.chain", chainID)))
	defer span.End()

	if opts.Metrics != nil {
		defer opts.Metrics.TrackInflight(ctx)()
	}

	res, err := run(ctx, job, chainID, logger, opts)

	elapsed := time.Since(began)
	status := observability.StatusOK

	if err != nil {
		status = observability.StatusError

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if opts.Metrics != nil {
		opts.Metrics.RecordChain(ctx, status, missingCells(res), elapsed)
	}

	if err != nil {
		return nil, fmt.Errorf("reconstruct %s: %w", chainID, err)
	}

	res.Elapsed = elapsed

	span.SetAttributes(
		attribute.Int("reconstruct.blocks", res.Stream.Blocks),
		attribute.Int("reconstruct.lines", res.Stream.Lines),
		attribute.Int("reconstruct.variables", len(res.Order)),
	)

	logger.InfoContext(ctx, "reconstruction complete",
		"store", res.StorePath,
		"variables", len(res.Order),
		"lines", res.Stream.Lines,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	return res, nil
}

func run(ctx context.Context, job Job, chainID string, logger *slog.Logger, opts Options) (*Result, error) {
	_, parseSpan := opts.Tracer.Start(ctx, "chainstat.reconstruct.parse")

	ix, err := chainindex.Parse(job.IndexPath, chainindex.ParseOptions{BlockSize: opts.ReadBlockSize})

	parseSpan.End()

	if err != nil {
		return nil, err
	}

	tensors, err := tensor.Allocate(ix.Shapes)
	if err != nil {
		return nil, err
	}

	for _, name := range ix.Order {
		logger.InfoContext(ctx, "allocated variable", "variable", name, "shape", ix.Shapes[name])
	}

	res := &Result{Job: job, ChainID: chainID, Shapes: ix.Shapes, Order: ix.Order}

	streamCtx, streamSpan := opts.Tracer.Start(ctx, "chainstat.reconstruct.stream")

	res.Stream, err = chainstream.StreamFile(streamCtx, job.ChainPath, ix.Blocks, tensors, streamOptions(logger, opts))

	streamSpan.End()

	if err != nil {
		return nil, err
	}

	res.Incomplete = findIncomplete(ix.Order, tensors)

	err = checkComplete(ctx, logger, res.Incomplete, opts.AllowIncomplete)
	if err != nil {
		return res, err
	}

	res.StorePath, err = persist(ctx, job, chainID, ix.Order, tensors, opts.Tracer)
	if err != nil {
		return res, err
	}

	return res, nil
}

func streamOptions(logger *slog.Logger, opts Options) chainstream.Options {
	so := chainstream.Options{Logger: logger, ProgressEvery: opts.ProgressEvery}

	if opts.Metrics != nil {
		so.Recorder = opts.Metrics
	}

	return so
}

func findIncomplete(order []string, tensors map[string]*tensor.Tensor) []Incomplete {
	var out []Incomplete

	for _, name := range order {
		t := tensors[name]

		missing := t.Missing()
		if missing > 0 {
			out = append(out, Incomplete{Variable: name, Missing: missing, Cells: t.Len()})
		}
	}

	return out
}

func checkComplete(ctx context.Context, logger *slog.Logger, incomplete []Incomplete, allow bool) error {
	if len(incomplete) == 0 {
		return nil
	}

	names := make([]string, 0, len(incomplete))

	for _, inc := range incomplete {
		names = append(names, fmt.Sprintf("%s (%d of %d)", inc.Variable, inc.Missing, inc.Cells))

		if allow {
			logger.WarnContext(ctx, "variable has unfilled cells",
				"variable", inc.Variable, "missing", inc.Missing, "cells", inc.Cells)
		}
	}

	if allow {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(names, ", "))
}

func persist(
	ctx context.Context, job Job, chainID string, order []string, tensors map[string]*tensor.Tensor, tracer trace.Tracer,
) (string, error) {
	ctx, span := tracer.Start(ctx, "chainstat.reconstruct.store")
	defer span.End()

	w, err := chainstore.Create(job.OutDir, chainID, chainstore.Meta{
		ChainFile: job.ChainPath,
		IndexFile: job.IndexPath,
	})
	if err != nil {
		return "", err
	}

	for _, name := range order {
		_, saveSpan := tracer.Start(ctx, observability.SpanStoreSave,
			trace.WithAttributes(attribute.String("store.variable", name)))

		saveErr := w.Save(name, tensors[name])

		saveSpan.End()

		if saveErr != nil {
			return "", errors.Join(saveErr, w.Abort())
		}
	}

	commitErr := w.Commit()
	if commitErr != nil {
		return "", commitErr
	}

	span.SetAttributes(attribute.String("store.path", w.Path()))

	return w.Path(), nil
}

func missingCells(res *Result) int {
	if res == nil {
		return 0
	}

	total := 0
	for _, inc := range res.Incomplete {
		total += inc.Missing
	}

	return total
}
