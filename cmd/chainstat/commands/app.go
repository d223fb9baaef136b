package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/chainstat/internal/config"
	"github.com/Sumatoshi-tech/chainstat/internal/observability"
	"github.com/Sumatoshi-tech/chainstat/pkg/version"
)

const (
	tracerName      = "chainstat"
	logFormatJSON   = "json"
	shutdownTimeout = 5 * time.Second
)

// app builds the per-invocation session for a subcommand.
type app struct {
	flags   *globalFlags
	obsInit observabilityInit
}

// session is what a subcommand body sees: the effective configuration and
// the telemetry providers of this run.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
}

// execute loads configuration, brings up telemetry and the optional
// diagnostics server, runs body inside a command span, and tears everything
// down again.
func (a *app) execute(
	cmd *cobra.Command,
	mode observability.AppMode,
	bindings config.FlagBindings,
	body func(ctx context.Context, s *session) error,
) (err error) {
	allBindings := maps.Clone(persistentBindings)
	maps.Copy(allBindings, bindings)

	cfg, err := config.LoadConfig(a.flags.configPath, cmd.Flags(), allBindings)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed(flagLogJSON) && a.flags.logJSON {
		cfg.Logging.Format = logFormatJSON
	}

	telemetry := cfg.Telemetry(mode, version.Version)
	telemetry.LogOutput = cmd.ErrOrStderr()

	providers, err := a.obsInit(telemetry)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
		defer cancel()

		shutdownErr := providers.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown observability: %w", shutdownErr))
		}
	}()

	s := newSession(cfg, telemetry, providers)

	readiness := &observability.Readiness{}

	if addr := cfg.Observability.DiagnosticsAddr; addr != "" {
		diagnostics, diagErr := observability.NewDiagnosticsServer(addr, providers.MetricsHandler,
			readiness.Check(string(mode)))
		if diagErr != nil {
			return diagErr
		}

		s.logger.Info("diagnostics server listening", "addr", diagnostics.Addr())

		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()

			err = errors.Join(err, diagnostics.Close(closeCtx))
		}()
	}

	commandMetrics, err := observability.NewCommandMetrics(s.meter)
	if err != nil {
		return fmt.Errorf("create command metrics: %w", err)
	}

	ctx, span := s.tracer.Start(cmd.Context(), "chainstat."+string(mode),
		trace.WithAttributes(attribute.String("chainstat.command", string(mode))))
	defer span.End()

	readiness.Set(true)

	began := time.Now()
	err = body(ctx, s)
	elapsed := time.Since(began)

	readiness.Set(false)

	status := observability.StatusOK
	if err != nil {
		status = observability.StatusError

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	commandMetrics.RecordCommand(ctx, string(mode), status, elapsed)

	return err
}

func newSession(cfg *config.Config, telemetry observability.Config, providers observability.Providers) *session {
	s := &session{
		cfg:    cfg,
		logger: providers.Logger,
		tracer: providers.Tracer,
		meter:  providers.Meter,
	}

	if s.logger == nil {
		s.logger = observability.NewLogger(telemetry)
	}

	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}

	if s.meter == nil {
		s.meter = noopmetric.NewMeterProvider().Meter(tracerName)
	}

	return s
}
