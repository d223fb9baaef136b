package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/chainstat/internal/config"
	"github.com/Sumatoshi-tech/chainstat/internal/observability"
	"github.com/Sumatoshi-tech/chainstat/internal/report"
	"github.com/Sumatoshi-tech/chainstat/pkg/chainstore"
	"github.com/Sumatoshi-tech/chainstat/pkg/convergence"
)

// ErrNotConverged is returned by converge --fail-on-flagged when any series
// exceeds the threshold.
var ErrNotConverged = errors.New("chains have not converged")

// ConvergeCommand holds the flags of the converge command.
type ConvergeCommand struct {
	dir           string
	pattern       string
	threshold     float64
	format        string
	plot          string
	noColor       bool
	failOnFlagged bool
}

func newConvergeCommand(a *app) *cobra.Command {
	cc := &ConvergeCommand{}

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Compute R-hat for every series across chain stores",
		Long: `Open every chain store in --dir, compute the Gelman-Rubin statistic for
each scalar series across chains, and report the series whose R-hat exceeds
the threshold. Flagged series do not fail the command unless
--fail-on-flagged is given.`,
		Example: `  chainstat converge --dir stores/
  chainstat converge --dir stores/ --threshold 1.01 --format json --plot rhat.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, observability.ModeConverge, config.FlagBindings{
				"convergence.threshold": "threshold",
				"convergence.pattern":   "pattern",
				"output.format":         "format",
				"output.plot":           "plot",
			}, cc.run(cmd))
		},
	}

	cmd.Flags().StringVar(&cc.dir, "dir", ".", "directory holding the chain stores")
	cmd.Flags().StringVar(&cc.pattern, "pattern", config.DefaultPattern, "glob selecting chain stores in --dir")
	cmd.Flags().Float64Var(&cc.threshold, "threshold", config.DefaultThreshold, "flag series with R-hat above this value")
	cmd.Flags().StringVar(&cc.format, "format", config.DefaultFormat, "output format: text, json, yaml")
	cmd.Flags().StringVar(&cc.plot, "plot", "", "also write an HTML bar chart of all R-hat values to this file")
	cmd.Flags().BoolVar(&cc.noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVar(&cc.failOnFlagged, "fail-on-flagged", false, "exit non-zero when any series is flagged")

	return cmd
}

func (cc *ConvergeCommand) run(cmd *cobra.Command) func(context.Context, *session) error {
	return func(ctx context.Context, s *session) (err error) {
		paths, err := chainstore.Discover(cc.dir, s.cfg.Convergence.Pattern)
		if err != nil {
			return err
		}

		set, err := chainstore.OpenAll(paths)
		if err != nil {
			return err
		}

		defer func() {
			err = errors.Join(err, set.Close())
		}()

		ensemble, err := convergence.LoadEnsemble(set)
		if err != nil {
			return err
		}

		metrics, err := observability.NewConvergenceMetrics(s.meter)
		if err != nil {
			return fmt.Errorf("create convergence metrics: %w", err)
		}

		rep, err := convergence.Analyze(ctx, ensemble, convergence.Options{
			Threshold: s.cfg.Convergence.Threshold,
			Logger:    s.logger,
			Tracer:    s.tracer,
			Metrics:   metrics,
		})
		if err != nil {
			return err
		}

		useColor := s.cfg.Output.Color && !cc.noColor && !color.NoColor

		err = report.Write(cmd.OutOrStdout(), rep, report.Format(s.cfg.Output.Format), report.Options{Color: useColor})
		if err != nil {
			return err
		}

		if plot := s.cfg.Output.Plot; plot != "" {
			err = report.WritePlot(plot, rep)
			if err != nil {
				return err
			}

			s.logger.InfoContext(ctx, "plot written", "path", plot)
		}

		if cc.failOnFlagged && !rep.Converged() {
			return fmt.Errorf("%w: %d of %d series above %g",
				ErrNotConverged, len(rep.Flagged()), len(rep.Results), rep.Threshold)
		}

		return nil
	}
}
