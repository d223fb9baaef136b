package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/chainstat/internal/config"
	"github.com/Sumatoshi-tech/chainstat/internal/observability"
	"github.com/Sumatoshi-tech/chainstat/internal/reconstruct"
)

// ReconstructCommand holds the flags of the reconstruct command.
type ReconstructCommand struct {
	chains  []string
	index   string
	outDir  string
	workers int
	strict  bool
}

func newReconstructCommand(a *app) *cobra.Command {
	rc := &ReconstructCommand{}

	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Rebuild chain stores from chain and index files",
		Long: `Rebuild one chain store per chain file. Each chain is paired with the
index given by --index, or with the index found next to it
(CODAchain1.txt uses CODAindex.txt). Stores are written to --out as
<chain>.chain and only appear once complete.`,
		Example: `  chainstat reconstruct --chain CODAchain1.txt --chain CODAchain2.txt --out stores/
  chainstat reconstruct --chain run/c1.txt --index run/index.txt --out stores/ --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, observability.ModeReconstruct, config.FlagBindings{
				"reconstruct.workers": "workers",
			}, rc.run(cmd))
		},
	}

	cmd.Flags().StringArrayVar(&rc.chains, "chain", nil, "chain file to reconstruct (repeatable)")
	cmd.Flags().StringVar(&rc.index, "index", "", "index file shared by every chain (default: paired per chain)")
	cmd.Flags().StringVar(&rc.outDir, "out", "", "directory for the chain stores")
	cmd.Flags().IntVar(&rc.workers, "workers", config.DefaultWorkers, "chains reconstructed in parallel (0 = GOMAXPROCS)")
	cmd.Flags().BoolVar(&rc.strict, "strict", false, "fail when a variable has unfilled cells")

	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func (rc *ReconstructCommand) run(cmd *cobra.Command) func(context.Context, *session) error {
	return func(ctx context.Context, s *session) error {
		jobs, err := reconstruct.Jobs(rc.chains, rc.index, rc.outDir)
		if err != nil {
			return err
		}

		opts := reconstruct.Options{Logger: s.logger, Tracer: s.tracer}

		err = s.cfg.ApplyReconstruct(&opts)
		if err != nil {
			return err
		}

		if rc.strict {
			opts.AllowIncomplete = false
		}

		metrics, err := observability.NewReconstructionMetrics(s.meter)
		if err != nil {
			return fmt.Errorf("create reconstruction metrics: %w", err)
		}

		opts.Metrics = metrics

		results, err := reconstruct.RunAll(ctx, jobs, s.cfg.Reconstruct.Workers, opts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		for _, res := range results {
			fmt.Fprintf(out, "%s -> %s (%d variables, %s lines, %s)\n",
				res.ChainID, res.StorePath, len(res.Order),
				humanize.Comma(int64(res.Stream.Lines)), res.Elapsed.Round(time.Millisecond))

			for _, inc := range res.Incomplete {
				fmt.Fprintf(out, "  %s: %d of %d cells missing\n", inc.Variable, inc.Missing, inc.Cells)
			}
		}

		return nil
	}
}
