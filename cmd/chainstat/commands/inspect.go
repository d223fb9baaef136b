package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/chainstat/internal/config"
	"github.com/Sumatoshi-tech/chainstat/internal/observability"
	"github.com/Sumatoshi-tech/chainstat/internal/report"
	"github.com/Sumatoshi-tech/chainstat/pkg/chainstore"
)

// InspectCommand holds the flags of the inspect command.
type InspectCommand struct {
	format  string
	noColor bool
}

func newInspectCommand(a *app) *cobra.Command {
	ic := &InspectCommand{}

	cmd := &cobra.Command{
		Use:   "inspect STORE...",
		Short: "Describe chain stores",
		Long: `List the variables of each chain store with their shapes, missing cell
counts, and stored sizes. A directory argument expands to the chain stores
it contains.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd, observability.ModeInspect, config.FlagBindings{
				"output.format": "format",
			}, ic.run(cmd, args))
		},
	}

	cmd.Flags().StringVar(&ic.format, "format", config.DefaultFormat, "output format: text, json, yaml")
	cmd.Flags().BoolVar(&ic.noColor, "no-color", false, "disable colored output")

	return cmd
}

func (ic *InspectCommand) run(cmd *cobra.Command, args []string) func(context.Context, *session) error {
	return func(ctx context.Context, s *session) error {
		paths, err := expandStores(args, s.cfg.Convergence.Pattern)
		if err != nil {
			return err
		}

		views := make([]report.StoreView, 0, len(paths))

		for _, path := range paths {
			r, openErr := chainstore.Open(path)
			if openErr != nil {
				return openErr
			}

			views = append(views, report.Inspect(r))

			closeErr := r.Close()
			if closeErr != nil {
				return closeErr
			}
		}

		s.logger.DebugContext(ctx, "inspected chain stores", "stores", len(views))

		useColor := s.cfg.Output.Color && !ic.noColor && !color.NoColor

		return report.WriteInspect(cmd.OutOrStdout(), views, report.Format(s.cfg.Output.Format),
			report.Options{Color: useColor})
	}
}

// expandStores replaces directory arguments with the stores they contain.
func expandStores(args []string, pattern string) ([]string, error) {
	var paths []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}

		if !info.IsDir() {
			paths = append(paths, arg)

			continue
		}

		found, err := chainstore.Discover(arg, pattern)
		if err != nil && !errors.Is(err, chainstore.ErrNoStores) {
			return nil, err
		}

		paths = append(paths, found...)
	}

	if len(paths) == 0 {
		return nil, chainstore.ErrNoStores
	}

	return paths, nil
}
