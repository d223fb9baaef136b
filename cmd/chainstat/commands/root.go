// Package commands implements CLI command handlers for chainstat.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/chainstat/internal/config"
	"github.com/Sumatoshi-tech/chainstat/internal/observability"
)

// Persistent flag names.
const (
	flagConfig          = "config"
	flagLogLevel        = "log-level"
	flagLogJSON         = "log-json"
	flagDiagnosticsAddr = "diagnostics-addr"
)

type observabilityInit func(observability.Config) (observability.Providers, error)

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath      string
	logLevel        string
	logJSON         bool
	diagnosticsAddr string
}

// persistentBindings maps config keys to persistent flags.
var persistentBindings = config.FlagBindings{
	"logging.level":                  flagLogLevel,
	"observability.diagnostics_addr": flagDiagnosticsAddr,
}

// NewRootCommand creates the chainstat command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(observability.Init)
}

func newRootCommand(obsInit observabilityInit) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "chainstat",
		Short: "Rebuild MCMC chains and check their convergence",
		Long: `chainstat rebuilds per-variable sample arrays from CODA-style chain and
index files, stores them as compressed chain stores, and checks convergence
across chains with the Gelman-Rubin statistic.

Commands:
  reconstruct  Rebuild chain stores from chain and index files
  converge     Compute R-hat for every series across chain stores
  inspect      Describe chain stores`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, flagConfig, "", "config file (default .chainstat.yaml in CWD or $HOME)")
	pf.StringVar(&flags.logLevel, flagLogLevel, config.DefaultLogLevel, "log level: debug, info, warn, error")
	pf.BoolVar(&flags.logJSON, flagLogJSON, false, "emit logs as JSON")
	pf.StringVar(&flags.diagnosticsAddr, flagDiagnosticsAddr, "",
		"serve /healthz, /readyz and /metrics on this address while the command runs")

	rt := &app{flags: flags, obsInit: obsInit}

	root.AddCommand(
		newReconstructCommand(rt),
		newConvergeCommand(rt),
		newInspectCommand(rt),
		newVersionCommand(),
	)

	return root
}
