package config

import (
	"github.com/Sumatoshi-tech/chainstat/internal/observability"
	"github.com/Sumatoshi-tech/chainstat/internal/reconstruct"
)

const logFormatJSON = "json"

// ApplyReconstruct copies the reconstruct section into opts. Zero values
// leave the pipeline's own defaults in place.
func (c *Config) ApplyReconstruct(opts *reconstruct.Options) error {
	size, err := c.ReadBlockSizeBytes()
	if err != nil {
		return err
	}

	opts.ReadBlockSize = size
	opts.AllowIncomplete = c.Reconstruct.AllowIncomplete

	if c.Reconstruct.ProgressEvery > 0 {
		opts.ProgressEvery = c.Reconstruct.ProgressEvery
	}

	return nil
}

// Telemetry builds the observability configuration for a command run.
func (c *Config) Telemetry(mode observability.AppMode, version string) observability.Config {
	cfg := observability.DefaultConfig()

	cfg.Mode = mode
	cfg.ServiceVersion = version
	cfg.Environment = c.Observability.Environment
	cfg.OTLPEndpoint = c.Observability.OTLPEndpoint
	cfg.OTLPInsecure = c.Observability.OTLPInsecure
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Observability.OTLPHeaders)
	cfg.SampleRatio = c.Observability.SampleRatio
	cfg.TraceVerbose = c.Observability.TraceVerbose
	cfg.Prometheus = c.Observability.DiagnosticsAddr != ""
	cfg.LogLevel = observability.ParseLevel(c.Logging.Level)
	cfg.LogJSON = c.Logging.Format == logFormatJSON

	return cfg
}
