// Package config loads chainstat configuration from a YAML file, environment
// variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/chainstat/pkg/safeconv"
)

// Config is the top-level configuration struct for chainstat.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Reconstruct   ReconstructConfig   `mapstructure:"reconstruct"`
	Convergence   ConvergenceConfig   `mapstructure:"convergence"`
	Output        OutputConfig        `mapstructure:"output"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ReconstructConfig holds chain reconstruction knobs.
type ReconstructConfig struct {
	ReadBlockSize   string `mapstructure:"read_block_size"`
	Workers         int    `mapstructure:"workers"`
	ProgressEvery   int    `mapstructure:"progress_every"`
	AllowIncomplete bool   `mapstructure:"allow_incomplete"`
}

// ConvergenceConfig holds convergence analysis settings.
type ConvergenceConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	Pattern   string  `mapstructure:"pattern"`
}

// OutputConfig holds report rendering settings.
type OutputConfig struct {
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
	Plot   string `mapstructure:"plot"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig holds telemetry export settings.
type ObservabilityConfig struct {
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure    bool    `mapstructure:"otlp_insecure"`
	OTLPHeaders     string  `mapstructure:"otlp_headers"`
	Environment     string  `mapstructure:"environment"`
	DiagnosticsAddr string  `mapstructure:"diagnostics_addr"`
	SampleRatio     float64 `mapstructure:"sample_ratio"`
	TraceVerbose    bool    `mapstructure:"trace_verbose"`
}

var (
	validFormats    = []string{"text", "json", "yaml"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidReadBlockSize indicates an unparsable or non-positive block size.
	ErrInvalidReadBlockSize = errors.New("reconstruct.read_block_size must be a positive byte size")
	// ErrInvalidWorkers indicates the workers value is negative.
	ErrInvalidWorkers = errors.New("reconstruct.workers must be non-negative")
	// ErrInvalidProgressEvery indicates the progress interval is negative.
	ErrInvalidProgressEvery = errors.New("reconstruct.progress_every must be non-negative")
	// ErrInvalidThreshold indicates the threshold is not above 1.
	ErrInvalidThreshold = errors.New("convergence.threshold must be greater than 1")
	// ErrInvalidPattern indicates a malformed glob.
	ErrInvalidPattern = errors.New("convergence.pattern must be a valid glob")
	// ErrInvalidFormat indicates an unknown output format.
	ErrInvalidFormat = errors.New("output.format must be text, json or yaml")
	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
	// ErrInvalidLogFormat indicates an unknown log format.
	ErrInvalidLogFormat = errors.New("logging.format must be text or json")
	// ErrInvalidSampleRatio indicates a sampling ratio outside [0, 1].
	ErrInvalidSampleRatio = errors.New("observability.sample_ratio must be between 0 and 1")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	reconstructErr := c.validateReconstruct()
	if reconstructErr != nil {
		return reconstructErr
	}

	if c.Convergence.Threshold <= 1 {
		return ErrInvalidThreshold
	}

	_, globErr := filepath.Match(c.Convergence.Pattern, "")
	if c.Convergence.Pattern == "" || globErr != nil {
		return ErrInvalidPattern
	}

	return c.validateOutput()
}

func (c *Config) validateReconstruct() error {
	_, sizeErr := c.ReadBlockSizeBytes()
	if sizeErr != nil {
		return sizeErr
	}

	if c.Reconstruct.Workers < 0 {
		return ErrInvalidWorkers
	}

	if c.Reconstruct.ProgressEvery < 0 {
		return ErrInvalidProgressEvery
	}

	return nil
}

func (c *Config) validateOutput() error {
	if !slices.Contains(validFormats, c.Output.Format) {
		return ErrInvalidFormat
	}

	if !slices.Contains(validLogLevels, c.Logging.Level) {
		return ErrInvalidLogLevel
	}

	if !slices.Contains(validLogFormats, c.Logging.Format) {
		return ErrInvalidLogFormat
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	return nil
}

// ReadBlockSizeBytes parses reconstruct.read_block_size ("64KiB", "1MB", "4096").
func (c *Config) ReadBlockSizeBytes() (int, error) {
	size, err := humanize.ParseBytes(c.Reconstruct.ReadBlockSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidReadBlockSize, err)
	}

	if size == 0 || size > maxReadBlockSize {
		return 0, fmt.Errorf("%w: %s", ErrInvalidReadBlockSize, c.Reconstruct.ReadBlockSize)
	}

	return safeconv.MustUint64ToInt(size), nil
}

// maxReadBlockSize caps the backward read chunk.
const maxReadBlockSize = 64 * humanize.MiByte
