package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".chainstat"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for chainstat settings.
const envPrefix = "CHAINSTAT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// FlagBindings maps config keys to the command-line flags that override them.
// A flag only takes effect when it was set explicitly.
type FlagBindings map[string]string

// LoadConfig loads configuration from flags, env vars, file, and defaults, in
// that order of precedence. If configPath is non-empty, it is used as the
// explicit config file path; otherwise .chainstat.yaml is searched in CWD and
// $HOME. A missing config file is not an error.
func LoadConfig(configPath string, flags *pflag.FlagSet, bindings FlagBindings) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	bindErr := bindFlags(viperCfg, flags, bindings)
	if bindErr != nil {
		return nil, bindErr
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func bindFlags(viperCfg *viper.Viper, flags *pflag.FlagSet, bindings FlagBindings) error {
	if flags == nil {
		return nil
	}

	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}

		err := viperCfg.BindPFlag(key, flag)
		if err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}

	return nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("reconstruct.read_block_size", DefaultReadBlockSize)
	viperCfg.SetDefault("reconstruct.workers", DefaultWorkers)
	viperCfg.SetDefault("reconstruct.progress_every", DefaultProgressEvery)
	viperCfg.SetDefault("reconstruct.allow_incomplete", DefaultAllowIncomplete)

	viperCfg.SetDefault("convergence.threshold", DefaultThreshold)
	viperCfg.SetDefault("convergence.pattern", DefaultPattern)

	viperCfg.SetDefault("output.format", DefaultFormat)
	viperCfg.SetDefault("output.color", DefaultColor)
	viperCfg.SetDefault("output.plot", DefaultPlot)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("observability.otlp_endpoint", DefaultOTLPEndpoint)
	viperCfg.SetDefault("observability.otlp_insecure", DefaultOTLPInsecure)
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.environment", DefaultEnvironment)
	viperCfg.SetDefault("observability.diagnostics_addr", DefaultDiagnosticsAddr)
	viperCfg.SetDefault("observability.sample_ratio", DefaultSampleRatio)
	viperCfg.SetDefault("observability.trace_verbose", DefaultTraceVerbose)
}
