package config

import (
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Defaults applied before any config file or environment variable is read.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8000
	DefaultTracingLevel   = "info"
	DefaultTracingFormat  = "pretty"
	DefaultMetricsAddress = "127.0.0.1:9000"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Evm     EvmConfig     `mapstructure:"evm"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Abi     AbiConfig     `mapstructure:"abi"`
}

// ServerConfig holds the JSON-RPC listen address.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port uint16 `mapstructure:"port"`
}

// Address renders the listen address as host:port.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, cast.ToString(c.Port))
}

// EvmConfig points at the upstream archive node.
type EvmConfig struct {
	RpcURL string `mapstructure:"rpc_url"`
}

// TracingConfig controls log verbosity and rendering.
type TracingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the metrics/health endpoint.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
}

// AbiConfig controls the contract-ABI lookup endpoint. An empty URL selects
// the default public endpoint.
type AbiConfig struct {
	LookupURL string `mapstructure:"lookup_url"`
}

// New loads the configuration. The RUN_MODE environment variable names the
// config file (default "development"), an optional "local" file overlays it,
// and APP_* environment variables override individual keys, e.g.
// APP_SERVER_PORT or APP_EVM_RPC_URL.
func New() (*Config, error) {
	runMode := os.Getenv("RUN_MODE")
	if runMode == "" {
		runMode = "development"
	}

	v := viper.New()
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("evm.rpc_url", "")
	v.SetDefault("tracing.level", DefaultTracingLevel)
	v.SetDefault("tracing.format", DefaultTracingFormat)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_address", DefaultMetricsAddress)
	v.SetDefault("abi.lookup_url", "")

	v.AddConfigPath(".")
	v.SetConfigName(runMode)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrapf(err, "failed to read config file %q", runMode)
		}
	}
	v.SetConfigName("local")
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read local config file")
		}
	}

	v.SetEnvPrefix("app")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Evm.RpcURL == "" {
		return errors.New("evm.rpc_url is required")
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddress); err != nil {
			return errors.Wrap(err, "invalid metrics.listen_address")
		}
	}
	return nil
}
