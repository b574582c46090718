package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iosh/dryrun/config"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestDefaultsAndEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("APP_EVM_RPC_URL", "http://localhost:8545")

	cfg, err := config.New()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8545", cfg.Evm.RpcURL)
	require.Equal(t, config.DefaultHost, cfg.Server.Host)
	require.EqualValues(t, config.DefaultPort, cfg.Server.Port)
	require.Equal(t, "127.0.0.1:8000", cfg.Server.Address())
	require.Equal(t, "info", cfg.Tracing.Level)
	require.Equal(t, "pretty", cfg.Tracing.Format)
	require.False(t, cfg.Metrics.Enabled)
}

func TestRunModeSelectsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[server]
host = "0.0.0.0"
port = 9123

[evm]
rpc_url = "http://archive:8545"

[tracing]
level = "debug"
format = "json"

[metrics]
enabled = true
listen_address = "127.0.0.1:9999"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "production.toml"), []byte(content), 0o600))
	chdir(t, dir)
	t.Setenv("RUN_MODE", "production")

	cfg, err := config.New()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.EqualValues(t, 9123, cfg.Server.Port)
	require.Equal(t, "http://archive:8545", cfg.Evm.RpcURL)
	require.Equal(t, "debug", cfg.Tracing.Level)
	require.Equal(t, "json", cfg.Tracing.Format)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "127.0.0.1:9999", cfg.Metrics.ListenAddress)
}

func TestEnvBeatsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[evm]
rpc_url = "http://from-file:8545"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "development.toml"), []byte(content), 0o600))
	chdir(t, dir)
	t.Setenv("APP_EVM_RPC_URL", "http://from-env:8545")

	cfg, err := config.New()
	require.NoError(t, err)
	require.Equal(t, "http://from-env:8545", cfg.Evm.RpcURL)
}

func TestMissingRpcURLFails(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := config.New()
	require.Error(t, err)
	require.Contains(t, err.Error(), "evm.rpc_url")
}

func TestInvalidMetricsAddressFails(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("APP_EVM_RPC_URL", "http://localhost:8545")
	t.Setenv("APP_METRICS_ENABLED", "true")
	t.Setenv("APP_METRICS_LISTEN_ADDRESS", "no-port")

	_, err := config.New()
	require.Error(t, err)
	require.Contains(t, err.Error(), "metrics.listen_address")
}
