package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/stagegraph/config"
	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/health"
	"github.com/c360/stagegraph/metric"
	"github.com/c360/stagegraph/natsclient"
)

const evensPipeline = `
engine:
  executor: goroutine
pipeline:
  name: evens
  source:
    type: range
    start: 1
    count: 10
  stages:
    - type: filter
      op: even
  sink:
    type: sum
`

// syncBuffer collects log output written from graph goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := parseFlags(nil, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "", cfg.ConfigPath)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
		assert.False(t, cfg.Validate)
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("STAGEGRAPH_LOG_LEVEL", "debug")
		t.Setenv("STAGEGRAPH_METRICS_ADDR", ":9191")
		t.Setenv("STAGEGRAPH_SHUTDOWN_TIMEOUT", "3s")

		cfg, err := parseFlags(nil, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, ":9191", cfg.MetricsAddr)
		assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	})

	t.Run("flags win over environment", func(t *testing.T) {
		t.Setenv("STAGEGRAPH_LOG_FORMAT", "json")

		cfg, err := parseFlags([]string{"--log-format=text", "-c", "p.yaml", "--validate"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, "p.yaml", cfg.ConfigPath)
		assert.True(t, cfg.Validate)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseFlags([]string{"--nope"}, &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestValidateFlags(t *testing.T) {
	valid := func() *CLIConfig {
		return &CLIConfig{LogLevel: "info", LogFormat: "json", ShutdownTimeout: time.Second}
	}

	assert.NoError(t, validateFlags(valid()))

	cfg := valid()
	cfg.LogLevel = "verbose"
	assert.ErrorContains(t, validateFlags(cfg), "invalid log level")

	cfg = valid()
	cfg.LogFormat = "xml"
	assert.ErrorContains(t, validateFlags(cfg), "invalid log format")

	cfg = valid()
	cfg.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	assert.ErrorContains(t, validateFlags(cfg), "config file not found")

	cfg = valid()
	cfg.ShutdownTimeout = 0
	assert.ErrorContains(t, validateFlags(cfg), "invalid shutdown timeout")

	cfg = valid()
	cfg.LogLevel = "verbose"
	cfg.ShowVersion = true
	assert.NoError(t, validateFlags(cfg))
}

func TestRun_Version(t *testing.T) {
	var out syncBuffer
	require.NoError(t, run(context.Background(), []string{"--version"}, &out))
	assert.Contains(t, out.String(), "stagerun version "+Version)
}

func TestRun_DefaultPipeline(t *testing.T) {
	var out syncBuffer
	require.NoError(t, run(context.Background(), []string{"--log-format=text"}, &out))
	assert.Contains(t, out.String(), "Pipeline finished")
	assert.Contains(t, out.String(), "result=55")
}

func TestRun_ConfigFile(t *testing.T) {
	path := writeConfig(t, "evens.yaml", evensPipeline)

	var out syncBuffer
	require.NoError(t, run(context.Background(), []string{"--config", path, "--log-format=text"}, &out))
	assert.Contains(t, out.String(), "graph=evens")
	assert.Contains(t, out.String(), "result=30")
	assert.Contains(t, out.String(), "stage=range pushed=10 failures=0")
	assert.Contains(t, out.String(), "stage=filter-0 pushed=5 failures=0")
}

func TestRun_Validate(t *testing.T) {
	path := writeConfig(t, "evens.yaml", evensPipeline)

	var out syncBuffer
	require.NoError(t, run(context.Background(), []string{"--config", path, "--validate", "--log-format=text"}, &out))
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.NotContains(t, out.String(), "Pipeline finished")
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "bad.yaml", `
pipeline:
  source:
    type: range
  sink:
    type: teleport
`)

	err := run(context.Background(), []string{"--config", path}, &syncBuffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_ServesMetricsWhileRunning(t *testing.T) {
	path := writeConfig(t, "evens.yaml", evensPipeline)

	var out syncBuffer
	err := run(context.Background(),
		[]string{"--config", path, "--metrics-addr", "127.0.0.1:0", "--log-format=text"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Serving metrics")
	assert.Contains(t, out.String(), "result=30")
}

func TestConnectToNATS_GivesUpOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	monitor := health.NewMonitor()
	cfg := config.NATSConfig{URLs: []string{"nats://127.0.0.1:1"}, MaxReconnects: 0}

	_, err := connectToNATS(ctx, cfg, metric.NewMetricsRegistry(), monitor, quietLogger())
	require.Error(t, err)

	st, ok := monitor.Get("nats")
	require.True(t, ok)
	assert.True(t, st.IsUnhealthy())
}

func TestNATSOptions(t *testing.T) {
	monitor := health.NewMonitor()
	logger := quietLogger()

	base := natsOptions(config.NATSConfig{}, nil, monitor, logger)
	assert.Len(t, base, 7)

	full := config.NATSConfig{
		ReconnectWait: config.Duration(time.Second),
		Timeout:       config.Duration(2 * time.Second),
		DrainTimeout:  config.Duration(5 * time.Second),
		Username:      "user",
		Password:      "secret",
		Token:         "token",
		TLS:           config.TLSConfig{Enabled: true, CertFile: "client.pem", KeyFile: "client.key", CAFile: "ca.pem"},
	}
	opts := natsOptions(full, metric.NewMetricsRegistry(), monitor, logger)
	assert.Len(t, opts, len(base)+6)
	_, err := natsclient.NewClient("nats://127.0.0.1:1", opts...)
	require.NoError(t, err)

	full.TLS.KeyFile = ""
	_, err = natsclient.NewClient("nats://127.0.0.1:1", natsOptions(full, nil, monitor, logger)...)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig, "client certificate needs its key")
}

func TestRunPipeline_ReportsHealth(t *testing.T) {
	monitor := health.NewMonitor()
	cfg := rangeConfig(1, 3)

	require.NoError(t, runPipeline(context.Background(), cfg, time.Second, nil,
		metric.NewMetricsRegistry(), monitor, quietLogger()))

	st, ok := monitor.Get("pipeline")
	require.True(t, ok)
	assert.True(t, st.IsHealthy())
	assert.Equal(t, "finished", st.Message)
}
