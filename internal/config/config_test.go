package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nvidia-smi", cfg.Tool)
	assert.Equal(t, []string{"-l", "1"}, cfg.ToolArgs)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, ReadModeLine, cfg.ReadMode)
	assert.Equal(t, "output.png", cfg.OutputPath)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "/sys", cfg.SysfsRoot)
	assert.True(t, cfg.Metrics.GPUUtilization)
	assert.True(t, cfg.Metrics.MemoryUtilization)
	assert.True(t, cfg.Metrics.Temperature)
	assert.False(t, cfg.KeepEmpty)
	assert.Equal(t, DefaultPatterns(), cfg.Patterns)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NVSMIPLOT_TOOL", "/opt/nvidia/bin/nvidia-smi")
	t.Setenv("NVSMIPLOT_TOOL_ARGS", "-l 2")
	t.Setenv("NVSMIPLOT_TIMEOUT", "30")
	t.Setenv("NVSMIPLOT_STOP_GRACE", "500ms")
	t.Setenv("NVSMIPLOT_READ_MODE", "REPORT")
	t.Setenv("NVSMIPLOT_KEEP_EMPTY", "true")
	t.Setenv("NVSMIPLOT_GPU_UTIL", "false")
	t.Setenv("NVSMIPLOT_MEM_UTIL", "true")
	t.Setenv("NVSMIPLOT_TEMP", "false")
	t.Setenv("NVSMIPLOT_FILENAME", "chart.svg")
	t.Setenv("NVSMIPLOT_EXPORT", "session.csv")
	t.Setenv("NVSMIPLOT_EXPORT_FORMAT", "CSV")
	t.Setenv("NVSMIPLOT_METRICS_FILE", "/tmp/nvsmiplot.prom")
	t.Setenv("NVSMIPLOT_SYSFS_ROOT", "/tmp/sys")
	t.Setenv("NVSMIPLOT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/opt/nvidia/bin/nvidia-smi", cfg.Tool)
	assert.Equal(t, []string{"-l", "2"}, cfg.ToolArgs)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.StopGrace)
	assert.Equal(t, ReadModeReport, cfg.ReadMode)
	assert.True(t, cfg.KeepEmpty)
	assert.False(t, cfg.Metrics.GPUUtilization)
	assert.True(t, cfg.Metrics.MemoryUtilization)
	assert.False(t, cfg.Metrics.Temperature)
	assert.Equal(t, "chart.svg", cfg.OutputPath)
	assert.Equal(t, "session.csv", cfg.ExportPath)
	assert.Equal(t, "csv", cfg.ExportFormat)
	assert.Equal(t, "/tmp/nvsmiplot.prom", cfg.MetricsFile)
	assert.Equal(t, "/tmp/sys", cfg.SysfsRoot)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadTimeoutAcceptsDuration(t *testing.T) {
	t.Setenv("NVSMIPLOT_TIMEOUT", "1m30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
}

func TestLoadZeroTimeoutMeansUntilInterrupted(t *testing.T) {
	t.Setenv("NVSMIPLOT_TIMEOUT", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadInvalidEnv(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"InvalidTimeout", "NVSMIPLOT_TIMEOUT", "soon"},
		{"NegativeTimeout", "NVSMIPLOT_TIMEOUT", "-1"},
		{"InvalidStopGrace", "NVSMIPLOT_STOP_GRACE", "later"},
		{"NonPositiveStopGrace", "NVSMIPLOT_STOP_GRACE", "0s"},
		{"InvalidReadMode", "NVSMIPLOT_READ_MODE", "bytes"},
		{"InvalidKeepEmpty", "NVSMIPLOT_KEEP_EMPTY", "maybe"},
		{"InvalidGPUUtil", "NVSMIPLOT_GPU_UTIL", "yes please"},
		{"InvalidLogLevel", "NVSMIPLOT_LOG_LEVEL", "loud"},
		{"MissingPatternFile", "NVSMIPLOT_PATTERNS", "/nonexistent/patterns.yaml"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			assert.Error(t, err, "expected error for %s=%q", tc.key, tc.val)
		})
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"EmptyTool", func(c *Config) { c.Tool = " " }},
		{"NegativeTimeout", func(c *Config) { c.Timeout = -time.Second }},
		{"ZeroGrace", func(c *Config) { c.StopGrace = 0 }},
		{"UnknownReadMode", func(c *Config) { c.ReadMode = "chunk" }},
		{"EmptyOutput", func(c *Config) { c.OutputPath = "" }},
		{"BrokenPattern", func(c *Config) { c.Patterns.Temperature = `(\d+` }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMetricSetAny(t *testing.T) {
	assert.False(t, MetricSet{}.Any())
	assert.True(t, MetricSet{Temperature: true}.Any())
}
