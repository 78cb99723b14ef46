package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/skobkin/nvsmiplot/internal/config"
)

func parse(t *testing.T, base config.Config, args ...string) (config.Config, error) {
	t.Helper()

	cmd := newCommand(base, io.Discard, io.Discard)
	var got config.Config
	cmd.Action = func(_ context.Context, c *cli.Command) error {
		cfg, err := configFromCommand(base, c)
		got = cfg
		return err
	}
	err := cmd.Run(context.Background(), append([]string{"nvsmiplot"}, args...))
	return got, err
}

func TestFlagsDefaultToBase(t *testing.T) {
	t.Parallel()

	base := config.Default()
	cfg, err := parse(t, base)
	require.NoError(t, err)

	assert.Equal(t, base.Tool, cfg.Tool)
	assert.Equal(t, base.ToolArgs, cfg.ToolArgs)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "output.png", cfg.OutputPath)
	assert.Equal(t, base.Metrics, cfg.Metrics)
	assert.Equal(t, config.ReadModeLine, cfg.ReadMode)
	assert.Equal(t, base.Patterns, cfg.Patterns)
}

func TestFlagsOverrideBase(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, config.Default(),
		"--temp=false",
		"--mem-util=false",
		"--filename", "gpu.svg",
		"--timeout", "2.5",
		"--read-mode", "REPORT",
		"--tool-args", "-l 2",
		"--export", "run.csv",
		"--log-level", "debug",
	)
	require.NoError(t, err)

	assert.Equal(t, config.MetricSet{GPUUtilization: true}, cfg.Metrics)
	assert.Equal(t, "gpu.svg", cfg.OutputPath)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, config.ReadModeReport, cfg.ReadMode)
	assert.Equal(t, []string{"-l", "2"}, cfg.ToolArgs)
	assert.Equal(t, "run.csv", cfg.ExportPath)
	assert.Equal(t, "DEBUG", cfg.LogLevel.String())
}

func TestTimeoutZeroAndDuration(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, config.Default(), "--timeout", "0")
	require.NoError(t, err)
	assert.Zero(t, cfg.Timeout)

	cfg, err = parse(t, config.Default(), "--timeout", "1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
}

func TestInvalidFlags(t *testing.T) {
	t.Parallel()

	tests := map[string][]string{
		"negative timeout": {"--timeout=-1"},
		"bad timeout":      {"--timeout", "soon"},
		"bad read mode":    {"--read-mode", "xml"},
		"bad log level":    {"--log-level", "loud"},
		"empty filename":   {"--filename="},
		"missing patterns": {"--patterns", "/nonexistent/patterns.yaml"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := parse(t, config.Default(), args...)
			assert.Error(t, err)
		})
	}
}

func TestPatternsFlag(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("temperature: '(\\d+)C'\n"), 0o600))

	cfg, err := parse(t, config.Default(), "--patterns", path)
	require.NoError(t, err)
	assert.Equal(t, `(\d+)C`, cfg.Patterns.Temperature)
	assert.Equal(t, config.DefaultGPUUtilizationPattern, cfg.Patterns.GPUUtilization)
}

func TestVersionFlag(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := newCommand(config.Default(), &out, io.Discard)
	require.NoError(t, cmd.Run(context.Background(), []string{"nvsmiplot", "--version"}))
	assert.Contains(t, out.String(), "dev")
}
