package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/nvsmiplot/internal/config"
)

// fakeTool writes a shell script that prints body and exits.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	transcript := filepath.Join(dir, "transcript.txt")
	require.NoError(t, os.WriteFile(transcript, []byte(body), 0o600))

	script := filepath.Join(dir, "nvidia-smi")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat '"+transcript+"'\n"), 0o700))
	return script
}

func testConfig(t *testing.T, tool string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Tool = tool
	cfg.ToolArgs = nil
	cfg.Timeout = 30 * time.Second
	cfg.SysfsRoot = t.TempDir()
	cfg.OutputPath = filepath.Join(t.TempDir(), "output.png")
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunRendersPlot(t *testing.T) {
	t.Parallel()

	transcript, err := os.ReadFile(filepath.Join("..", "sampler", "testdata", "nvidia-smi-470-2gpu-x2.txt"))
	require.NoError(t, err)

	cfg := testConfig(t, fakeTool(t, string(transcript)))
	dir := t.TempDir()
	cfg.ExportPath = filepath.Join(dir, "session.json")
	cfg.MetricsFile = filepath.Join(dir, "nvsmiplot.prom")

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), discardLogger(), cfg, &out))

	assert.Equal(t, "Plot saved to "+cfg.OutputPath+"\n", out.String())

	image, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(image, []byte("\x89PNG")))

	exported, err := os.ReadFile(cfg.ExportPath)
	require.NoError(t, err)
	assert.Contains(t, string(exported), `"stop_reason": "exited"`)
	assert.Contains(t, string(exported), `"bus_id": "00000000:02:00.0"`)

	metricsText, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), "nvsmiplot_session_samples_total 4")
}

func TestRunEmptySession(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, fakeTool(t, "No devices were found\n"))

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), discardLogger(), cfg, &out))

	assert.Equal(t, "No data collected.\n", out.String())
	_, err := os.Stat(cfg.OutputPath)
	assert.True(t, os.IsNotExist(err), "no image must be written for an empty session")
}

func TestRunMissingTool(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing-nvidia-smi"))

	var out bytes.Buffer
	err := Run(context.Background(), discardLogger(), cfg, &out)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not found"), err.Error())
	assert.Empty(t, out.String())
}

func TestRunRejectsUnknownExportFormat(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, fakeTool(t, ""))
	cfg.ExportPath = filepath.Join(t.TempDir(), "session.bin")

	err := Run(context.Background(), discardLogger(), cfg, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export format")
}
