package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/nvsmiplot/internal/sampler"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func testSession() sampler.Session {
	return sampler.Session{
		Started:  time.Unix(1791972000, 0),
		Duration: 2500 * time.Millisecond,
		Stats:    sampler.Stats{Chunks: 40, Accepted: 3, Unmatched: 36, Rejected: 1},
		Samples: []sampler.Sample{
			{Elapsed: 0.2, GPU: intPtr(0), GPUUtilization: intPtr(15), TemperatureC: intPtr(45)},
			{Elapsed: 0.3, GPU: intPtr(1), GPUUtilization: intPtr(0), MemoryUtilization: floatPtr(0)},
			{Elapsed: 1.2, GPU: intPtr(0), GPUUtilization: intPtr(97)},
		},
	}
}

func TestCollectorReportsLatestValuePerGPU(t *testing.T) {
	t.Parallel()

	collector := newSessionCollector(testSession(), map[int]string{0: "GPU 0 (RTX 3090)"})

	expected := `
# HELP nvsmiplot_gpu_temperature_celsius Last observed GPU temperature in Celsius.
# TYPE nvsmiplot_gpu_temperature_celsius gauge
nvsmiplot_gpu_temperature_celsius{gpu="0",name="GPU 0 (RTX 3090)"} 45
# HELP nvsmiplot_gpu_utilization_percent Last observed GPU utilization percentage.
# TYPE nvsmiplot_gpu_utilization_percent gauge
nvsmiplot_gpu_utilization_percent{gpu="0",name="GPU 0 (RTX 3090)"} 97
nvsmiplot_gpu_utilization_percent{gpu="1",name=""} 0
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"nvsmiplot_gpu_utilization_percent",
		"nvsmiplot_gpu_temperature_celsius",
	)
	require.NoError(t, err)
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nvsmiplot.prom")
	require.NoError(t, WriteTextfile(path, testSession(), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "nvsmiplot_session_samples_total 3")
	assert.Contains(t, text, "nvsmiplot_session_rejected_total 1")
	assert.Contains(t, text, "nvsmiplot_session_duration_seconds 2.5")
	assert.Contains(t, text, `nvsmiplot_build_info{commit="",version="dev"} 1`)
	assert.Contains(t, text, `nvsmiplot_gpu_memory_utilization_percent{gpu="1",name=""} 0`)
}

func TestWriteTextfileUnknownGPU(t *testing.T) {
	t.Parallel()

	session := sampler.Session{Samples: []sampler.Sample{{Elapsed: 1, TemperatureC: intPtr(50)}}}
	path := filepath.Join(t.TempDir(), "nvsmiplot.prom")
	require.NoError(t, WriteTextfile(path, session, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nvsmiplot_gpu_temperature_celsius{gpu="unknown",name=""} 50`)
}
