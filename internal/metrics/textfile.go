// Package metrics publishes a finished session in the Prometheus text format
// for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/nvsmiplot/internal/sampler"
	"github.com/skobkin/nvsmiplot/internal/version"
)

const namespace = "nvsmiplot"

type sessionCollector struct {
	session sampler.Session
	names   map[int]string
	metrics []gpuMetric
}

type gpuMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(sample sampler.Sample) (float64, bool)
}

func newSessionCollector(session sampler.Session, names map[int]string) prometheus.Collector {
	collector := &sessionCollector{
		session: session,
		names:   names,
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpu", name),
			help,
			[]string{"gpu", "name"},
			nil,
		)
	}

	collector.metrics = []gpuMetric{
		{
			desc:      desc("utilization_percent", "Last observed GPU utilization percentage."),
			valueType: prometheus.GaugeValue,
			extract: func(sample sampler.Sample) (float64, bool) {
				if sample.GPUUtilization == nil {
					return 0, false
				}
				return float64(*sample.GPUUtilization), true
			},
		},
		{
			desc:      desc("memory_utilization_percent", "Last observed memory utilization percentage (used / total)."),
			valueType: prometheus.GaugeValue,
			extract: func(sample sampler.Sample) (float64, bool) {
				if sample.MemoryUtilization == nil {
					return 0, false
				}
				return *sample.MemoryUtilization, true
			},
		},
		{
			desc:      desc("memory_used_bytes", "Last observed framebuffer memory usage in bytes."),
			valueType: prometheus.GaugeValue,
			extract: func(sample sampler.Sample) (float64, bool) {
				if sample.MemoryUsedMiB == nil {
					return 0, false
				}
				return float64(*sample.MemoryUsedMiB) * 1024 * 1024, true
			},
		},
		{
			desc:      desc("memory_total_bytes", "Framebuffer memory capacity in bytes."),
			valueType: prometheus.GaugeValue,
			extract: func(sample sampler.Sample) (float64, bool) {
				if sample.MemoryTotalMiB == nil {
					return 0, false
				}
				return float64(*sample.MemoryTotalMiB) * 1024 * 1024, true
			},
		},
		{
			desc:      desc("temperature_celsius", "Last observed GPU temperature in Celsius."),
			valueType: prometheus.GaugeValue,
			extract: func(sample sampler.Sample) (float64, bool) {
				if sample.TemperatureC == nil {
					return 0, false
				}
				return float64(*sample.TemperatureC), true
			},
		},
	}

	return collector
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

// Collect emits, per device, the most recent present value of every metric.
func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	for _, gpu := range c.session.GPUs() {
		gpuLabel, nameLabel := c.labels(gpu)
		for _, metric := range c.metrics {
			value, ok := c.latest(gpu, metric.extract)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, value, gpuLabel, nameLabel)
		}
	}
}

func (c *sessionCollector) latest(gpu int, extract func(sampler.Sample) (float64, bool)) (float64, bool) {
	for i := len(c.session.Samples) - 1; i >= 0; i-- {
		sample := c.session.Samples[i]
		id := -1
		if sample.GPU != nil {
			id = *sample.GPU
		}
		if id != gpu {
			continue
		}
		if value, ok := extract(sample); ok {
			return value, true
		}
	}
	return 0, false
}

func (c *sessionCollector) labels(gpu int) (string, string) {
	if gpu < 0 {
		return "unknown", ""
	}
	return strconv.Itoa(gpu), c.names[gpu]
}

// NewRegistry builds a registry describing the session.
func NewRegistry(session sampler.Session, names map[int]string) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	build := version.Current()

	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "build_info",
			Help:        "Build metadata of the nvsmiplot binary that produced this file.",
			ConstLabels: prometheus.Labels{"version": build.Version, "commit": build.Commit},
		}, func() float64 {
			return 1
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "samples_total",
			Help:      "Samples collected during the session.",
		}, func() float64 {
			return float64(len(session.Samples))
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "chunks_total",
			Help:      "Chunks of tool output read during the session.",
		}, func() float64 {
			return float64(session.Stats.Chunks)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rejected_total",
			Help:      "Chunks rejected because they reported an unusable value.",
		}, func() float64 {
			return float64(session.Stats.Rejected)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Wall time between tool start and session end.",
		}, func() float64 {
			return session.Duration.Seconds()
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "start_timestamp_seconds",
			Help:      "Unix timestamp of the session start.",
		}, func() float64 {
			if session.Started.IsZero() {
				return 0
			}
			return float64(session.Started.Unix())
		}),
		newSessionCollector(session, names),
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}
	return registry
}

// WriteTextfile writes the session metrics to path. The file is replaced
// atomically so a concurrent scrape never sees a partial file.
func WriteTextfile(path string, session sampler.Session, names map[int]string) error {
	if err := prometheus.WriteToTextfile(path, NewRegistry(session, names)); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
