// Package render draws a finished sampling session as a line chart.
package render

import (
	"errors"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/skobkin/nvsmiplot/internal/config"
	"github.com/skobkin/nvsmiplot/internal/sampler"
)

// ErrNoData is returned when the session holds nothing to draw.
var ErrNoData = errors.New("no data collected")

const (
	title  = "NVIDIA GPU Metrics Over Time"
	xLabel = "Time (s)"
	yLabel = "Value"

	defaultWidth  = 10 * vg.Inch
	defaultHeight = 6 * vg.Inch
)

// Options controls chart output.
type Options struct {
	Path    string
	Metrics config.MetricSet
	// Names maps device indexes to legend labels. Missing entries fall back to "GPU <n>".
	Names  map[int]string
	Width  vg.Length
	Height vg.Length
}

// Series is one labeled line, split into segments wherever a value was absent.
type Series struct {
	Label    string
	Segments []plotter.XYs
}

type metric struct {
	single   string
	perGPU   string
	extract  func(sampler.Sample) (float64, bool)
	selected func(config.MetricSet) bool
}

var metrics = []metric{
	{
		single: "GPU Utilization",
		perGPU: "Utilization",
		extract: func(s sampler.Sample) (float64, bool) {
			if s.GPUUtilization == nil {
				return 0, false
			}
			return float64(*s.GPUUtilization), true
		},
		selected: func(m config.MetricSet) bool { return m.GPUUtilization },
	},
	{
		single: "Memory Utilization",
		perGPU: "Memory Utilization",
		extract: func(s sampler.Sample) (float64, bool) {
			if s.MemoryUtilization == nil {
				return 0, false
			}
			return *s.MemoryUtilization, true
		},
		selected: func(m config.MetricSet) bool { return m.MemoryUtilization },
	},
	{
		single: "Temperature",
		perGPU: "Temperature",
		extract: func(s sampler.Sample) (float64, bool) {
			if s.TemperatureC == nil {
				return 0, false
			}
			return float64(*s.TemperatureC), true
		},
		selected: func(m config.MetricSet) bool { return m.Temperature },
	},
}

// Render writes the chart to opts.Path, replacing any existing file. The image
// format follows the file extension (png, svg, pdf, jpg, ...).
func Render(session sampler.Session, opts Options) error {
	if session.Empty() {
		return ErrNoData
	}
	if opts.Path == "" {
		return fmt.Errorf("output path must not be empty")
	}

	series := BuildSeries(session, opts.Metrics, opts.Names)
	if len(series) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.X.Min = 0
	p.Add(plotter.NewGrid())

	for i, s := range series {
		for j, segment := range s.Segments {
			line, points, err := plotter.NewLinePoints(segment)
			if err != nil {
				return fmt.Errorf("series %q: %w", s.Label, err)
			}
			line.LineStyle.Color = plotutil.Color(i)
			line.LineStyle.Width = vg.Points(1.5)
			points.GlyphStyle.Color = plotutil.Color(i)
			points.GlyphStyle.Shape = plotutil.Shape(i)
			points.GlyphStyle.Radius = vg.Points(2)
			p.Add(line, points)
			if j == 0 {
				p.Legend.Add(s.Label, line, points)
			}
		}
	}
	p.Legend.Top = true

	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	if err := p.Save(width, height, opts.Path); err != nil {
		return fmt.Errorf("save plot %s: %w", opts.Path, err)
	}
	return nil
}

// BuildSeries produces one series per enabled metric with at least one value,
// and per device when more than one device was observed.
func BuildSeries(session sampler.Session, enabled config.MetricSet, names map[int]string) []Series {
	gpus := session.GPUs()
	perGPU := len(gpus) > 1

	var out []Series
	for _, gpu := range gpus {
		for _, m := range metrics {
			if !m.selected(enabled) {
				continue
			}
			segments := collectSegments(session.Samples, gpu, perGPU, m.extract)
			if len(segments) == 0 {
				continue
			}
			label := m.single
			if perGPU {
				label = deviceLabel(gpu, names) + " " + m.perGPU
			}
			out = append(out, Series{Label: label, Segments: segments})
		}
	}
	return out
}

func collectSegments(samples []sampler.Sample, gpu int, filter bool, extract func(sampler.Sample) (float64, bool)) []plotter.XYs {
	var (
		segments []plotter.XYs
		current  plotter.XYs
	)
	for _, sample := range samples {
		if filter && sampleGPU(sample) != gpu {
			continue
		}
		value, ok := extract(sample)
		if !ok {
			if len(current) > 0 {
				segments = append(segments, current)
				current = nil
			}
			continue
		}
		current = append(current, plotter.XY{X: sample.Elapsed, Y: value})
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}

func sampleGPU(s sampler.Sample) int {
	if s.GPU == nil {
		return -1
	}
	return *s.GPU
}

func deviceLabel(gpu int, names map[int]string) string {
	if gpu < 0 {
		return "Unknown GPU"
	}
	if name, ok := names[gpu]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("GPU %d", gpu)
}
