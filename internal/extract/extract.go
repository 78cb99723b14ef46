// Package extract pulls GPU metrics out of chunks of nvidia-smi text output.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/skobkin/nvsmiplot/internal/config"
)

// ErrZeroMemoryTotal is returned when a chunk reports a total memory of zero.
// The whole sample is rejected rather than reporting an infinite utilization.
var ErrZeroMemoryTotal = errors.New("memory total reported as zero")

// Device identifies the GPU a block of report rows belongs to.
type Device struct {
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`
	BusID string `json:"bus_id" yaml:"bus_id"`
}

// Reading holds the fields found in one chunk. Nil fields were not present.
type Reading struct {
	GPUUtilization    *int
	MemoryUsedMiB     *uint64
	MemoryTotalMiB    *uint64
	MemoryUtilization *float64
	TemperatureC      *int
	Device            *Device
}

// HasMetrics reports whether at least one metric field was found.
func (r Reading) HasMetrics() bool {
	return r.GPUUtilization != nil || r.MemoryUtilization != nil || r.TemperatureC != nil
}

// Extractor applies a fixed set of compiled patterns to chunks of text.
type Extractor struct {
	gpuUtil *regexp.Regexp
	memory  *regexp.Regexp
	temp    *regexp.Regexp
	device  *regexp.Regexp
}

// New compiles the configured patterns.
func New(cfg config.PatternConfig) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid patterns: %w", err)
	}
	return &Extractor{
		gpuUtil: regexp.MustCompile(cfg.GPUUtilization),
		memory:  regexp.MustCompile(cfg.Memory),
		temp:    regexp.MustCompile(cfg.Temperature),
		device:  regexp.MustCompile(cfg.Device),
	}, nil
}

// Sections splits a multi-device report at every device header row. Each
// section starts with its header; text before the first header is kept with
// the first section. A chunk without headers is returned whole.
func (e *Extractor) Sections(chunk string) []string {
	headers := e.device.FindAllStringIndex(chunk, -1)
	if len(headers) < 2 {
		return []string{chunk}
	}

	sections := make([]string, 0, len(headers))
	for i := range headers {
		start := headers[i][0]
		if i == 0 {
			start = 0
		}
		end := len(chunk)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		sections = append(sections, chunk[start:end])
	}
	return sections
}

// Extract locates each pattern independently within chunk. When a chunk holds
// several matches of a pattern only the first one is used.
func (e *Extractor) Extract(chunk string) (Reading, error) {
	var reading Reading

	if m := e.gpuUtil.FindStringSubmatch(chunk); m != nil {
		if value, err := strconv.Atoi(m[1]); err == nil {
			reading.GPUUtilization = &value
		}
	}

	if m := e.temp.FindStringSubmatch(chunk); m != nil {
		if value, err := strconv.Atoi(m[1]); err == nil {
			reading.TemperatureC = &value
		}
	}

	if m := e.device.FindStringSubmatch(chunk); m != nil {
		if index, err := strconv.Atoi(m[1]); err == nil {
			reading.Device = &Device{
				Index: index,
				Name:  strings.TrimSpace(m[2]),
				BusID: m[3],
			}
		}
	}

	if m := e.memory.FindStringSubmatch(chunk); m != nil {
		used, usedErr := strconv.ParseUint(m[1], 10, 64)
		total, totalErr := strconv.ParseUint(m[2], 10, 64)
		if usedErr == nil && totalErr == nil {
			if total == 0 {
				return reading, ErrZeroMemoryTotal
			}
			util := 100 * float64(used) / float64(total)
			reading.MemoryUsedMiB = &used
			reading.MemoryTotalMiB = &total
			reading.MemoryUtilization = &util
		}
	}

	return reading, nil
}
