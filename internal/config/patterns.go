package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Default field patterns for the nvidia-smi table report. Revisions of the report
// format differ in column padding, so none of them anchor on the cell borders.
const (
	DefaultGPUUtilizationPattern = `(\d+)%\s+Default`
	DefaultMemoryPattern         = `(\d+)\s*MiB\s*/\s*(\d+)\s*MiB`
	DefaultTemperaturePattern    = `(\d+)C\s+P\d+`
	DefaultDevicePattern         = `\|\s+(\d+)\s+(.+?)\s+(?:On|Off)\s+\|\s+([0-9A-Fa-f]{4,8}:[0-9A-Fa-f]{2}:[0-9A-Fa-f]{2}\.[0-9A-Fa-f])`
)

// PatternConfig holds the regular expressions used to pull fields out of the
// monitoring tool's text output.
type PatternConfig struct {
	GPUUtilization string `yaml:"gpu_utilization"`
	Memory         string `yaml:"memory"`
	Temperature    string `yaml:"temperature"`
	Device         string `yaml:"device"`
}

// DefaultPatterns returns the built-in pattern set.
func DefaultPatterns() PatternConfig {
	return PatternConfig{
		GPUUtilization: DefaultGPUUtilizationPattern,
		Memory:         DefaultMemoryPattern,
		Temperature:    DefaultTemperaturePattern,
		Device:         DefaultDevicePattern,
	}
}

// LoadPatterns reads a YAML pattern file. Keys left out keep their default pattern.
func LoadPatterns(path string) (PatternConfig, error) {
	patterns := DefaultPatterns()

	data, err := os.ReadFile(path)
	if err != nil {
		return PatternConfig{}, fmt.Errorf("read pattern file: %w", err)
	}

	var override PatternConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return PatternConfig{}, fmt.Errorf("parse pattern file: %w", err)
	}

	if override.GPUUtilization != "" {
		patterns.GPUUtilization = override.GPUUtilization
	}
	if override.Memory != "" {
		patterns.Memory = override.Memory
	}
	if override.Temperature != "" {
		patterns.Temperature = override.Temperature
	}
	if override.Device != "" {
		patterns.Device = override.Device
	}

	if err := patterns.Validate(); err != nil {
		return PatternConfig{}, fmt.Errorf("pattern file %s: %w", path, err)
	}

	return patterns, nil
}

// Validate compiles every pattern and checks its capture group count.
func (p PatternConfig) Validate() error {
	var errs []error

	checks := []struct {
		name   string
		expr   string
		groups int
	}{
		{"gpu_utilization", p.GPUUtilization, 1},
		{"memory", p.Memory, 2},
		{"temperature", p.Temperature, 1},
		{"device", p.Device, 3},
	}

	for _, check := range checks {
		if check.expr == "" {
			errs = append(errs, fmt.Errorf("%s: pattern must not be empty", check.name))
			continue
		}
		re, err := regexp.Compile(check.expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", check.name, err))
			continue
		}
		if re.NumSubexp() < check.groups {
			errs = append(errs, fmt.Errorf("%s: need %d capture groups, got %d", check.name, check.groups, re.NumSubexp()))
		}
	}

	return errors.Join(errs...)
}
