package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReadMode selects how the monitoring tool's output is split into chunks.
type ReadMode string

const (
	// ReadModeLine hands every output line to the extractor on its own.
	ReadModeLine ReadMode = "line"
	// ReadModeReport hands every blank-line delimited block to the extractor.
	ReadModeReport ReadMode = "report"
)

// Valid reports whether the mode is known.
func (m ReadMode) Valid() bool {
	switch m {
	case ReadModeLine, ReadModeReport:
		return true
	default:
		return false
	}
}

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	Tool         string
	ToolArgs     []string
	Timeout      time.Duration
	StopGrace    time.Duration
	ReadMode     ReadMode
	KeepEmpty    bool
	Metrics      MetricSet
	OutputPath   string
	PatternsFile string
	Patterns     PatternConfig
	ExportPath   string
	ExportFormat string
	MetricsFile  string
	SysfsRoot    string
	LogLevel     slog.Level
}

// MetricSet selects which metrics are drawn on the chart.
type MetricSet struct {
	GPUUtilization    bool
	MemoryUtilization bool
	Temperature       bool
}

// Any reports whether at least one metric is enabled.
func (m MetricSet) Any() bool {
	return m.GPUUtilization || m.MemoryUtilization || m.Temperature
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Tool:      "nvidia-smi",
		ToolArgs:  []string{"-l", "1"},
		Timeout:   10 * time.Second,
		StopGrace: 2 * time.Second,
		ReadMode:  ReadModeLine,
		KeepEmpty: false,
		Metrics: MetricSet{
			GPUUtilization:    true,
			MemoryUtilization: true,
			Temperature:       true,
		},
		OutputPath: "output.png",
		Patterns:   DefaultPatterns(),
		SysfsRoot:  "/sys",
		LogLevel:   slog.LevelInfo,
	}
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Default()

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_TOOL")); value != "" {
		cfg.Tool = value
	}

	if value, ok := os.LookupEnv("NVSMIPLOT_TOOL_ARGS"); ok {
		cfg.ToolArgs = strings.Fields(value)
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_TIMEOUT")); value != "" {
		timeout, err := ParseSeconds(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse NVSMIPLOT_TIMEOUT: %w", err)
		}
		if timeout < 0 {
			return Config{}, fmt.Errorf("NVSMIPLOT_TIMEOUT must be >= 0")
		}
		cfg.Timeout = timeout
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_STOP_GRACE")); value != "" {
		grace, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse NVSMIPLOT_STOP_GRACE: %w", err)
		}
		if grace <= 0 {
			return Config{}, fmt.Errorf("NVSMIPLOT_STOP_GRACE must be > 0")
		}
		cfg.StopGrace = grace
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_READ_MODE")); value != "" {
		mode := ReadMode(strings.ToLower(value))
		if !mode.Valid() {
			return Config{}, fmt.Errorf("unsupported NVSMIPLOT_READ_MODE %q", value)
		}
		cfg.ReadMode = mode
	}

	boolVars := []struct {
		key string
		dst *bool
	}{
		{"NVSMIPLOT_KEEP_EMPTY", &cfg.KeepEmpty},
		{"NVSMIPLOT_GPU_UTIL", &cfg.Metrics.GPUUtilization},
		{"NVSMIPLOT_MEM_UTIL", &cfg.Metrics.MemoryUtilization},
		{"NVSMIPLOT_TEMP", &cfg.Metrics.Temperature},
	}
	for _, v := range boolVars {
		value := strings.TrimSpace(os.Getenv(v.key))
		if value == "" {
			continue
		}
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", v.key, err)
		}
		*v.dst = enabled
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_FILENAME")); value != "" {
		cfg.OutputPath = value
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_PATTERNS")); value != "" {
		cfg.PatternsFile = value
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_EXPORT")); value != "" {
		cfg.ExportPath = value
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_EXPORT_FORMAT")); value != "" {
		cfg.ExportFormat = strings.ToLower(value)
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_METRICS_FILE")); value != "" {
		cfg.MetricsFile = value
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_SYSFS_ROOT")); value != "" {
		cfg.SysfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("NVSMIPLOT_LOG_LEVEL")); value != "" {
		level, err := ParseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse NVSMIPLOT_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if cfg.PatternsFile != "" {
		patterns, err := LoadPatterns(cfg.PatternsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Patterns = patterns
	}

	return cfg, nil
}

// Validate checks values that may have been overridden after Load.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Tool) == "" {
		return fmt.Errorf("tool must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	if c.StopGrace <= 0 {
		return fmt.Errorf("stop grace must be > 0")
	}
	if !c.ReadMode.Valid() {
		return fmt.Errorf("unsupported read mode %q", c.ReadMode)
	}
	if strings.TrimSpace(c.OutputPath) == "" {
		return fmt.Errorf("output filename must not be empty")
	}
	return c.Patterns.Validate()
}

// ParseSeconds accepts either a bare number of seconds or a Go duration string.
func ParseSeconds(value string) (time.Duration, error) {
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return time.ParseDuration(value)
}

// ParseLogLevel maps a textual level onto slog levels.
func ParseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
