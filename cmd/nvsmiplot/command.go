package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/skobkin/nvsmiplot/internal/app"
	"github.com/skobkin/nvsmiplot/internal/config"
	"github.com/skobkin/nvsmiplot/internal/version"
)

// newCommand builds the root command. Flag defaults come from base, which
// already carries the NVSMIPLOT_* environment overrides.
func newCommand(base config.Config, stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "nvsmiplot",
		Usage: "Sample nvidia-smi for a while and plot GPU metrics over time",
		Description: `Runs "nvidia-smi -l 1", extracts GPU utilization, memory utilization and
temperature from its output and saves a line chart when sampling ends.

Sampling ends when the timeout elapses, the tool exits or the process is
interrupted (Ctrl+C). Samples collected before an interrupt are still plotted.

Every flag can also be set through the NVSMIPLOT_* environment variables.`,
		Version:   version.Current().String(),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "gpu-util",
				Usage: "Plot GPU utilization",
				Value: base.Metrics.GPUUtilization,
			},
			&cli.BoolFlag{
				Name:  "mem-util",
				Usage: "Plot memory utilization",
				Value: base.Metrics.MemoryUtilization,
			},
			&cli.BoolFlag{
				Name:  "temp",
				Usage: "Plot GPU temperature",
				Value: base.Metrics.Temperature,
			},
			&cli.StringFlag{
				Name:    "filename",
				Aliases: []string{"o"},
				Usage:   "Chart output file; the extension selects the image format",
				Value:   base.OutputPath,
			},
			&cli.StringFlag{
				Name:  "timeout",
				Usage: "Sampling time in seconds or as a duration (0 runs until interrupted)",
				Value: formatSeconds(base.Timeout.Seconds()),
			},
			&cli.StringFlag{
				Name:  "read-mode",
				Usage: "How tool output is chunked: line or report",
				Value: string(base.ReadMode),
			},
			&cli.BoolFlag{
				Name:  "keep-empty",
				Usage: "Record chunks without any metric as empty samples",
				Value: base.KeepEmpty,
			},
			&cli.StringFlag{
				Name:  "patterns",
				Usage: "YAML file overriding the extraction patterns",
				Value: base.PatternsFile,
			},
			&cli.StringFlag{
				Name:  "tool",
				Usage: "Monitoring tool to run",
				Value: base.Tool,
			},
			&cli.StringFlag{
				Name:  "tool-args",
				Usage: "Arguments passed to the monitoring tool",
				Value: strings.Join(base.ToolArgs, " "),
			},
			&cli.DurationFlag{
				Name:  "stop-grace",
				Usage: "Time the tool gets to exit after SIGTERM before it is killed",
				Value: base.StopGrace,
			},
			&cli.StringFlag{
				Name:  "export",
				Usage: "Write the collected samples to this file",
				Value: base.ExportPath,
			},
			&cli.StringFlag{
				Name:  "export-format",
				Usage: "Export format: json, yaml or csv (default: from the file extension)",
				Value: base.ExportFormat,
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write a Prometheus textfile with the session summary",
				Value: base.MetricsFile,
			},
			&cli.StringFlag{
				Name:  "sysfs",
				Usage: "sysfs root used to resolve GPU names",
				Value: base.SysfsRoot,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
				Value: strings.ToLower(base.LogLevel.String()),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := configFromCommand(base, cmd)
			if err != nil {
				return err
			}

			handler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel})
			logger := slog.New(handler)

			return app.Run(ctx, logger, cfg, stdout)
		},
	}
}

// configFromCommand applies explicitly set flags on top of base.
func configFromCommand(base config.Config, cmd *cli.Command) (config.Config, error) {
	cfg := base
	cfg.ToolArgs = append([]string(nil), base.ToolArgs...)

	cfg.Metrics = config.MetricSet{
		GPUUtilization:    cmd.Bool("gpu-util"),
		MemoryUtilization: cmd.Bool("mem-util"),
		Temperature:       cmd.Bool("temp"),
	}
	cfg.OutputPath = cmd.String("filename")
	cfg.KeepEmpty = cmd.Bool("keep-empty")
	cfg.Tool = cmd.String("tool")
	cfg.StopGrace = cmd.Duration("stop-grace")
	cfg.ExportPath = cmd.String("export")
	cfg.ExportFormat = strings.ToLower(cmd.String("export-format"))
	cfg.MetricsFile = cmd.String("metrics-file")
	cfg.SysfsRoot = cmd.String("sysfs")
	cfg.ReadMode = config.ReadMode(strings.ToLower(cmd.String("read-mode")))

	if cmd.IsSet("tool-args") {
		cfg.ToolArgs = strings.Fields(cmd.String("tool-args"))
	}

	timeout, err := config.ParseSeconds(strings.TrimSpace(cmd.String("timeout")))
	if err != nil {
		return config.Config{}, fmt.Errorf("parse --timeout: %w", err)
	}
	cfg.Timeout = timeout

	level, err := config.ParseLogLevel(cmd.String("log-level"))
	if err != nil {
		return config.Config{}, fmt.Errorf("parse --log-level: %w", err)
	}
	cfg.LogLevel = level

	if patternsFile := cmd.String("patterns"); patternsFile != base.PatternsFile {
		cfg.PatternsFile = patternsFile
		cfg.Patterns = config.DefaultPatterns()
		if patternsFile != "" {
			patterns, err := config.LoadPatterns(patternsFile)
			if err != nil {
				return config.Config{}, err
			}
			cfg.Patterns = patterns
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func formatSeconds(seconds float64) string {
	return fmt.Sprintf("%g", seconds)
}
