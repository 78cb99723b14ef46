// Package app wires the sampling pipeline: sample, resolve devices, export and render.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/skobkin/nvsmiplot/internal/config"
	"github.com/skobkin/nvsmiplot/internal/export"
	"github.com/skobkin/nvsmiplot/internal/extract"
	"github.com/skobkin/nvsmiplot/internal/gpu"
	"github.com/skobkin/nvsmiplot/internal/metrics"
	"github.com/skobkin/nvsmiplot/internal/render"
	"github.com/skobkin/nvsmiplot/internal/sampler"
)

// Run executes one monitoring session and writes its outputs. User-facing
// results are printed to out; diagnostics go to the logger.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, out io.Writer) error {
	appLogger := baseLogger.With("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var exportFormat export.Format
	if cfg.ExportPath != "" {
		format, err := export.ResolveFormat(cfg.ExportFormat, cfg.ExportPath)
		if err != nil {
			return err
		}
		exportFormat = format
	}

	extractor, err := extract.New(cfg.Patterns)
	if err != nil {
		return err
	}

	s, err := sampler.New(sampler.OptionsFromConfig(cfg), extractor, baseLogger)
	if err != nil {
		return fmt.Errorf("init sampler: %w", err)
	}

	session, err := s.Run(ctx)
	if err != nil {
		return fmt.Errorf("run sampler: %w", err)
	}
	if session.StopReason == sampler.StopInterrupted {
		appLogger.Info("interrupted, keeping collected samples", "samples", len(session.Samples))
	}

	infos := gpu.Resolve(cfg.SysfsRoot, session.Devices, baseLogger.With("component", "gpu"))
	names := gpu.Names(infos)

	if cfg.ExportPath != "" {
		doc := export.Document{Session: session, GPUs: infos}
		if err := export.WriteFile(cfg.ExportPath, exportFormat, doc); err != nil {
			return err
		}
		appLogger.Info("session exported", "path", cfg.ExportPath, "format", exportFormat)
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile, session, names); err != nil {
			return err
		}
		appLogger.Info("metrics written", "path", cfg.MetricsFile)
	}

	err = render.Render(session, render.Options{
		Path:    cfg.OutputPath,
		Metrics: cfg.Metrics,
		Names:   names,
	})
	switch {
	case errors.Is(err, render.ErrNoData):
		_, _ = fmt.Fprintln(out, "No data collected.")
		return nil
	case err != nil:
		return fmt.Errorf("render: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Plot saved to %s\n", cfg.OutputPath)
	return nil
}
