// Package export writes a finished session to disk as JSON, YAML or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skobkin/nvsmiplot/internal/gpu"
	"github.com/skobkin/nvsmiplot/internal/sampler"
)

// Format represents the export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// IsUnknown reports whether the format is not supported.
func (f Format) IsUnknown() bool {
	switch f {
	case FormatJSON, FormatYAML, FormatCSV:
		return false
	default:
		return true
	}
}

// SupportedFormats lists the accepted format names.
func SupportedFormats() []string {
	return []string{string(FormatJSON), string(FormatYAML), string(FormatCSV)}
}

// FormatFromPath infers the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("cannot infer export format from %q, use one of %s", path, strings.Join(SupportedFormats(), ", "))
	}
}

// ResolveFormat returns the explicit format when set, otherwise the one
// inferred from path.
func ResolveFormat(explicit, path string) (Format, error) {
	if explicit == "" {
		return FormatFromPath(path)
	}
	format := Format(strings.ToLower(explicit))
	if format.IsUnknown() {
		return "", fmt.Errorf("unsupported export format %q, use one of %s", explicit, strings.Join(SupportedFormats(), ", "))
	}
	return format, nil
}

// Document is the exported view of a session.
type Document struct {
	sampler.Session `yaml:",inline"`
	GPUs            []gpu.Info `json:"gpus,omitempty" yaml:"gpus,omitempty"`
}

var csvHeader = []string{
	"elapsed_s",
	"gpu",
	"gpu_util_pct",
	"mem_util_pct",
	"mem_used_mib",
	"mem_total_mib",
	"temp_c",
}

// Write serializes doc to w. CSV carries only the sample table.
func Write(w io.Writer, format Format, doc Document) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close yaml encoder: %w", err)
		}
		return nil
	case FormatCSV:
		return writeCSV(w, doc.Samples)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// WriteFile creates (or truncates) path and writes doc into it.
func WriteFile(path string, format Format, doc Document) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close export file: %w", closeErr))
		}
	}()
	return Write(file, format, doc)
}

func writeCSV(w io.Writer, samples []sampler.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range samples {
		record := []string{
			strconv.FormatFloat(s.Elapsed, 'f', 3, 64),
			formatInt(s.GPU),
			formatInt(s.GPUUtilization),
			formatFloat(s.MemoryUtilization),
			formatUint(s.MemoryUsedMiB),
			formatUint(s.MemoryTotalMiB),
			formatInt(s.TemperatureC),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatUint(v *uint64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(*v, 10)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
