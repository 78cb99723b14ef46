package sampler

import (
	"time"

	"github.com/skobkin/nvsmiplot/internal/extract"
)

// Sample represents one timestamped observation. Pointer fields serialize as null when unavailable.
type Sample struct {
	Offset            time.Duration `json:"-" yaml:"-"`
	Elapsed           float64       `json:"elapsed_s" yaml:"elapsed_s"`
	GPU               *int          `json:"gpu" yaml:"gpu"`
	GPUUtilization    *int          `json:"gpu_util_pct" yaml:"gpu_util_pct"`
	MemoryUtilization *float64      `json:"mem_util_pct" yaml:"mem_util_pct"`
	MemoryUsedMiB     *uint64       `json:"mem_used_mib" yaml:"mem_used_mib"`
	MemoryTotalMiB    *uint64       `json:"mem_total_mib" yaml:"mem_total_mib"`
	TemperatureC      *int          `json:"temp_c" yaml:"temp_c"`
}

// StopReason tells why a session was finalized.
type StopReason string

const (
	StopTimeout     StopReason = "timeout"
	StopExited      StopReason = "exited"
	StopInterrupted StopReason = "interrupted"
)

// Stats counts what happened to the chunks read during a session. In report
// mode Accepted, Unmatched and Rejected count device sections, not reports.
type Stats struct {
	Chunks    int `json:"chunks" yaml:"chunks"`
	Accepted  int `json:"accepted" yaml:"accepted"`
	Unmatched int `json:"unmatched" yaml:"unmatched"`
	Rejected  int `json:"rejected" yaml:"rejected"`
}

// ToolInfo describes the child process a session was read from.
type ToolInfo struct {
	Path     string `json:"path" yaml:"path"`
	PID      int    `json:"pid" yaml:"pid"`
	ExitCode int    `json:"exit_code" yaml:"exit_code"`
}

// Session is the ordered, append-only result of one monitoring run.
type Session struct {
	ID         string           `json:"id" yaml:"id"`
	Started    time.Time        `json:"started" yaml:"started"`
	Duration   time.Duration    `json:"duration_ns" yaml:"duration"`
	StopReason StopReason       `json:"stop_reason" yaml:"stop_reason"`
	Tool       ToolInfo         `json:"tool" yaml:"tool"`
	Devices    []extract.Device `json:"devices" yaml:"devices"`
	Stats      Stats            `json:"stats" yaml:"stats"`
	Samples    []Sample         `json:"samples" yaml:"samples"`
}

// Empty reports whether no samples were collected.
func (s Session) Empty() bool {
	return len(s.Samples) == 0
}

// GPUs returns the distinct device indexes referenced by samples, in first-seen order.
// Samples without a device are reported as -1.
func (s Session) GPUs() []int {
	seen := make(map[int]struct{})
	var out []int
	for _, sample := range s.Samples {
		id := -1
		if sample.GPU != nil {
			id = *sample.GPU
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
