package sampler

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/nvsmiplot/internal/extract"
)

// Aggregator turns chunks of tool output into an ordered Session.
// It is not safe for concurrent use; the sampling loop owns it.
type Aggregator struct {
	extractor *extract.Extractor
	keepEmpty bool
	logger    *slog.Logger

	start   time.Time
	last    time.Duration
	current *int
	devices map[int]extract.Device
	session Session
}

// NewAggregator starts a session at the given instant. start should carry a
// monotonic clock reading (time.Now does).
func NewAggregator(extractor *extract.Extractor, keepEmpty bool, start time.Time, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aggregator{
		extractor: extractor,
		keepEmpty: keepEmpty,
		logger:    logger,
		start:     start,
		devices:   make(map[int]extract.Device),
		session: Session{
			ID:      uuid.NewString(),
			Started: start.Round(0),
		},
	}
}

// Add extracts one chunk read at the given instant and appends the resulting
// sample. It reports whether a sample was appended.
func (a *Aggregator) Add(chunk string, at time.Time) bool {
	a.session.Stats.Chunks++
	return a.add(chunk, at)
}

// AddReport handles a whole multi-device report: every device section yields
// its own sample, all stamped with the same instant. It reports whether at
// least one sample was appended.
func (a *Aggregator) AddReport(chunk string, at time.Time) bool {
	a.session.Stats.Chunks++
	appended := false
	for _, section := range a.extractor.Sections(chunk) {
		if a.add(section, at) {
			appended = true
		}
	}
	return appended
}

func (a *Aggregator) add(chunk string, at time.Time) bool {
	reading, err := a.extractor.Extract(chunk)
	if reading.Device != nil {
		index := reading.Device.Index
		a.current = &index
		if _, ok := a.devices[index]; !ok {
			a.devices[index] = *reading.Device
		}
	}

	if err != nil {
		a.session.Stats.Rejected++
		if errors.Is(err, extract.ErrZeroMemoryTotal) {
			a.logger.Debug("sample rejected", "reason", "zero memory total", "chunk", chunk)
		} else {
			a.logger.Debug("sample rejected", "err", err, "chunk", chunk)
		}
		return false
	}

	if !reading.HasMetrics() {
		a.session.Stats.Unmatched++
		if !a.keepEmpty {
			return false
		}
	}

	offset := at.Sub(a.start)
	if offset < a.last {
		offset = a.last
	}
	a.last = offset

	sample := Sample{
		Offset:            offset,
		Elapsed:           offset.Seconds(),
		GPUUtilization:    reading.GPUUtilization,
		MemoryUtilization: reading.MemoryUtilization,
		MemoryUsedMiB:     reading.MemoryUsedMiB,
		MemoryTotalMiB:    reading.MemoryTotalMiB,
		TemperatureC:      reading.TemperatureC,
	}
	if a.current != nil {
		gpu := *a.current
		sample.GPU = &gpu
	}

	a.session.Samples = append(a.session.Samples, sample)
	a.session.Stats.Accepted++
	return true
}

// Len returns the number of samples collected so far.
func (a *Aggregator) Len() int {
	return len(a.session.Samples)
}

// Finish finalizes the session. The aggregator must not be used afterwards.
func (a *Aggregator) Finish(reason StopReason, end time.Time) Session {
	a.session.StopReason = reason
	a.session.Duration = end.Sub(a.start)

	indexes := make([]int, 0, len(a.devices))
	for index := range a.devices {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for _, index := range indexes {
		a.session.Devices = append(a.session.Devices, a.devices[index])
	}

	return a.session
}
