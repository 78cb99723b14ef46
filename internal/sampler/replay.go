package sampler

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skobkin/nvsmiplot/internal/config"
	"github.com/skobkin/nvsmiplot/internal/extract"
)

// Replay runs captured tool output through the same chunking and aggregation
// as a live Run. Chunks are stamped step apart starting at the replay start.
func Replay(r io.Reader, extractor *extract.Extractor, mode config.ReadMode, keepEmpty bool, step time.Duration, logger *slog.Logger) (Session, error) {
	if !mode.Valid() {
		return Session{}, fmt.Errorf("unsupported read mode %q", mode)
	}

	start := time.Now()
	agg := NewAggregator(extractor, keepEmpty, start, logger)

	at := start
	scanner := NewChunkScanner(r, mode)
	for scanner.Scan() {
		text := scanner.Text()
		if isBlank(text) {
			continue
		}
		at = at.Add(step)
		addChunk(agg, mode, text, at)
	}
	if err := scanner.Err(); err != nil {
		return Session{}, fmt.Errorf("read transcript: %w", err)
	}

	return agg.Finish(StopExited, at), nil
}
