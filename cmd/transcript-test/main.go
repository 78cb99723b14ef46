// Command transcript-test replays a captured nvidia-smi transcript through the
// extractor and aggregator and prints the resulting session.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/skobkin/nvsmiplot/internal/config"
	"github.com/skobkin/nvsmiplot/internal/extract"
	"github.com/skobkin/nvsmiplot/internal/sampler"
)

type options struct {
	transcript   string
	patternsFile string
	readMode     string
	keepEmpty    bool
	step         time.Duration
	summary      bool
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.transcript, "file", "", "Transcript to replay (default: stdin)")
	flag.StringVar(&opts.patternsFile, "patterns", envOrDefault("NVSMIPLOT_PATTERNS", ""), "YAML file overriding the extraction patterns")
	flag.StringVar(&opts.readMode, "read-mode", envOrDefault("NVSMIPLOT_READ_MODE", string(config.ReadModeLine)), "Chunking mode: line or report")
	flag.BoolVar(&opts.keepEmpty, "keep-empty", false, "Record chunks without metrics as empty samples")
	flag.DurationVar(&opts.step, "step", 100*time.Millisecond, "Synthetic time between chunks")
	flag.BoolVar(&opts.summary, "summary", false, "Print counters instead of the full session")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	patterns := config.DefaultPatterns()
	if opts.patternsFile != "" {
		loaded, err := config.LoadPatterns(opts.patternsFile)
		if err != nil {
			logger.Error("load patterns failed", "err", err)
			os.Exit(1)
		}
		patterns = loaded
	}

	extractor, err := extract.New(patterns)
	if err != nil {
		logger.Error("compile patterns failed", "err", err)
		os.Exit(1)
	}

	input := io.Reader(os.Stdin)
	if opts.transcript != "" {
		f, err := os.Open(opts.transcript)
		if err != nil {
			logger.Error("open transcript failed", "err", err)
			os.Exit(1)
		}
		defer f.Close()
		input = f
	}

	session, err := sampler.Replay(input, extractor, config.ReadMode(strings.ToLower(opts.readMode)), opts.keepEmpty, opts.step, logger.With("component", "replay"))
	if err != nil {
		logger.Error("replay failed", "err", err)
		os.Exit(1)
	}

	if opts.summary {
		fmt.Printf("chunks=%d accepted=%d unmatched=%d rejected=%d devices=%d\n",
			session.Stats.Chunks, session.Stats.Accepted, session.Stats.Unmatched, session.Stats.Rejected, len(session.Devices))
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(session); err != nil {
		logger.Error("encode session", "err", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
