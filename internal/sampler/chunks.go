package sampler

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/skobkin/nvsmiplot/internal/config"
)

const maxChunkSize = 1 << 20

// NewChunkScanner reads tool output one line at a time, or one blank-line
// delimited report at a time in report mode.
func NewChunkScanner(r io.Reader, mode config.ReadMode) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxChunkSize)
	if mode == config.ReadModeReport {
		scanner.Split(scanReports)
	}
	return scanner
}

// scanReports is a bufio.SplitFunc yielding blank-line delimited blocks, one
// per nvidia-smi report.
func scanReports(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := indexBlankLine(data); i >= 0 {
		end := i + 1
		for {
			j := bytes.IndexByte(data[end:], '\n')
			if j < 0 || len(bytes.TrimSpace(data[end:end+j])) > 0 {
				break
			}
			end += j + 1
		}
		return end, bytes.TrimRight(data[:i], "\r\n"), nil
	}
	if atEOF {
		return len(data), bytes.TrimRight(data, "\r\n"), nil
	}
	return 0, nil, nil
}

// indexBlankLine returns the offset of the line break that ends the block
// before the first blank line, or -1. Lines holding only spaces count as blank.
func indexBlankLine(data []byte) int {
	lineStart := 0
	for i, b := range data {
		if b != '\n' {
			continue
		}
		if lineStart > 0 && len(bytes.TrimSpace(data[lineStart:i])) == 0 {
			return lineStart - 1
		}
		lineStart = i + 1
	}
	return -1
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
