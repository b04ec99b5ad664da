package supervisor

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
)

// MaxLineBytes bounds one engine output line. Longer lines are truncated.
const MaxLineBytes = 1 << 20

// LineSink receives every engine output line. stream is "stdout" or
// "stderr". It is called from the drain goroutines and must not block.
type LineSink func(stream, line string)

// LogSink forwards engine output to logger, keeping the engine's own
// severity for error and warning lines.
func LogSink(logger *slog.Logger, verbose bool) LineSink {
	return func(stream, line string) {
		switch {
		case strings.Contains(line, "ERROR"):
			logger.Error(line, "stream", stream)
		case strings.Contains(line, "WARN"):
			logger.Warn(line, "stream", stream)
		case verbose:
			logger.Info(line, "stream", stream)
		default:
			logger.Debug(line, "stream", stream)
		}
	}
}

func drain(r io.Reader, stream string, sink LineSink) {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				sink(stream, string(line))
			}
			return
		}
		if room := MaxLineBytes - len(line); len(chunk) > room {
			chunk = chunk[:room]
		}
		line = append(line, chunk...)
		if isPrefix {
			continue
		}
		if len(line) > 0 {
			sink(stream, string(line))
		}
		line = line[:0]
	}
}
