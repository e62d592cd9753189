// Package logger provides structured logging setup for nimsuggestd.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nimlime/nimsuggestd/internal/config"
)

// Output is where log records are written. Stdout is reserved for MCP and
// CLI output, so records go to stderr.
var Output io.Writer = os.Stderr

// New creates a *slog.Logger from the given Logging config.
// Output is JSON with a "service" attribute on every record. The returned
// Closer flushes the async handler when cfg.Async is set.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(Output, &slog.HandlerOptions{
		Level: level,
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, 4096)
		handler = ah
		closer = ah
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
