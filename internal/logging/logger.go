// Package logging builds the slog logger used by the CLI and services.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/Lllllllleong/bookintake/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Output defaults to stderr so stdout stays free for command results.
	Output io.Writer
}

// New constructs a slog logger. Format "auto" picks the text handler when the
// output is a terminal and the JSON handler otherwise.
func New(opts Options) (*slog.Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" || format == "auto" {
		format = "json"
		if isTerminal(out) {
			format = "text"
		}
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig creates a logger from the [logging] section.
func NewFromConfig(cfg config.Logging, out io.Writer) (*slog.Logger, error) {
	return New(Options{Level: cfg.Level, Format: cfg.Format, Output: out})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
