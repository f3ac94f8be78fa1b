// Package logging builds the process-wide logger.
//
// Two sinks are supported, each with its own minimum severity: a colorized
// console writer and a plain-text run.log file inside the run's output
// directory. Either sink can be disabled by leaving its level empty. The
// logger is constructed once at process start and passed explicitly to the
// components that log; there is no package-level mutable state.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// levelNames is the accepted spelling of each level, included in parse
// errors.
var levelNames = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}

// ParseLevel parses a log level name. An empty or blank name disables the
// sink and parses to zerolog.Disabled.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zerolog.Disabled, nil
	case "warning":
		name = "warn"
	case "critical":
		name = "fatal"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.Disabled, fmt.Errorf("invalid log level %q, possible values: %s",
			name, strings.Join(levelNames, ", "))
	}
	return level, nil
}

// Options configures New.
type Options struct {
	// ConsoleLevel and FileLevel are the per-sink minimum severities.
	// Empty disables the sink.
	ConsoleLevel string
	FileLevel    string
	// Dir is the run output directory holding run.log. Required when
	// FileLevel is set.
	Dir string
	// NoColor forces monochrome console output; color is also disabled
	// automatically when stdout is not a terminal.
	NoColor bool
}

// New builds the logger. The returned closer owns the log file, if any, and
// should be closed at process exit.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	consoleLevel, err := ParseLevel(opts.ConsoleLevel)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	fileLevel, err := ParseLevel(opts.FileLevel)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var writers []io.Writer
	var closer io.Closer

	if consoleLevel != zerolog.Disabled {
		console := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
			NoColor:    opts.NoColor || !isatty.IsTerminal(os.Stdout.Fd()),
		}
		writers = append(writers, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: console},
			Level:  consoleLevel,
		})
	}

	if fileLevel != zerolog.Disabled {
		if opts.Dir == "" {
			return zerolog.Nop(), nil, fmt.Errorf("file logging enabled but no output directory given")
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(opts.Dir, "run.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open run.log: %w", err)
		}
		closer = f
		fileWriter := zerolog.ConsoleWriter{
			Out:        f,
			TimeFormat: "2006-01-02 15:04:05.0000",
			NoColor:    true,
		}
		writers = append(writers, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: fileWriter},
			Level:  fileLevel,
		})
	}

	if len(writers) == 0 {
		return zerolog.Nop(), nil, nil
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger().
		Level(minLevel(consoleLevel, fileLevel))
	return logger, closer, nil
}

func minLevel(a, b zerolog.Level) zerolog.Level {
	if a < b {
		return a
	}
	return b
}
