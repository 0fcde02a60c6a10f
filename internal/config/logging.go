package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// NoLogFile as CATALOGBRIDGE_LOG_FILE turns file logging off.
const NoLogFile = "-"

// SetupLogger builds the process logger. Records go to stderr as text and,
// unless logFile is empty or NoLogFile, are appended to logFile as JSON
// tagged with the process id, so runs sharing one file can be told apart.
// If the file cannot be opened stderr is the only output.
// The returned function closes the file.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	noop := func() error { return nil }
	stderrOnly := slog.New(textHandler(os.Stderr, level))
	if logFile == "" || logFile == NoLogFile {
		return stderrOnly, noop
	}

	file, err := openLogFile(logFile)
	if err != nil {
		stderrOnly.Warn("log file unavailable, logging to stderr only", "file", logFile, "error", err)
		return stderrOnly, noop
	}

	fileHandler := jsonHandler(file, level).WithAttrs([]slog.Attr{slog.Int("pid", os.Getpid())})
	logger := slog.New(slogmulti.Fanout(textHandler(os.Stderr, level), fileHandler))
	return logger, file.Close
}

// SetupLoggerWithWriters builds the same fan-out over arbitrary writers.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(textHandler(stderr, level), jsonHandler(file, level)))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func textHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// jsonHandler records source locations at debug level.
func jsonHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	})
}
