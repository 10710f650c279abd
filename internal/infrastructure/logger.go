package infrastructure

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"trialpulse/internal/config"
)

var (
	appLogger  *slog.Logger
	loggerOnce sync.Once

	// logSink is the open log file, guarded for CloseLogFile.
	logSink   *os.File
	logSinkMu sync.Mutex
)

// InitializeLogger builds the process-wide slog logger from cfg and
// installs it as the slog default. Only the first call has any effect;
// later calls return the logger built then.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	loggerOnce.Do(func() {
		appLogger, err = buildLogger(cfg)
		if appLogger != nil {
			slog.SetDefault(appLogger)
		}
	})
	return appLogger, err
}

// GetLogger returns the process-wide logger, falling back to the slog
// default when InitializeLogger has not run.
func GetLogger() *slog.Logger {
	if appLogger == nil {
		return slog.Default()
	}
	return appLogger
}

// CloseLogFile closes the log file if one is open. Call it on shutdown
// and between tests that reinitialize logging.
func CloseLogFile() error {
	logSinkMu.Lock()
	defer logSinkMu.Unlock()

	if logSink == nil {
		return nil
	}
	err := logSink.Close()
	logSink = nil
	return err
}

// ResetLoggerForTesting clears the global logger state so a test can
// initialize logging with its own configuration.
func ResetLoggerForTesting() {
	CloseLogFile()
	appLogger = nil
	loggerOnce = sync.Once{}
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	sink, err := openSink(cfg)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     levelFromName(cfg.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(sink, opts)
	} else {
		handler = slog.NewJSONHandler(sink, opts)
	}

	return slog.New(&traceHandler{inner: handler}), nil
}

// openSink resolves the configured output into a writer, opening and
// retaining the log file when one is involved. Unknown outputs fall back
// to stdout.
func openSink(cfg config.LoggingConfig) (io.Writer, error) {
	output := strings.ToLower(cfg.Output)
	if output != "file" && output != "both" {
		return os.Stdout, nil
	}

	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.FilePath, err)
	}

	logSinkMu.Lock()
	logSink = file
	logSinkMu.Unlock()

	if output == "both" {
		return io.MultiWriter(os.Stdout, file), nil
	}
	return file, nil
}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// levelFromName maps a configured level name to its slog level, treating
// anything unrecognized as info.
func levelFromName(name string) slog.Level {
	if level, ok := logLevels[strings.ToLower(name)]; ok {
		return level
	}
	return slog.LevelInfo
}
