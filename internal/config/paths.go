package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Paths contains the resolved application paths.
// This is the single source of truth for all file paths in the application.
type Paths struct {
	InputDir   string
	ReportsDir string
	LogsDir    string
}

// ResolvePaths resolves the configured paths to absolute paths against
// the current working directory
func (c *Config) ResolvePaths() (*Paths, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	resolve := func(path string) string {
		if filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(wd, path)
	}

	return &Paths{
		InputDir:   resolve(c.Paths.InputDir),
		ReportsDir: resolve(c.Paths.ReportsDir),
		LogsDir:    resolve(c.Paths.LogsDir),
	}, nil
}

// EnsureDirectories creates the output directories if they don't exist.
// The input directory is left alone so a missing one surfaces as a
// read error instead of an empty run.
func (p *Paths) EnsureDirectories() error {
	logger := slog.Default()

	for _, dir := range []string{p.ReportsDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		if logger != nil {
			logger.Debug("Ensured directory exists",
				slog.String("directory", dir))
		}
	}
	return nil
}

// ReportFile returns the path for a timestamped report file in the
// reports directory
func (p *Paths) ReportFile(prefix string, at time.Time) string {
	name := fmt.Sprintf("%s_%s.json", prefix, at.Format("20060102_150405"))
	return filepath.Join(p.ReportsDir, name)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
