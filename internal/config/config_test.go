package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault tests that the default configuration is complete and valid
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "both", cfg.Logging.Output)
	assert.Equal(t, 3.0, cfg.Detection.ZThreshold)
	assert.Equal(t, 3.5, cfg.Detection.MADThreshold)
	assert.Equal(t, 0.10, cfg.Detection.Contamination)
	assert.Equal(t, int64(42), cfg.Detection.RandomSeed)
	assert.Equal(t, 0.25, cfg.Risk.DataQualityWeight)
	assert.Equal(t, 0.10, cfg.Risk.MonitoringWeight)
	assert.Empty(t, cfg.Ops.Addr, "ops server is disabled by default")
	assert.Equal(t, 15*time.Second, cfg.Ops.ReadTimeout)
	assert.Equal(t, DefaultInputDir, cfg.Paths.InputDir)

	assert.NoError(t, cfg.Validate())
}

// TestConfigValidate tests that broken configurations are rejected
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults pass",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "unknown log output",
			mutate:  func(c *Config) { c.Logging.Output = "syslog" },
			wantErr: "logging.output",
		},
		{
			name:    "file output without a path",
			mutate:  func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" },
			wantErr: "logging.file_path",
		},
		{
			name:    "zero z threshold",
			mutate:  func(c *Config) { c.Detection.ZThreshold = 0 },
			wantErr: "detection.z_threshold",
		},
		{
			name:    "contamination above half",
			mutate:  func(c *Config) { c.Detection.Contamination = 0.6 },
			wantErr: "detection.contamination",
		},
		{
			name:    "digit significance at one",
			mutate:  func(c *Config) { c.Detection.DigitSignificance = 1 },
			wantErr: "detection.digit_significance",
		},
		{
			name:    "tiny minimum sample size",
			mutate:  func(c *Config) { c.Detection.MinSampleSize = 2 },
			wantErr: "detection.min_sample_size",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Detection.MaxConcurrency = -1 },
			wantErr: "detection.max_concurrency",
		},
		{
			name:    "risk weights drifting from one",
			mutate:  func(c *Config) { c.Risk.SafetyWeight = 0.5 },
			wantErr: "must sum to 1.0",
		},
		{
			name: "inverted risk thresholds",
			mutate: func(c *Config) {
				c.Risk.LowBelow = 0.7
				c.Risk.MediumBelow = 0.6
			},
			wantErr: "medium_below",
		},
		{
			name:    "malformed ops address",
			mutate:  func(c *Config) { c.Ops.Addr = "not a socket" },
			wantErr: "ops.addr",
		},
		{
			name:    "rate limit enabled with zero rps",
			mutate:  func(c *Config) { c.Ops.RateLimit.RPS = 0 },
			wantErr: "zero rps",
		},
		{
			name:    "missing input dir",
			mutate:  func(c *Config) { c.Paths.InputDir = "" },
			wantErr: "paths.input_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestLoadFromFile tests that YAML values overlay the defaults without
// disturbing keys the file does not mention
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trialpulse.yaml")
	content := `
logging:
  level: debug
detection:
  z_threshold: 4.0
  methods: "zscore,iforest"
risk:
  trend_window: 8
ops:
  addr: ":8090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := Default()
	require.NoError(t, loadFromFile(path, cfg))

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4.0, cfg.Detection.ZThreshold)
	assert.Equal(t, "zscore,iforest", cfg.Detection.Methods)
	assert.Equal(t, 8, cfg.Risk.TrendWindow)
	assert.Equal(t, ":8090", cfg.Ops.Addr)

	// untouched keys keep their defaults
	assert.Equal(t, 3.5, cfg.Detection.MADThreshold)
	assert.Equal(t, 0.25, cfg.Risk.DataQualityWeight)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.NoError(t, cfg.Validate())
}

// TestLoadFromFileErrors tests missing and malformed config files
func TestLoadFromFileErrors(t *testing.T) {
	cfg := Default()
	assert.Error(t, loadFromFile(filepath.Join(t.TempDir(), "absent.yaml"), cfg))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [not, a, map]"), 0644))
	assert.Error(t, loadFromFile(path, cfg))
}

// TestLoadPrecedence tests that environment variables override file
// values, which override the defaults
func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	content := `
logging:
  level: warn
detection:
  z_threshold: 4.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("TRIALPULSE_CONFIG", path)
	t.Setenv("TRIALPULSE_DETECTION_Z_THRESHOLD", "5.0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Detection.ZThreshold, "env beats file")
	assert.Equal(t, "warn", cfg.Logging.Level, "file beats default")
	assert.Equal(t, 3.5, cfg.Detection.MADThreshold, "default survives")
}

// TestLoadRejectsBadEnv tests that an invalid environment override
// fails the load instead of starting with a broken config
func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("TRIALPULSE_DETECTION_CONTAMINATION", "0.9")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "contamination")
}

// TestFindConfigFile tests the explicit override path
func TestFindConfigFile(t *testing.T) {
	t.Setenv("TRIALPULSE_CONFIG", "/etc/trialpulse/custom.yaml")
	assert.Equal(t, "/etc/trialpulse/custom.yaml", findConfigFile())
}

// TestResolvePaths tests relative and absolute path handling
func TestResolvePaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.InputDir = "/var/lib/trialpulse/input"
	cfg.Paths.ReportsDir = "out/reports"

	paths, err := cfg.ResolvePaths()
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/trialpulse/input", paths.InputDir)
	assert.Equal(t, filepath.Join(wd, "out/reports"), paths.ReportsDir)
	assert.Equal(t, filepath.Join(wd, DefaultLogsDir), paths.LogsDir)
}

// TestEnsureDirectories tests output directory creation
func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	paths := &Paths{
		InputDir:   filepath.Join(dir, "input"),
		ReportsDir: filepath.Join(dir, "reports"),
		LogsDir:    filepath.Join(dir, "logs"),
	}

	require.NoError(t, paths.EnsureDirectories())

	assert.DirExists(t, paths.ReportsDir)
	assert.DirExists(t, paths.LogsDir)
	assert.NoDirExists(t, paths.InputDir, "input directory is never created implicitly")
}

// TestReportFile tests timestamped report naming
func TestReportFile(t *testing.T) {
	paths := &Paths{ReportsDir: "/data/reports"}
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	got := paths.ReportFile("site_risk", at)
	assert.Equal(t, "/data/reports/site_risk_20250314_092653.json", got)
}

// TestFileExists tests existence checks for files and directories
func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	assert.True(t, FileExists(path))
	assert.True(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "absent.txt")))
}
