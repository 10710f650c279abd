package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Detection DetectionConfig `yaml:"detection" envconfig:"DETECTION"`
	Risk      RiskConfig      `yaml:"risk" envconfig:"RISK"`
	Ops       OpsConfig       `yaml:"ops" envconfig:"OPS"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output stdout"`
}

// DetectionConfig contains the tunable thresholds for the anomaly engine.
// Fields mirror the engine configuration; the method list is validated
// when the engine is built, the numeric ranges here.
type DetectionConfig struct {
	Methods                 string  `yaml:"methods" envconfig:"METHODS"`
	ZThreshold              float64 `yaml:"z_threshold" envconfig:"Z_THRESHOLD" validate:"gt=0"`
	MADThreshold            float64 `yaml:"mad_threshold" envconfig:"MAD_THRESHOLD" validate:"gt=0"`
	Contamination           float64 `yaml:"contamination" envconfig:"CONTAMINATION" validate:"gt=0,lte=0.5"`
	DigitSignificance       float64 `yaml:"digit_significance" envconfig:"DIGIT_SIGNIFICANCE" validate:"gt=0,lt=1"`
	EnrollmentTargetMonthly float64 `yaml:"enrollment_target_monthly" envconfig:"ENROLLMENT_TARGET_MONTHLY" validate:"gt=0"`
	EnrollmentThreshold     float64 `yaml:"enrollment_threshold" envconfig:"ENROLLMENT_THRESHOLD" validate:"gt=0,lte=1"`
	VelocityDropThreshold   float64 `yaml:"velocity_drop_threshold" envconfig:"VELOCITY_DROP_THRESHOLD" validate:"gt=0,lt=1"`
	SkewSignificance        float64 `yaml:"skew_significance" envconfig:"SKEW_SIGNIFICANCE" validate:"gt=0,lt=1"`
	MinSampleSize           int     `yaml:"min_sample_size" envconfig:"MIN_SAMPLE_SIZE" validate:"min=3"`
	MaxConcurrency          int     `yaml:"max_concurrency" envconfig:"MAX_CONCURRENCY" validate:"min=0"`
	RandomSeed              int64   `yaml:"random_seed" envconfig:"RANDOM_SEED"`
}

// RiskConfig contains the risk scoring weights and thresholds
type RiskConfig struct {
	DataQualityWeight float64 `yaml:"data_quality_weight" envconfig:"DATA_QUALITY_WEIGHT" validate:"gte=0,lte=1"`
	EnrollmentWeight  float64 `yaml:"enrollment_weight" envconfig:"ENROLLMENT_WEIGHT" validate:"gte=0,lte=1"`
	ComplianceWeight  float64 `yaml:"compliance_weight" envconfig:"COMPLIANCE_WEIGHT" validate:"gte=0,lte=1"`
	SafetyWeight      float64 `yaml:"safety_weight" envconfig:"SAFETY_WEIGHT" validate:"gte=0,lte=1"`
	MonitoringWeight  float64 `yaml:"monitoring_weight" envconfig:"MONITORING_WEIGHT" validate:"gte=0,lte=1"`
	LowBelow          float64 `yaml:"low_below" envconfig:"LOW_BELOW" validate:"gt=0,lt=1"`
	MediumBelow       float64 `yaml:"medium_below" envconfig:"MEDIUM_BELOW" validate:"gt=0,lt=1"`
	TrendWindow       int     `yaml:"trend_window" envconfig:"TREND_WINDOW" validate:"min=2"`
	TrendSlope        float64 `yaml:"trend_slope" envconfig:"TREND_SLOPE" validate:"gt=0"`
}

// OpsConfig contains the optional operational HTTP endpoint configuration.
// An empty address disables the server.
type OpsConfig struct {
	Addr            string          `yaml:"addr" envconfig:"ADDR" validate:"omitempty,hostname_port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration for the ops endpoints
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	InputDir   string `yaml:"input_dir" envconfig:"INPUT_DIR" validate:"required"`
	ReportsDir string `yaml:"reports_dir" envconfig:"REPORTS_DIR" validate:"required"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
}

// Load loads configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence, and
// validates the result before returning it.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := findConfigFile(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile overlays configuration from a YAML file onto cfg.
// Keys absent from the file leave the current values untouched.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// findConfigFile returns the first config file found in the usual
// locations, or the explicit override from TRIALPULSE_CONFIG
func findConfigFile() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	locations := []string{
		"trialpulse.yaml",
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

var structValidator = newValidator()

// newValidator builds the struct validator with yaml tag names so
// error messages match the config file keys
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and returns a descriptive error on
// the first problem found. The application must not start on error.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// cross-field checks the tags cannot express
	sum := c.Risk.DataQualityWeight + c.Risk.EnrollmentWeight +
		c.Risk.ComplianceWeight + c.Risk.SafetyWeight + c.Risk.MonitoringWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("invalid configuration: risk component weights must sum to 1.0, got %.4f", sum)
	}
	if c.Risk.MediumBelow <= c.Risk.LowBelow {
		return fmt.Errorf("invalid configuration: risk medium_below %.2f must exceed low_below %.2f",
			c.Risk.MediumBelow, c.Risk.LowBelow)
	}
	if c.Ops.RateLimit.Enabled && c.Ops.RateLimit.RPS == 0 {
		return fmt.Errorf("invalid configuration: ops rate limit enabled with zero rps")
	}
	return nil
}

// formatFieldError renders one validation failure with the yaml key path
func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_unless":
		return fmt.Sprintf("%s is required for this output mode", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be a host:port address, got %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   "both",
			FilePath: "logs/trialpulse.log",
		},
		Detection: DetectionConfig{
			ZThreshold:              3.0,
			MADThreshold:            3.5,
			Contamination:           0.10,
			DigitSignificance:       0.01,
			EnrollmentTargetMonthly: 2.0,
			EnrollmentThreshold:     0.8,
			VelocityDropThreshold:   0.4,
			SkewSignificance:        0.01,
			MinSampleSize:           10,
			MaxConcurrency:          0,
			RandomSeed:              42,
		},
		Risk: RiskConfig{
			DataQualityWeight: 0.25,
			EnrollmentWeight:  0.20,
			ComplianceWeight:  0.25,
			SafetyWeight:      0.20,
			MonitoringWeight:  0.10,
			LowBelow:          0.3,
			MediumBelow:       0.6,
			TrendWindow:       5,
			TrendSlope:        0.02,
		},
		Ops: OpsConfig{
			Addr:            "",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimitRPS,
				Burst:   DefaultRateLimitBurst,
			},
		},
		Paths: PathsConfig{
			InputDir:   DefaultInputDir,
			ReportsDir: DefaultReportsDir,
			LogsDir:    DefaultLogsDir,
		},
	}
}
