package config

import "time"

// Application constants - hardcoded values for the TrialPulse system
const (
	// Application Info
	AppName    = "TrialPulse"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment variable read by Load
	EnvPrefix = "TRIALPULSE"

	// Rate Limiting
	DefaultRateLimitRPS   = 50
	DefaultRateLimitBurst = 25

	// Network Timeouts
	DefaultHTTPTimeout = 30 * time.Second

	// File Paths (relative to the working directory)
	DefaultInputDir   = "data/input"
	DefaultReportsDir = "data/reports"
	DefaultLogsDir    = "logs"

	// Detection Run Limits
	DefaultDetectionTimeout = 5 * time.Minute

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Input file patterns recognized by the ingest directory walker
const (
	LabFilePattern        = `(?i)^lb.*\.(csv|xlsx?)$`
	DemographicsPattern   = `(?i)^dm.*\.(csv|xlsx?)$`
	SiteMetricsPattern    = `(?i)^site.*metrics.*\.(csv|xlsx?)$`
	EnrollmentFilePattern = `(?i)^enroll.*\.(csv|xlsx?)$`
)
