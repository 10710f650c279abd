// Package config provides centralized configuration management for the
// TrialPulse system. It handles loading configuration from multiple
// sources, validation, and provides a type-safe API for accessing
// configuration values throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern TRIALPULSE_* for namespacing:
//
//	TRIALPULSE_LOGGING_LEVEL=debug
//	TRIALPULSE_DETECTION_Z_THRESHOLD=3.5
//	TRIALPULSE_DETECTION_METHODS=zscore,iforest
//	TRIALPULSE_RISK_SAFETY_WEIGHT=0.20
//	TRIALPULSE_OPS_ADDR=:8090
//
// TRIALPULSE_CONFIG points Load at an explicit config file; otherwise
// trialpulse.yaml, config.yaml and configs/config.yaml are tried in order.
// TRIALPULSE_ENV names the deployment environment reported by telemetry
// and defaults to "development".
//
// # Validation
//
// All configuration is validated at load time with struct tags plus
// cross-field checks (risk weights summing to 1.0, threshold ordering).
// A validation failure aborts startup; nothing runs on a bad config.
//
// # Usage
//
// Load configuration at application startup:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
