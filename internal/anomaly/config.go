package anomaly

import (
	"fmt"
	"runtime"
	"time"

	apperrors "trialpulse/internal/errors"
)

const (
	// MinObservationsForDistribution is the floor below which an analysis
	// cell is excluded from distribution-sensitive methods. Count-based
	// detectors carry their own minimums.
	MinObservationsForDistribution = 10

	// DefaultDetectionTimeout bounds one full detection run
	DefaultDetectionTimeout = 5 * time.Minute

	// DefaultRandomSeed keeps the randomized strategies reproducible
	// run to run
	DefaultRandomSeed = 42
)

// EnrollmentParams configures the enrollment-lag detector
type EnrollmentParams struct {
	// TargetPerMonth is the study-wide expected enrollment rate in
	// subjects per 30 active days. SiteTargets overrides it per site.
	TargetPerMonth float64            `json:"target_per_month"`
	SiteTargets    map[string]float64 `json:"site_targets,omitempty"`

	// Threshold is the performance ratio below which a site is flagged
	Threshold float64 `json:"threshold"`
}

// TargetFor returns the enrollment target for a site
func (p EnrollmentParams) TargetFor(siteID string) float64 {
	if t, ok := p.SiteTargets[siteID]; ok && t > 0 {
		return t
	}
	return p.TargetPerMonth
}

// DetectionConfig is the immutable configuration threaded through the
// engine, its strategies and the merger. Build it with
// DefaultDetectionConfig and adjust fields before constructing the engine;
// Validate rejects unusable values before any detection runs.
type DetectionConfig struct {
	// Univariate thresholds
	ZThreshold   float64 `json:"z_threshold"`   // |z| above this flags (3.0)
	MADThreshold float64 `json:"mad_threshold"` // modified z above this flags (3.5)

	// Multivariate and density parameters
	Contamination float64 `json:"contamination"` // expected anomaly fraction (0.10)

	// Digit-preference significance for the chi-square tests
	DigitSignificance float64 `json:"digit_significance"` // p cutoff (0.01)

	// Temporal and operational parameters
	Enrollment            EnrollmentParams `json:"enrollment"`
	VelocityDropThreshold float64          `json:"velocity_drop_threshold"` // drop fraction (0.4)
	SkewSignificance      float64          `json:"skew_significance"`       // p cutoff (0.01)

	// Methods restricts the run to a subset of detection methods.
	// Empty enables every method.
	Methods []Method `json:"methods,omitempty"`

	// MinSampleSize excludes small cells from distribution methods
	MinSampleSize int `json:"min_sample_size"`

	// MaxConcurrency bounds the detection worker pool; 0 picks a default
	MaxConcurrency int `json:"max_concurrency"`

	// RandomSeed drives the isolation forest subsampling
	RandomSeed int64 `json:"random_seed"`
}

// DefaultDetectionConfig returns the recommended configuration
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		ZThreshold:        3.0,
		MADThreshold:      3.5,
		Contamination:     0.10,
		DigitSignificance: 0.01,
		Enrollment: EnrollmentParams{
			TargetPerMonth: 2.0,
			Threshold:      0.8,
		},
		VelocityDropThreshold: 0.4,
		SkewSignificance:      0.01,
		MinSampleSize:         MinObservationsForDistribution,
		MaxConcurrency:        defaultConcurrency(),
		RandomSeed:            DefaultRandomSeed,
	}
}

// defaultConcurrency sizes the worker pool for mostly CPU-bound strategies
func defaultConcurrency() int {
	n := runtime.GOMAXPROCS(0)
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// Validate rejects configurations that would make detection meaningless.
// It returns a CONFIG error so callers fail before any records are grouped.
func (c DetectionConfig) Validate() error {
	checks := []struct {
		ok      bool
		field   string
		message string
		value   interface{}
	}{
		{c.ZThreshold > 0, "z_threshold", "must be positive", c.ZThreshold},
		{c.MADThreshold > 0, "mad_threshold", "must be positive", c.MADThreshold},
		{c.Contamination > 0 && c.Contamination <= 0.5, "contamination", "must be in (0, 0.5]", c.Contamination},
		{c.DigitSignificance > 0 && c.DigitSignificance < 1, "digit_significance", "must be in (0, 1)", c.DigitSignificance},
		{c.Enrollment.Threshold > 0 && c.Enrollment.Threshold <= 1, "enrollment.threshold", "must be in (0, 1]", c.Enrollment.Threshold},
		{c.Enrollment.TargetPerMonth > 0, "enrollment.target_per_month", "must be positive", c.Enrollment.TargetPerMonth},
		{c.VelocityDropThreshold > 0 && c.VelocityDropThreshold < 1, "velocity_drop_threshold", "must be in (0, 1)", c.VelocityDropThreshold},
		{c.SkewSignificance > 0 && c.SkewSignificance < 1, "skew_significance", "must be in (0, 1)", c.SkewSignificance},
		{c.MinSampleSize >= 3, "min_sample_size", "must be at least 3", c.MinSampleSize},
		{c.MaxConcurrency >= 0, "max_concurrency", "must not be negative", c.MaxConcurrency},
	}

	for _, chk := range checks {
		if !chk.ok {
			return apperrors.NewConfigError(
				fmt.Sprintf("%s %s", chk.field, chk.message), nil).
				WithContext("field", chk.field).
				WithContext("value", chk.value)
		}
	}

	known := make(map[Method]bool, len(AllMethods()))
	for _, m := range AllMethods() {
		known[m] = true
	}
	for _, m := range c.Methods {
		if !known[m] {
			return apperrors.NewConfigError(
				fmt.Sprintf("unknown detection method %q", m), nil).
				WithContext("field", "methods").
				WithContext("value", string(m))
		}
	}
	return nil
}

// enabledMethods resolves the method subset, defaulting to every method
func (c DetectionConfig) enabledMethods() map[Method]bool {
	enabled := make(map[Method]bool)
	if len(c.Methods) == 0 {
		for _, m := range AllMethods() {
			enabled[m] = true
		}
		return enabled
	}
	for _, m := range c.Methods {
		enabled[m] = true
	}
	return enabled
}

// concurrency resolves the effective pool size
func (c DetectionConfig) concurrency() int {
	if c.MaxConcurrency > 0 {
		return c.MaxConcurrency
	}
	return defaultConcurrency()
}
