package risk

import (
	"fmt"
	"time"

	apperrors "trialpulse/internal/errors"
)

// RiskLevel is the categorical grade derived from the overall score
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Component identifies one of the five weighted score components
type Component string

const (
	ComponentDataQuality Component = "data_quality"
	ComponentEnrollment  Component = "enrollment_performance"
	ComponentCompliance  Component = "protocol_compliance"
	ComponentSafety      Component = "safety_reporting"
	ComponentMonitoring  Component = "monitoring_findings"
)

// Components lists the score components in reporting order
func Components() []Component {
	return []Component{
		ComponentDataQuality,
		ComponentEnrollment,
		ComponentCompliance,
		ComponentSafety,
		ComponentMonitoring,
	}
}

// ComponentWeights contains the weights combining the five components
// into the overall site score
type ComponentWeights struct {
	DataQuality float64 `json:"data_quality"` // query rate, missing data, entry lag, anomaly burden - 25%
	Enrollment  float64 `json:"enrollment"`   // shortfall vs time-adjusted expectation - 20%
	Compliance  float64 `json:"compliance"`   // protocol deviations - 25%
	Safety      float64 `json:"safety"`       // SAE reporting - 20%
	Monitoring  float64 `json:"monitoring"`   // audit findings, CAPAs - 10%
}

// DefaultWeights returns the standard risk-based-monitoring weight set
func DefaultWeights() ComponentWeights {
	return ComponentWeights{
		DataQuality: 0.25,
		Enrollment:  0.20,
		Compliance:  0.25,
		Safety:      0.20,
		Monitoring:  0.10,
	}
}

// Sum returns the total of the five weights
func (cw ComponentWeights) Sum() float64 {
	return cw.DataQuality + cw.Enrollment + cw.Compliance + cw.Safety + cw.Monitoring
}

// IsValid checks if weights are valid (sum to 1)
func (cw ComponentWeights) IsValid() bool {
	sum := cw.Sum()
	return cw.DataQuality >= 0 && cw.Enrollment >= 0 && cw.Compliance >= 0 &&
		cw.Safety >= 0 && cw.Monitoring >= 0 &&
		sum > 0.99 && sum < 1.01 // Allow small floating point errors
}

// Normalize ensures weights sum to 1
func (cw *ComponentWeights) Normalize() {
	sum := cw.Sum()
	if sum > 0 {
		cw.DataQuality /= sum
		cw.Enrollment /= sum
		cw.Compliance /= sum
		cw.Safety /= sum
		cw.Monitoring /= sum
	}
}

// For returns the weight assigned to one component
func (cw ComponentWeights) For(c Component) float64 {
	switch c {
	case ComponentDataQuality:
		return cw.DataQuality
	case ComponentEnrollment:
		return cw.Enrollment
	case ComponentCompliance:
		return cw.Compliance
	case ComponentSafety:
		return cw.Safety
	case ComponentMonitoring:
		return cw.Monitoring
	default:
		return 0
	}
}

// ScoringConfig is the immutable configuration for the site risk scorer
type ScoringConfig struct {
	Weights ComponentWeights `json:"weights"`

	// Level cutoffs: overall below LowBelow is LOW, below MediumBelow is
	// MEDIUM, everything else HIGH
	LowBelow    float64 `json:"low_below"`
	MediumBelow float64 `json:"medium_below"`

	// TrendWindow is how many recent historical scores feed the trend
	// fit; TrendSlope is the per-period slope above which the profile is
	// marked as trending upward
	TrendWindow int     `json:"trend_window"`
	TrendSlope  float64 `json:"trend_slope"`
}

// DefaultScoringConfig returns the recommended scoring configuration
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights:     DefaultWeights(),
		LowBelow:    0.3,
		MediumBelow: 0.6,
		TrendWindow: 5,
		TrendSlope:  0.02,
	}
}

// Validate rejects configurations that would produce meaningless
// profiles. It returns a CONFIG error so callers fail before scoring.
func (c ScoringConfig) Validate() error {
	if !c.Weights.IsValid() {
		return apperrors.NewConfigError(
			fmt.Sprintf("component weights must sum to 1.0, got %.4f", c.Weights.Sum()), nil).
			WithContext("field", "weights").
			WithContext("sum", c.Weights.Sum())
	}
	checks := []struct {
		ok      bool
		field   string
		message string
		value   interface{}
	}{
		{c.LowBelow > 0 && c.LowBelow < 1, "low_below", "must be in (0, 1)", c.LowBelow},
		{c.MediumBelow > c.LowBelow && c.MediumBelow < 1, "medium_below", "must be above low_below and below 1", c.MediumBelow},
		{c.TrendWindow >= 2, "trend_window", "must be at least 2", c.TrendWindow},
		{c.TrendSlope > 0, "trend_slope", "must be positive", c.TrendSlope},
	}
	for _, chk := range checks {
		if !chk.ok {
			return apperrors.NewConfigError(
				fmt.Sprintf("%s %s", chk.field, chk.message), nil).
				WithContext("field", chk.field).
				WithContext("value", chk.value)
		}
	}
	return nil
}

// LevelFor buckets an overall score into its risk level
func (c ScoringConfig) LevelFor(score float64) RiskLevel {
	switch {
	case score < c.LowBelow:
		return RiskLow
	case score < c.MediumBelow:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// SiteMetrics is the operational KRI surface supplied per site, typically
// sourced from EDC and CTMS exports rather than the lab data itself
type SiteMetrics struct {
	SiteID string `json:"site_id"`

	// Observations is the number of lab data points attributed to the
	// site; it scales the anomaly burden into a rate
	Observations int `json:"observations"`

	// Data quality
	QueryRate       float64 `json:"query_rate"`        // open queries per 100 data points
	MissingDataRate float64 `json:"missing_data_rate"` // fraction of expected fields absent
	EntryLagDays    float64 `json:"entry_lag_days"`    // mean visit-to-entry delay

	// Enrollment
	Enrolled         int `json:"enrolled"`
	ExpectedEnrolled int `json:"expected_enrolled"` // time-adjusted expectation to date

	// Protocol compliance
	ProtocolDeviations int `json:"protocol_deviations"`
	MajorDeviations    int `json:"major_deviations"`

	// Safety reporting
	SAEReportingLagDays float64 `json:"sae_reporting_lag_days"` // mean days from awareness to report
	UnreportedSAEs      int     `json:"unreported_saes"`

	// Monitoring
	AuditFindings int `json:"audit_findings"`
	OpenCAPAs     int `json:"open_capas"`
}

// HistoricalScore is one prior overall score for the trend fit
type HistoricalScore struct {
	PeriodEnd    time.Time `json:"period_end"`
	OverallScore float64   `json:"overall_score"`
}

// SiteProfile is the composite risk assessment for one site. It is always
// derived from current inputs, never incrementally mutated.
type SiteProfile struct {
	SiteID       string    `json:"site_id"`
	OverallScore float64   `json:"overall_score"`
	Level        RiskLevel `json:"level"`

	ComponentScores map[Component]float64 `json:"component_scores"`

	RiskFactors     []string `json:"risk_factors,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	// AnomalyCounts summarizes the merged detection records that fed the
	// profile, by severity
	AnomalyCounts map[string]int `json:"anomaly_counts,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}
