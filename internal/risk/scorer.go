package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"trialpulse/internal/anomaly"
	apperrors "trialpulse/internal/errors"
)

// Saturation points mapping each raw KRI onto [0,1]. A metric at or past
// its saturation contributes full risk for its sub-weight.
const (
	queryRateSaturation      = 10.0 // open queries per 100 data points
	missingRateSaturation    = 0.20 // fraction of expected fields absent
	entryLagSaturationDays   = 14.0
	anomalyRateSaturation    = 0.05 // severity-weighted anomalies per observation
	anomalyCountSaturation   = 10.0 // fallback when the observation count is unknown
	operationalSaturation    = 2.0  // severity-weighted site-level flags
	deviationRateSaturation  = 0.5  // deviations per enrolled subject
	majorDeviationSaturation = 5.0
	saeLagSaturationDays     = 7.0
	unreportedSAESaturation  = 3.0
	auditFindingSaturation   = 10.0
	openCAPASaturation       = 5.0
)

// severityWeight maps record severity onto the burden scale
func severityWeight(s anomaly.Severity) float64 {
	switch s {
	case anomaly.SeverityHigh:
		return 1.0
	case anomaly.SeverityMedium:
		return 0.6
	case anomaly.SeverityLow:
		return 0.3
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// anomalyBurden splits a site's merged detection records into the
// record-level weight feeding data quality and the site-level weight
// feeding enrollment performance
type anomalyBurden struct {
	recordWeight float64
	siteWeight   float64
	counts       map[string]int
}

// collectBurden filters records to the site and accumulates severity
// weight. Subject-measurement flags and digit-preference patterns count
// as data-quality burden; the operational detectors count as site burden.
func collectBurden(siteID string, records []anomaly.Record) anomalyBurden {
	b := anomalyBurden{counts: make(map[string]int)}
	for _, rec := range records {
		if rec.SiteID != "" && rec.SiteID != siteID {
			continue
		}
		b.counts[string(rec.Severity)]++
		w := severityWeight(rec.Severity)
		if rec.IsRecordLevel() || rec.Method == anomaly.MethodDigitPreference {
			b.recordWeight += w
		} else {
			b.siteWeight += w
		}
	}
	return b
}

// recordScore normalizes the record-level burden into an anomaly rate
// when the site's observation count is known
func (b anomalyBurden) recordScore(observations int) float64 {
	if b.recordWeight == 0 {
		return 0
	}
	if observations > 0 {
		return clamp01(b.recordWeight / float64(observations) / anomalyRateSaturation)
	}
	return clamp01(b.recordWeight / anomalyCountSaturation)
}

func (b anomalyBurden) operationalScore() float64 {
	return clamp01(b.siteWeight / operationalSaturation)
}

// Scorer computes composite risk profiles from operational metrics and
// merged detection records
type Scorer struct {
	cfg    ScoringConfig
	logger *slog.Logger
	otel   *scoringTracer
}

// NewScorer validates the configuration and builds a scorer. A nil
// logger falls back to slog.Default.
func NewScorer(cfg ScoringConfig, logger *slog.Logger) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	tracer, err := newScoringTracer()
	if err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, logger: logger, otel: tracer}, nil
}

// ScoreSite computes the composite risk profile for one site from its
// operational metrics, the detection records attributable to it and its
// score history. Records carrying another site's id are ignored.
func (s *Scorer) ScoreSite(ctx context.Context, metrics SiteMetrics, records []anomaly.Record, history []HistoricalScore) (*SiteProfile, error) {
	if metrics.SiteID == "" {
		return nil, apperrors.NewInputError("site metrics missing site id", nil)
	}

	start := time.Now()
	ctx, span := s.otel.traceScoring(ctx, metrics.SiteID)
	defer span.End()

	burden := collectBurden(metrics.SiteID, records)

	components := map[Component]float64{
		ComponentDataQuality: s.dataQualityScore(metrics, burden),
		ComponentEnrollment:  s.enrollmentScore(metrics, burden),
		ComponentCompliance:  s.complianceScore(metrics),
		ComponentSafety:      s.safetyScore(metrics),
		ComponentMonitoring:  s.monitoringScore(metrics),
	}

	var overall float64
	for _, c := range Components() {
		overall += components[c] * s.cfg.Weights.For(c)
	}
	overall = clamp01(overall)
	level := s.cfg.LevelFor(overall)

	profile := &SiteProfile{
		SiteID:          metrics.SiteID,
		OverallScore:    overall,
		Level:           level,
		ComponentScores: components,
		RiskFactors:     riskFactors(metrics, components, burden),
		GeneratedAt:     time.Now().UTC(),
	}
	if len(burden.counts) > 0 {
		profile.AnomalyCounts = burden.counts
	}
	if slope, ok := trendSlope(history, s.cfg.TrendWindow); ok && slope > s.cfg.TrendSlope {
		profile.RiskFactors = append(profile.RiskFactors,
			fmt.Sprintf("risk trending upward over recent periods (slope %+.3f per period)", slope))
	}
	profile.Recommendations = recommendations(level, components)

	s.otel.recordProfile(ctx, span, profile, time.Since(start))
	s.logger.InfoContext(ctx, "site risk profile generated",
		"site_id", profile.SiteID,
		"overall_score", profile.OverallScore,
		"level", profile.Level,
		"risk_factors", len(profile.RiskFactors))
	return profile, nil
}

// dataQualityScore combines query pressure, missing data, entry lag and
// the record-level anomaly burden.
// Internal weights: queries 0.30, missing data 0.30, entry lag 0.20,
// anomaly burden 0.20.
func (s *Scorer) dataQualityScore(m SiteMetrics, b anomalyBurden) float64 {
	queries := clamp01(m.QueryRate / queryRateSaturation)
	missing := clamp01(m.MissingDataRate / missingRateSaturation)
	lag := clamp01(m.EntryLagDays / entryLagSaturationDays)
	return clamp01(0.30*queries + 0.30*missing + 0.20*lag + 0.20*b.recordScore(m.Observations))
}

// enrollmentScore combines the shortfall against the time-adjusted
// expectation with the operational detector flags.
// Internal weights: shortfall 0.70, operational flags 0.30.
func (s *Scorer) enrollmentScore(m SiteMetrics, b anomalyBurden) float64 {
	var shortfall float64
	if m.ExpectedEnrolled > 0 {
		shortfall = clamp01(1 - float64(m.Enrolled)/float64(m.ExpectedEnrolled))
	}
	return clamp01(0.70*shortfall + 0.30*b.operationalScore())
}

// complianceScore combines the per-subject deviation rate with the major
// deviation count. Internal weights: rate 0.60, majors 0.40.
func (s *Scorer) complianceScore(m SiteMetrics) float64 {
	var rate float64
	if m.Enrolled > 0 {
		rate = float64(m.ProtocolDeviations) / float64(m.Enrolled)
	}
	dev := clamp01(rate / deviationRateSaturation)
	major := clamp01(float64(m.MajorDeviations) / majorDeviationSaturation)
	return clamp01(0.60*dev + 0.40*major)
}

// safetyScore combines mean SAE reporting latency with the unreported
// SAE count. Internal weights: latency 0.60, unreported 0.40.
func (s *Scorer) safetyScore(m SiteMetrics) float64 {
	lag := clamp01(m.SAEReportingLagDays / saeLagSaturationDays)
	unreported := clamp01(float64(m.UnreportedSAEs) / unreportedSAESaturation)
	return clamp01(0.60*lag + 0.40*unreported)
}

// monitoringScore combines audit findings with open corrective actions.
// Internal weights: findings 0.60, CAPAs 0.40.
func (s *Scorer) monitoringScore(m SiteMetrics) float64 {
	findings := clamp01(float64(m.AuditFindings) / auditFindingSaturation)
	capas := clamp01(float64(m.OpenCAPAs) / openCAPASaturation)
	return clamp01(0.60*findings + 0.40*capas)
}
