package risk

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// elevatedComponentFrom is the component score at which a component
// starts contributing risk factors and targeted recommendations
const elevatedComponentFrom = 0.6

// riskFactors names the drivers behind a profile in reporting order
func riskFactors(m SiteMetrics, components map[Component]float64, b anomalyBurden) []string {
	var factors []string
	if n := b.counts["HIGH"]; n > 0 {
		factors = append(factors, fmt.Sprintf("%d high-severity anomalies in current detection run", n))
	}
	for _, c := range Components() {
		score := components[c]
		if score < elevatedComponentFrom {
			continue
		}
		factors = append(factors, componentFactor(c, score, m))
	}
	return factors
}

// componentFactor explains one elevated component with its raw numbers
func componentFactor(c Component, score float64, m SiteMetrics) string {
	switch c {
	case ComponentDataQuality:
		return fmt.Sprintf("data quality degraded (score %.2f): %.1f queries per 100 points, %.0f%% fields missing, %.1f day entry lag",
			score, m.QueryRate, m.MissingDataRate*100, m.EntryLagDays)
	case ComponentEnrollment:
		return fmt.Sprintf("enrollment behind plan (score %.2f): %d of %d expected subjects",
			score, m.Enrolled, m.ExpectedEnrolled)
	case ComponentCompliance:
		return fmt.Sprintf("protocol compliance failing (score %.2f): %d deviations, %d major",
			score, m.ProtocolDeviations, m.MajorDeviations)
	case ComponentSafety:
		return fmt.Sprintf("safety reporting delayed (score %.2f): %.1f day mean SAE lag, %d unreported",
			score, m.SAEReportingLagDays, m.UnreportedSAEs)
	case ComponentMonitoring:
		return fmt.Sprintf("monitoring backlog (score %.2f): %d audit findings, %d open CAPAs",
			score, m.AuditFindings, m.OpenCAPAs)
	default:
		return fmt.Sprintf("%s elevated (score %.2f)", c, score)
	}
}

// recommendations follows the monitoring escalation ladder for the level,
// then adds an action per elevated component
func recommendations(level RiskLevel, components map[Component]float64) []string {
	var recs []string
	switch level {
	case RiskHigh:
		recs = append(recs, "schedule a triggered on-site monitoring visit")
	case RiskMedium:
		recs = append(recs, "increase remote monitoring frequency and review open issues with the site")
	default:
		recs = append(recs, "continue routine monitoring cadence")
	}

	for _, c := range Components() {
		if components[c] < elevatedComponentFrom {
			continue
		}
		switch c {
		case ComponentDataQuality:
			recs = append(recs, "audit recent data entry and work down the open query backlog")
		case ComponentEnrollment:
			recs = append(recs, "review screening logs and recruitment strategy with the site")
		case ComponentCompliance:
			recs = append(recs, "retrain site staff on protocol procedures and document corrective steps")
		case ComponentSafety:
			recs = append(recs, "reconcile the SAE log against source records immediately")
		case ComponentMonitoring:
			recs = append(recs, "close out overdue corrective actions before the next visit")
		}
	}
	return recs
}

// trendSlope fits a least-squares line through the most recent overall
// scores, oldest first, and returns the per-period slope. ok is false
// with fewer than two usable points.
func trendSlope(history []HistoricalScore, window int) (float64, bool) {
	if len(history) < 2 || window < 2 {
		return 0, false
	}

	sorted := make([]HistoricalScore, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PeriodEnd.Before(sorted[j].PeriodEnd)
	})
	if len(sorted) > window {
		sorted = sorted[len(sorted)-window:]
	}

	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	for i, h := range sorted {
		xs[i] = float64(i)
		ys[i] = h.OverallScore
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope, true
}
