package ingest

import (
	"path/filepath"

	"trialpulse/internal/risk"
)

// metricsSpec maps site-metrics headers onto risk.SiteMetrics fields.
// Every numeric column is optional; absent or blank cells default to
// zero the way the scorer expects.
var metricsSpec = tableSpec{
	kind: "site metrics",
	aliases: map[string][]string{
		"site":             {"siteid", "site"},
		"observations":     {"observations", "datapoints", "labrecords"},
		"queryrate":        {"queryrate", "queriesper100"},
		"missingrate":      {"missingdatarate", "missingrate"},
		"entrylag":         {"entrylagdays", "entrylag"},
		"enrolled":         {"enrolled", "enrolledcount", "subjectsenrolled"},
		"expectedenrolled": {"expectedenrolled", "expected", "enrollmenttarget"},
		"deviations":       {"protocoldeviations", "deviations"},
		"majordeviations":  {"majordeviations"},
		"saelag":           {"saereportinglagdays", "saelagdays", "saelag"},
		"unreportedsaes":   {"unreportedsaes"},
		"auditfindings":    {"auditfindings", "findings"},
		"opencapas":        {"opencapas", "capas"},
	},
	required: []string{"site"},
}

// LoadSiteMetricsFile reads one site-metrics CSV or XLSX table, one row
// per site. Repeated site rows keep the first occurrence.
func LoadSiteMetricsFile(path string) ([]risk.SiteMetrics, []DataQualityIssue, error) {
	t, err := loadTable(path, metricsSpec)
	if err != nil {
		return nil, nil, err
	}

	base := filepath.Base(path)
	seen := make(map[string]bool)
	var (
		metrics []risk.SiteMetrics
		issues  []DataQualityIssue
	)
	for i, row := range t.rows {
		if rowEmpty(row) {
			continue
		}
		line := t.line(i)

		siteID := t.cell(row, "site")
		if siteID == "" {
			issues = append(issues, rejectIssue(IssueMissingField, "", "", "siteid", "", "site id is required", base, line))
			continue
		}
		if seen[siteID] {
			continue
		}
		seen[siteID] = true

		m := risk.SiteMetrics{SiteID: siteID}
		m.Observations = intField(t, row, "observations", siteID, base, line, &issues)
		m.QueryRate = floatField(t, row, "queryrate", siteID, base, line, &issues)
		m.MissingDataRate = floatField(t, row, "missingrate", siteID, base, line, &issues)
		m.EntryLagDays = floatField(t, row, "entrylag", siteID, base, line, &issues)
		m.Enrolled = intField(t, row, "enrolled", siteID, base, line, &issues)
		m.ExpectedEnrolled = intField(t, row, "expectedenrolled", siteID, base, line, &issues)
		m.ProtocolDeviations = intField(t, row, "deviations", siteID, base, line, &issues)
		m.MajorDeviations = intField(t, row, "majordeviations", siteID, base, line, &issues)
		m.SAEReportingLagDays = floatField(t, row, "saelag", siteID, base, line, &issues)
		m.UnreportedSAEs = intField(t, row, "unreportedsaes", siteID, base, line, &issues)
		m.AuditFindings = intField(t, row, "auditfindings", siteID, base, line, &issues)
		m.OpenCAPAs = intField(t, row, "opencapas", siteID, base, line, &issues)
		metrics = append(metrics, m)
	}
	return metrics, issues, nil
}

// floatField reads an optional numeric cell, defaulting to zero.
// Non-empty garbage is warned about, not rejected over.
func floatField(t *table, row []string, field, siteID, file string, line int, issues *[]DataQualityIssue) float64 {
	s := t.cell(row, field)
	if s == "" {
		return 0
	}
	v, err := parseFloatCell(s)
	if err != nil {
		*issues = append(*issues, warnIssue(IssueInvalidValue, "", siteID, field,
			s, "metric ignored: not numeric", file, line))
		return 0
	}
	return v
}

func intField(t *table, row []string, field, siteID, file string, line int, issues *[]DataQualityIssue) int {
	return int(floatField(t, row, field, siteID, file, line, issues))
}
