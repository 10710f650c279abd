package ingest

import (
	"path/filepath"
	"strings"

	"trialpulse/internal/anomaly"
)

// labSpec maps CDISC LB-domain headers (and common flat-export
// spellings) onto the fields an Observation needs. LBSTRESN is the
// standardized numeric result; LBORRES exports are accepted as a
// fallback spelling of the value column.
var labSpec = tableSpec{
	kind: "lab",
	aliases: map[string][]string{
		"subject":  {"usubjid", "subjid", "subjectid", "subject"},
		"site":     {"siteid", "site"},
		"testcode": {"lbtestcd", "testcd", "testcode"},
		"testname": {"lbtest", "testname", "labtest"},
		"value":    {"lbstresn", "lborres", "value", "result"},
		"unit":     {"lbstresu", "lborresu", "unit", "units"},
		"reflow":   {"lbstnrlo", "lbornrlo", "reflow", "refrangelow"},
		"refhigh":  {"lbstnrhi", "lbornrhi", "refhigh", "refrangehigh"},
		"visit":    {"visitnum", "visitnumber", "visit"},
		"date":     {"lbdtc", "collectedat", "collectiondate", "date"},
		"age":      {"age", "ageyears"},
		"sex":      {"sex", "gender"},
		"race":     {"race"},
	},
	required: []string{"subject", "testcode", "value", "visit", "date"},
}

// LoadLabFile reads one LB-domain CSV or XLSX file into observations.
// Rows that fail validation are dropped and reported as quality issues;
// the load only fails outright when the file itself is unreadable or
// its layout cannot be resolved.
func LoadLabFile(path string) ([]anomaly.Observation, []DataQualityIssue, error) {
	t, err := loadTable(path, labSpec)
	if err != nil {
		return nil, nil, err
	}

	base := filepath.Base(path)
	var (
		observations []anomaly.Observation
		issues       []DataQualityIssue
	)
	for i, row := range t.rows {
		if rowEmpty(row) {
			continue
		}
		o, rowIssues, ok := parseLabRow(t, row, base, t.line(i))
		issues = append(issues, rowIssues...)
		if ok {
			observations = append(observations, o)
		}
	}
	return observations, issues, nil
}

// parseLabRow validates and converts one data row. ok=false means the
// row was rejected; the returned issues explain why. A row can also
// come back ok with warning issues attached, for fields that degraded
// instead of rejecting.
func parseLabRow(t *table, row []string, file string, line int) (anomaly.Observation, []DataQualityIssue, bool) {
	var issues []DataQualityIssue

	subjectID := t.cell(row, "subject")
	if subjectID == "" {
		issues = append(issues, rejectIssue(IssueMissingField, "", "", "usubjid", "", "subject id is required", file, line))
		return anomaly.Observation{}, issues, false
	}

	siteID := t.cell(row, "site")
	if siteID == "" {
		siteID = siteFromSubject(subjectID)
	}
	if siteID == "" {
		issues = append(issues, rejectIssue(IssueMissingField, subjectID, "", "siteid",
			"", "site id missing and not derivable from subject id", file, line))
		return anomaly.Observation{}, issues, false
	}

	testCode := strings.ToUpper(t.cell(row, "testcode"))
	if testCode == "" {
		issues = append(issues, rejectIssue(IssueMissingField, subjectID, siteID, "lbtestcd", "", "test code is required", file, line))
		return anomaly.Observation{}, issues, false
	}

	valueStr := t.cell(row, "value")
	if valueStr == "" {
		issues = append(issues, rejectIssue(IssueMissingField, subjectID, siteID, "lbstresn", "", "numeric result is required", file, line))
		return anomaly.Observation{}, issues, false
	}
	value, err := parseFloatCell(valueStr)
	if err != nil {
		issues = append(issues, rejectIssue(IssueInvalidValue, subjectID, siteID, "lbstresn",
			valueStr, "result is not numeric", file, line))
		return anomaly.Observation{}, issues, false
	}

	visitStr := t.cell(row, "visit")
	visit, err := parseIntCell(visitStr)
	if err != nil || visit < 0 {
		issues = append(issues, rejectIssue(IssueInvalidValue, subjectID, siteID, "visitnum",
			visitStr, "visit number must be a non-negative integer", file, line))
		return anomaly.Observation{}, issues, false
	}

	dateStr := t.cell(row, "date")
	collectedAt, err := parseDateCell(dateStr)
	if err != nil {
		issues = append(issues, rejectIssue(IssueInvalidDate, subjectID, siteID, "lbdtc",
			dateStr, "collection date is unparseable", file, line))
		return anomaly.Observation{}, issues, false
	}

	def, known := LookupTest(testCode)
	if known && (value < def.PlausibleLow || value > def.PlausibleHigh) {
		issues = append(issues, rejectIssue(IssueImplausible, subjectID, siteID, "lbstresn", valueStr,
			implausibleDescription(def, value), file, line))
		return anomaly.Observation{}, issues, false
	}

	o := anomaly.Observation{
		SubjectID:   subjectID,
		SiteID:      siteID,
		TestCode:    testCode,
		TestName:    t.cell(row, "testname"),
		Value:       value,
		Unit:        t.cell(row, "unit"),
		VisitNumber: visit,
		CollectedAt: collectedAt,
		Sex:         strings.ToUpper(t.cell(row, "sex")),
		Race:        strings.ToUpper(t.cell(row, "race")),
	}
	if ageStr := t.cell(row, "age"); ageStr != "" {
		age, err := parseFloatCell(ageStr)
		if err != nil || age < 0 || age > 130 {
			issues = append(issues, warnIssue(IssueInvalidValue, subjectID, siteID, "age",
				ageStr, "age ignored: not a plausible year count", file, line))
		} else {
			o.AgeYears = age
		}
	}

	issues = append(issues, annotateFromCatalog(&o, t, row, def, known, file, line)...)
	return o, issues, true
}

// siteFromSubject derives the site id from a CDISC-style subject id,
// which conventionally embeds the site as the prefix before the final
// hyphen ("SITE001-0042").
func siteFromSubject(subjectID string) string {
	if idx := strings.LastIndex(subjectID, "-"); idx > 0 {
		return subjectID[:idx]
	}
	return ""
}
