package ingest

import (
	"path/filepath"
	"strings"
)

// dmSpec maps CDISC DM-domain headers. Only the demographic fields the
// detectors consume are read; the rest of the domain is ignored.
var dmSpec = tableSpec{
	kind: "demographics",
	aliases: map[string][]string{
		"subject": {"usubjid", "subjid", "subjectid", "subject"},
		"site":    {"siteid", "site"},
		"age":     {"age", "ageyears"},
		"sex":     {"sex", "gender"},
		"race":    {"race"},
	},
	required: []string{"subject"},
}

// LoadDemographicsFile reads one DM-domain CSV or XLSX file into a
// subject-keyed map. The first row seen for a subject wins; repeat rows
// from re-screening are common and not an error.
func LoadDemographicsFile(path string) (map[string]Demographic, []DataQualityIssue, error) {
	t, err := loadTable(path, dmSpec)
	if err != nil {
		return nil, nil, err
	}

	base := filepath.Base(path)
	demographics := make(map[string]Demographic)
	var issues []DataQualityIssue

	for i, row := range t.rows {
		if rowEmpty(row) {
			continue
		}
		line := t.line(i)

		subjectID := t.cell(row, "subject")
		if subjectID == "" {
			issues = append(issues, rejectIssue(IssueMissingField, "", "", "usubjid", "", "subject id is required", base, line))
			continue
		}
		if _, seen := demographics[subjectID]; seen {
			continue
		}

		siteID := t.cell(row, "site")
		if siteID == "" {
			siteID = siteFromSubject(subjectID)
		}

		d := Demographic{
			SubjectID: subjectID,
			SiteID:    siteID,
			Sex:       strings.ToUpper(t.cell(row, "sex")),
			Race:      strings.ToUpper(t.cell(row, "race")),
		}
		if ageStr := t.cell(row, "age"); ageStr != "" {
			age, err := parseFloatCell(ageStr)
			if err != nil || age < 0 || age > 130 {
				issues = append(issues, warnIssue(IssueInvalidValue, subjectID, siteID, "age",
					ageStr, "age ignored: not a plausible year count", base, line))
			} else {
				d.AgeYears = age
			}
		}
		demographics[subjectID] = d
	}
	return demographics, issues, nil
}
