package ingest

import (
	"fmt"

	"trialpulse/internal/anomaly"
)

// annotateFromCatalog fills the observation's reference range and
// display fields, preferring values carried by the file and falling
// back to the catalog. A range given in the file but unparseable is
// degraded to the catalog range with a warning.
func annotateFromCatalog(o *anomaly.Observation, t *table, row []string, def TestDef, known bool, file string, line int) []DataQualityIssue {
	var issues []DataQualityIssue

	lowStr, highStr := t.cell(row, "reflow"), t.cell(row, "refhigh")
	if lowStr != "" && highStr != "" {
		low, lerr := parseFloatCell(lowStr)
		high, herr := parseFloatCell(highStr)
		if lerr == nil && herr == nil && low <= high {
			o.RefLow, o.RefHigh, o.HasRefRange = low, high, true
		} else {
			issues = append(issues, warnIssue(IssueInvalidValue, o.SubjectID, o.SiteID, "lbstnrlo",
				lowStr+"/"+highStr, "reference range ignored: unparseable or inverted", file, line))
		}
	}

	if !known {
		return issues
	}
	if !o.HasRefRange {
		o.RefLow, o.RefHigh, o.HasRefRange = def.RefLow, def.RefHigh, true
	}
	if o.TestName == "" {
		o.TestName = def.Name
	}
	if o.Unit == "" {
		o.Unit = def.Unit
	}
	return issues
}

// implausibleDescription names the violated bound.
func implausibleDescription(def TestDef, value float64) string {
	return fmt.Sprintf("%s result %g outside plausible bounds [%g, %g]; likely unit or transcription error",
		def.Code, value, def.PlausibleLow, def.PlausibleHigh)
}

func rejectIssue(issueType, subjectID, siteID, field, value, description, file string, line int) DataQualityIssue {
	return DataQualityIssue{
		IssueType:   issueType,
		Severity:    SeverityReject,
		SubjectID:   subjectID,
		SiteID:      siteID,
		Field:       field,
		Value:       value,
		Description: description,
		File:        file,
		Line:        line,
	}
}

func warnIssue(issueType, subjectID, siteID, field, value, description, file string, line int) DataQualityIssue {
	i := rejectIssue(issueType, subjectID, siteID, field, value, description, file, line)
	i.Severity = SeverityWarning
	return i
}

// countRejects counts reject-severity issues; each corresponds to one
// dropped row.
func countRejects(issues []DataQualityIssue) int {
	n := 0
	for _, iss := range issues {
		if iss.Severity == SeverityReject {
			n++
		}
	}
	return n
}
