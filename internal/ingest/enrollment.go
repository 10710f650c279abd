package ingest

import "path/filepath"

// enrollSpec maps enrollment-roster headers. RFICDTC (informed consent)
// is accepted as the enrollment date when no dedicated column exists.
var enrollSpec = tableSpec{
	kind: "enrollment",
	aliases: map[string][]string{
		"subject": {"usubjid", "subjid", "subjectid", "subject"},
		"site":    {"siteid", "site"},
		"date":    {"enrolldtc", "enrollmentdate", "enrolledat", "rficdtc", "date"},
	},
	required: []string{"subject"},
}

// LoadEnrollmentFile reads one enrollment roster. One event per subject;
// repeats are dropped. An unparseable date degrades to a zero time with
// a warning rather than rejecting the event, since the roster is mostly
// consumed as per-site counts.
func LoadEnrollmentFile(path string) ([]EnrollmentEvent, []DataQualityIssue, error) {
	t, err := loadTable(path, enrollSpec)
	if err != nil {
		return nil, nil, err
	}

	base := filepath.Base(path)
	seen := make(map[string]bool)
	var (
		events []EnrollmentEvent
		issues []DataQualityIssue
	)
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
		if seen[subjectID] {
			continue
		}
		seen[subjectID] = true

		siteID := t.cell(row, "site")
		if siteID == "" {
			siteID = siteFromSubject(subjectID)
		}
		if siteID == "" {
			issues = append(issues, rejectIssue(IssueMissingField, subjectID, "", "siteid",
				"", "site id missing and not derivable from subject id", base, line))
			continue
		}

		ev := EnrollmentEvent{SubjectID: subjectID, SiteID: siteID}
		if dateStr := t.cell(row, "date"); dateStr != "" {
			at, err := parseDateCell(dateStr)
			if err != nil {
				issues = append(issues, warnIssue(IssueInvalidDate, subjectID, siteID, "enrolldtc",
					dateStr, "enrollment date ignored: unparseable", base, line))
			} else {
				ev.EnrolledAt = at
			}
		}
		events = append(events, ev)
	}
	return events, issues, nil
}
