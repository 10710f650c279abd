package ingest

import (
	"fmt"
	"time"

	"trialpulse/internal/anomaly"
	"trialpulse/internal/risk"
)

// Issue type codes attached to DataQualityIssue records.
const (
	IssueMissingField  = "missing_field"
	IssueInvalidValue  = "invalid_value"
	IssueInvalidDate   = "invalid_date"
	IssueImplausible   = "implausible_value"
	IssueUnknownColumn = "unknown_layout"
)

// Issue severities. A rejected row never reaches the detection engine;
// a warning row is ingested with the flagged field left empty.
const (
	SeverityReject  = "reject"
	SeverityWarning = "warning"
)

// DataQualityIssue records one validation failure found while loading a
// file. Issues are collected, not fatal: bad rows are dropped or
// degraded and the load continues. The per-site issue counts feed the
// data-quality risk component downstream.
type DataQualityIssue struct {
	IssueType   string `json:"issue_type"`
	Severity    string `json:"severity"`
	SubjectID   string `json:"subject_id,omitempty"`
	SiteID      string `json:"site_id,omitempty"`
	Field       string `json:"field,omitempty"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
}

func (i DataQualityIssue) String() string {
	return fmt.Sprintf("%s/%s %s:%d field=%s: %s", i.IssueType, i.Severity, i.File, i.Line, i.Field, i.Description)
}

// Demographic is one subject's DM-domain row. Loaded separately from the
// lab tables and joined onto observations by subject id.
type Demographic struct {
	SubjectID string  `json:"subject_id"`
	SiteID    string  `json:"site_id"`
	AgeYears  float64 `json:"age_years,omitempty"`
	Sex       string  `json:"sex,omitempty"`
	Race      string  `json:"race,omitempty"`
}

// EnrollmentEvent is one subject's enrollment record. The roster backs
// per-site enrolled counts when the site-metrics table does not carry
// them. A zero EnrolledAt means the date was absent or unparseable.
type EnrollmentEvent struct {
	SubjectID  string    `json:"subject_id"`
	SiteID     string    `json:"site_id"`
	EnrolledAt time.Time `json:"enrolled_at,omitempty"`
}

// FileSummary reports what one input file contributed to the dataset.
type FileSummary struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Records  int    `json:"records"`
	Rejected int    `json:"rejected"`
}

// Dataset is everything LoadDirectory assembled: the observation set the
// detection engine consumes, the operational metrics the risk scorer
// consumes, and the quality issues found along the way.
type Dataset struct {
	Observations []anomaly.Observation  `json:"-"`
	Demographics map[string]Demographic `json:"-"`
	Enrollment   []EnrollmentEvent      `json:"-"`
	SiteMetrics  []risk.SiteMetrics     `json:"-"`
	Issues       []DataQualityIssue     `json:"issues,omitempty"`
	Files        []FileSummary          `json:"files"`
}

// Rejected counts rows dropped across all loaded files.
func (d *Dataset) Rejected() int {
	n := 0
	for _, f := range d.Files {
		n += f.Rejected
	}
	return n
}

// IssuesBySite groups quality-issue counts per site for downstream
// data-quality scoring.
func (d *Dataset) IssuesBySite() map[string]int {
	counts := make(map[string]int)
	for _, iss := range d.Issues {
		if iss.SiteID != "" {
			counts[iss.SiteID]++
		}
	}
	return counts
}
