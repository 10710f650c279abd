package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Severity grades how strongly an anomaly deviates from expectation
type Severity string

const (
	SeverityNone   Severity = "NONE"
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank returns an ordering value for severity comparison
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Method identifies the detection strategy that produced a record
type Method string

const (
	// MethodZScore flags values more than a threshold of standard deviations from the cell mean
	MethodZScore Method = "zscore"
	// MethodModifiedZ flags values by the MAD-based modified z-score, robust to the outliers themselves
	MethodModifiedZ Method = "modified_zscore"
	// MethodIsolationForest scores {value, age, visit} feature vectors by isolation depth
	MethodIsolationForest Method = "isolation_forest"
	// MethodDBSCAN flags standardized values left outside every density cluster
	MethodDBSCAN Method = "dbscan"
	// MethodGrubbs tests the single most extreme value in a normally distributed cell
	MethodGrubbs Method = "grubbs"
	// MethodDigitPreference tests first and last digit frequencies for fabrication patterns
	MethodDigitPreference Method = "digit_preference"
	// MethodEnrollmentLag flags sites enrolling below their target rate
	MethodEnrollmentLag Method = "enrollment_lag"
	// MethodVelocityDrop flags sudden falls in a site's daily observation volume
	MethodVelocityDrop Method = "velocity_drop"
	// MethodDemographicSkew flags sites whose subject demographics diverge from the study
	MethodDemographicSkew Method = "demographic_skew"
)

// CellMethods lists the strategies that run per analysis cell
func CellMethods() []Method {
	return []Method{
		MethodZScore,
		MethodModifiedZ,
		MethodIsolationForest,
		MethodDBSCAN,
		MethodGrubbs,
		MethodDigitPreference,
	}
}

// SiteMethods lists the detectors that run per site across cells
func SiteMethods() []Method {
	return []Method{
		MethodEnrollmentLag,
		MethodVelocityDrop,
		MethodDemographicSkew,
	}
}

// AllMethods lists every detection method the engine knows
func AllMethods() []Method {
	return append(CellMethods(), SiteMethods()...)
}

// IsZFamily reports whether the method's score is on the
// deviations-from-center scale shared by z, modified z and Grubbs
func (m Method) IsZFamily() bool {
	return m == MethodZScore || m == MethodModifiedZ || m == MethodGrubbs
}

// Kind classifies what an anomaly is about, independent of the method
type Kind string

const (
	KindLabValue     Kind = "lab_value"
	KindMultivariate Kind = "multivariate"
	KindDigitPattern Kind = "digit_pattern"
	KindEnrollment   Kind = "enrollment"
	KindVelocity     Kind = "velocity"
	KindDemographic  Kind = "demographic"
)

// Observation is one laboratory or enrollment measurement. Observations are
// owned by the caller and treated as immutable; detectors hold references,
// never copies.
type Observation struct {
	SubjectID   string    `json:"subject_id"`
	SiteID      string    `json:"site_id"`
	TestCode    string    `json:"test_code"`
	TestName    string    `json:"test_name,omitempty"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	RefLow      float64   `json:"ref_low,omitempty"`
	RefHigh     float64   `json:"ref_high,omitempty"`
	HasRefRange bool      `json:"has_ref_range,omitempty"`
	VisitNumber int       `json:"visit_number"`
	CollectedAt time.Time `json:"collected_at"`

	// Demographic context, used by the multivariate and skew detectors.
	// Zero AgeYears and empty Sex/Race mean unknown.
	AgeYears float64 `json:"age_years,omitempty"`
	Sex      string  `json:"sex,omitempty"`
	Race     string  `json:"race,omitempty"`
}

// IsValid checks the fields every detector relies on
func (o Observation) IsValid() bool {
	return o.SubjectID != "" && o.SiteID != "" && o.TestCode != "" &&
		!math.IsNaN(o.Value) && !math.IsInf(o.Value, 0) &&
		o.VisitNumber >= 0 && !o.CollectedAt.IsZero()
}

// RangeIndicator returns "LOW", "NORMAL" or "HIGH" against the reference
// range, or "" when no range is attached
func (o Observation) RangeIndicator() string {
	if !o.HasRefRange {
		return ""
	}
	switch {
	case o.Value < o.RefLow:
		return "LOW"
	case o.Value > o.RefHigh:
		return "HIGH"
	default:
		return "NORMAL"
	}
}

// CellKey identifies one analysis cell
type CellKey struct {
	SiteID   string `json:"site_id"`
	TestCode string `json:"test_code"`
}

// String returns the canonical "site|test" form used in logs and metadata
func (k CellKey) String() string {
	return k.SiteID + "|" + k.TestCode
}

// Cell is a grouped, time-ordered view over the observations sharing a key.
// Cells are created per detection run and never persisted.
type Cell struct {
	Key          CellKey
	Observations []*Observation
}

// Len returns the number of observations in the cell
func (c *Cell) Len() int {
	return len(c.Observations)
}

// Values returns the numeric values in observation order
func (c *Cell) Values() []float64 {
	vals := make([]float64, len(c.Observations))
	for i, o := range c.Observations {
		vals[i] = o.Value
	}
	return vals
}

// sortByTime orders observations chronologically, breaking ties by subject
func (c *Cell) sortByTime() {
	sort.SliceStable(c.Observations, func(i, j int) bool {
		if !c.Observations[i].CollectedAt.Equal(c.Observations[j].CollectedAt) {
			return c.Observations[i].CollectedAt.Before(c.Observations[j].CollectedAt)
		}
		return c.Observations[i].SubjectID < c.Observations[j].SubjectID
	})
}

// Record is one detected anomaly. Each record is produced by exactly one
// method; the merger may supersede it when a higher-confidence duplicate
// exists for the same subject, test and visit.
type Record struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Method   Method   `json:"method"`
	Severity Severity `json:"severity"`

	SiteID      string `json:"site_id"`
	SubjectID   string `json:"subject_id,omitempty"`
	TestCode    string `json:"test_code,omitempty"`
	VisitNumber int    `json:"visit_number,omitempty"`

	// Observations are references into the cell the record was computed
	// from, never copies.
	Observations []*Observation `json:"-"`

	// Score is method-internal and only comparable within the same method.
	// Confidence is the score mapped onto a common [0,1] scale and is what
	// the merger compares across methods.
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`

	Description    string            `json:"description"`
	Recommendation string            `json:"recommendation,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IsRecordLevel reports whether the record points at a single subject
// measurement, the granularity at which deduplication applies. Site-level
// operational records are never deduplicated against record-level ones.
func (r Record) IsRecordLevel() bool {
	return r.SubjectID != "" && r.TestCode != ""
}

// DedupKey returns the (subject, test, visit) identity used by the merger
func (r Record) DedupKey() (string, bool) {
	if !r.IsRecordLevel() {
		return "", false
	}
	return fmt.Sprintf("%s|%s|%d", r.SubjectID, r.TestCode, r.VisitNumber), true
}

// SetMeta writes one metadata entry, allocating the map on first use
func (r *Record) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// OutcomeStatus separates "ran and found whatever it found" from
// "could not run on this input"
type OutcomeStatus int

const (
	// OutcomeRan means the method executed; zero records is a clean result
	OutcomeRan OutcomeStatus = iota
	// OutcomeSkipped means the method could not run; Err carries the reason
	OutcomeSkipped
)

// String returns the status name
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeRan:
		return "ran"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is the per-method result for one unit of work (a cell or a site)
type Outcome struct {
	Method  Method
	CellKey CellKey
	SiteID  string
	Status  OutcomeStatus
	Records []Record
	Err     error
}

// skipped builds an Outcome for a method that could not run
func skipped(method Method, key CellKey, err error) Outcome {
	return Outcome{Method: method, CellKey: key, SiteID: key.SiteID, Status: OutcomeSkipped, Err: err}
}

// ran builds an Outcome for a method that executed
func ran(method Method, key CellKey, records []Record) Outcome {
	return Outcome{Method: method, CellKey: key, SiteID: key.SiteID, Status: OutcomeRan, Records: records}
}

// ValidationError represents validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	return ve.Message
}

// ParseMethods converts a comma-separated method list into Methods,
// rejecting names the engine does not know
func ParseMethods(s string) ([]Method, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	known := make(map[Method]bool, len(AllMethods()))
	for _, m := range AllMethods() {
		known[m] = true
	}
	var methods []Method
	for _, part := range strings.Split(s, ",") {
		m := Method(strings.TrimSpace(strings.ToLower(part)))
		if m == "" {
			continue
		}
		if !known[m] {
			return nil, ValidationError{Field: "methods", Message: fmt.Sprintf("unknown detection method %q", part), Value: part}
		}
		methods = append(methods, m)
	}
	return methods, nil
}
