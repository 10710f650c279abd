package anomaly

import (
	"fmt"
	"math"

	apperrors "trialpulse/internal/errors"
)

// GroupKeyFunc derives the analysis-cell key for one observation
type GroupKeyFunc func(*Observation) CellKey

// GroupBySiteTest partitions observations by site and test code, the
// default granularity for the distribution strategies
func GroupBySiteTest(o *Observation) CellKey {
	return CellKey{SiteID: o.SiteID, TestCode: o.TestCode}
}

// GroupBySite partitions observations by site alone
func GroupBySite(o *Observation) CellKey {
	return CellKey{SiteID: o.SiteID}
}

// InputIssue records one observation rejected at the engine boundary.
// Rejected observations never reach a cell; the issue itself is the
// data-quality signal.
type InputIssue struct {
	Observation *Observation
	Err         error
}

// validateObservation mirrors Observation.IsValid but names the first
// offending field so the issue is actionable
func validateObservation(o *Observation) error {
	switch {
	case o.SubjectID == "":
		return apperrors.NewInputError("observation missing subject id", nil)
	case o.SiteID == "":
		return apperrors.NewInputError("observation missing site id", nil)
	case o.TestCode == "":
		return apperrors.NewInputError("observation missing test code", nil)
	case math.IsNaN(o.Value) || math.IsInf(o.Value, 0):
		return apperrors.NewInputError(fmt.Sprintf("observation value is not finite: %v", o.Value), nil)
	case o.VisitNumber < 0:
		return apperrors.NewInputError(fmt.Sprintf("observation visit number is negative: %d", o.VisitNumber), nil)
	case o.CollectedAt.IsZero():
		return apperrors.NewInputError("observation missing collection timestamp", nil)
	default:
		return nil
	}
}

// Partition splits records into analysis cells keyed by keyFn. Malformed
// records are excluded per-record and returned as InputIssues; they never
// abort the run. Cells keep caller-owned observations by reference and are
// ordered chronologically.
func Partition(records []Observation, keyFn GroupKeyFunc) (map[CellKey]*Cell, []InputIssue) {
	cells := make(map[CellKey]*Cell)
	var issues []InputIssue

	for i := range records {
		o := &records[i]
		if err := validateObservation(o); err != nil {
			issues = append(issues, InputIssue{Observation: o, Err: err})
			continue
		}
		key := keyFn(o)
		cell, ok := cells[key]
		if !ok {
			cell = &Cell{Key: key}
			cells[key] = cell
		}
		cell.Observations = append(cell.Observations, o)
	}

	for _, cell := range cells {
		cell.sortByTime()
	}
	return cells, issues
}
