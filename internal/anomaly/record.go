package anomaly

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// newCellRecord builds a record-level anomaly for one observation in a cell
func newCellRecord(o *Observation, method Method, kind Kind, score, confidence float64) Record {
	return Record{
		ID:           uuid.NewString(),
		Kind:         kind,
		Method:       method,
		SiteID:       o.SiteID,
		SubjectID:    o.SubjectID,
		TestCode:     o.TestCode,
		VisitNumber:  o.VisitNumber,
		Observations: []*Observation{o},
		Score:        score,
		Confidence:   clamp01(confidence),
	}
}

// newSiteRecord builds a site-level operational anomaly
func newSiteRecord(siteID string, method Method, kind Kind, score, confidence float64) Record {
	return Record{
		ID:         uuid.NewString(),
		Kind:       kind,
		Method:     method,
		SiteID:     siteID,
		Score:      score,
		Confidence: clamp01(confidence),
	}
}

// newCellWideRecord builds an anomaly about a whole cell's distribution,
// such as a digit-preference pattern. It references every observation in
// the cell but no single subject, so it is never deduplicated against
// record-level flags.
func newCellWideRecord(cell *Cell, method Method, kind Kind, score, confidence float64) Record {
	return Record{
		ID:           uuid.NewString(),
		Kind:         kind,
		Method:       method,
		SiteID:       cell.Key.SiteID,
		TestCode:     cell.Key.TestCode,
		Observations: cell.Observations,
		Score:        score,
		Confidence:   clamp01(confidence),
	}
}

// fmtFloat renders metadata numbers compactly
func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// fmtP renders p-values with enough precision to compare against cutoffs
func fmtP(p float64) string {
	return fmt.Sprintf("%.6g", p)
}
