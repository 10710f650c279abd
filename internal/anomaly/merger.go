package anomaly

import (
	"sort"
	"strings"
)

// Z-family score-to-severity buckets, shared by every method whose score
// is a deviations-from-center distance
const (
	zFamilyMediumFrom = 3.5
	zFamilyHighFrom   = 4.5
)

// Isolation-forest score buckets
const (
	iforestHighFrom   = 0.75
	iforestMediumFrom = 0.65
)

func zFamilySeverity(score float64) Severity {
	switch {
	case score >= zFamilyHighFrom:
		return SeverityHigh
	case score >= zFamilyMediumFrom:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// assignSeverity maps each record's method-internal score onto the fixed
// severity tiers. The merger owns this step so every record leaves the
// engine graded the same way regardless of which strategy produced it.
func assignSeverity(rec *Record) {
	switch {
	case rec.Method.IsZFamily(), rec.Method == MethodDBSCAN:
		rec.Severity = zFamilySeverity(rec.Score)
	case rec.Method == MethodIsolationForest:
		switch {
		case rec.Score >= iforestHighFrom:
			rec.Severity = SeverityHigh
		case rec.Score >= iforestMediumFrom:
			rec.Severity = SeverityMedium
		default:
			rec.Severity = SeverityLow
		}
	case rec.Method == MethodDigitPreference, rec.Method == MethodDemographicSkew:
		rec.Severity = pValueSeverity(1 - rec.Confidence)
	case rec.Method == MethodEnrollmentLag:
		performance := 1 - rec.Score
		switch {
		case performance < enrollmentHighBelow:
			rec.Severity = SeverityHigh
		case performance < enrollmentMediumBelow:
			rec.Severity = SeverityMedium
		default:
			rec.Severity = SeverityLow
		}
	case rec.Method == MethodVelocityDrop:
		switch {
		case rec.Score >= velocityHighFrom:
			rec.Severity = SeverityHigh
		case rec.Score >= velocityMediumFrom:
			rec.Severity = SeverityMedium
		default:
			rec.Severity = SeverityLow
		}
	default:
		if rec.Severity == "" {
			rec.Severity = SeverityLow
		}
	}
}

// Merge unions detector outputs, deduplicates record-level flags on the
// (subject, test, visit) key and grades severity. Raw scores are not
// comparable across methods, so the winner of a duplicate is the record
// with the highest normalized confidence; the superseded methods stay in
// metadata for traceability. Site-level records pass through untouched.
func Merge(records []Record) []Record {
	// Canonical input order makes the merge deterministic regardless of
	// the fan-in order the records arrived in.
	in := make([]Record, len(records))
	copy(in, records)
	sort.SliceStable(in, func(i, j int) bool {
		a, b := in[i], in[j]
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.TestCode != b.TestCode {
			return a.TestCode < b.TestCode
		}
		if a.VisitNumber != b.VisitNumber {
			return a.VisitNumber < b.VisitNumber
		}
		return a.Method < b.Method
	})

	out := make([]Record, 0, len(in))
	index := make(map[string]int)

	for _, rec := range in {
		assignSeverity(&rec)

		key, ok := rec.DedupKey()
		if !ok {
			out = append(out, rec)
			continue
		}
		pos, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, rec)
			continue
		}

		winner := out[pos]
		if rec.Confidence > winner.Confidence {
			appendSuperseded(&rec, winner.Metadata["superseded_methods"], string(winner.Method))
			out[pos] = rec
		} else {
			appendSuperseded(&out[pos], rec.Metadata["superseded_methods"], string(rec.Method))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.TestCode != b.TestCode {
			return a.TestCode < b.TestCode
		}
		return a.Method < b.Method
	})
	return out
}

// appendSuperseded folds superseded method names into the winning
// record's metadata without duplicates
func appendSuperseded(winner *Record, inherited string, methods ...string) {
	existing := winner.Metadata["superseded_methods"]
	seen := make(map[string]bool)
	var names []string
	add := func(list string) {
		for _, m := range strings.Split(list, ",") {
			m = strings.TrimSpace(m)
			if m == "" || m == string(winner.Method) || seen[m] {
				continue
			}
			seen[m] = true
			names = append(names, m)
		}
	}
	add(existing)
	add(inherited)
	add(strings.Join(methods, ","))
	if len(names) == 0 {
		return
	}
	sort.Strings(names)
	winner.SetMeta("superseded_methods", strings.Join(names, ","))
}
