package anomaly

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "trialpulse/internal/errors"
)

// digitMinSample is the method's own floor of usable digits per test
const digitMinSample = 30

// benfordProbs holds P(first digit = d) for d = 1..9 under Benford's law
var benfordProbs = [9]float64{
	0.30103, 0.17609, 0.12494, 0.09691, 0.07918,
	0.06695, 0.05799, 0.05115, 0.04576,
}

// digitPreferenceStrategy tests the first-digit distribution against
// Benford's law and the last-digit distribution against uniformity.
// Deviations signal fabricated or over-rounded data rather than value
// outliers, so the findings describe the whole cell, not one subject.
type digitPreferenceStrategy struct {
	significance float64
	minSample    int
}

func (s *digitPreferenceStrategy) Method() Method { return MethodDigitPreference }

func (s *digitPreferenceStrategy) Detect(_ context.Context, cell *Cell) Outcome {
	min := s.minSample
	if min < digitMinSample {
		min = digitMinSample
	}
	if cell.Len() < min {
		return skipped(MethodDigitPreference, cell.Key,
			apperrors.NewInsufficientDataError(string(MethodDigitPreference), min, cell.Len()))
	}

	var firstCounts [9]float64
	var lastCounts [10]float64
	firstN, lastN := 0, 0
	for _, o := range cell.Observations {
		if d, ok := firstDigit(o.Value); ok {
			firstCounts[d-1]++
			firstN++
		}
		if d, ok := lastDigit(o.Value); ok {
			lastCounts[d]++
			lastN++
		}
	}
	if firstN < min && lastN < min {
		return skipped(MethodDigitPreference, cell.Key,
			apperrors.NewInsufficientDataError(string(MethodDigitPreference), min, firstN))
	}

	var records []Record

	if firstN >= min {
		expected := make([]float64, 9)
		for d := range expected {
			expected[d] = benfordProbs[d] * float64(firstN)
		}
		chi2 := chiSquareStat(firstCounts[:], expected)
		p := chiSquareSurvival(chi2, 8)
		if p < s.significance {
			records = append(records, s.newDigitRecord(cell, "first_digit", chi2, p,
				fmt.Sprintf("first-digit distribution of %s at site %s deviates from Benford expectation (chi2=%.1f, p=%s)",
					cell.Key.TestCode, cell.Key.SiteID, chi2, fmtP(p))))
		}
	}

	if lastN >= min {
		expected := make([]float64, 10)
		for d := range expected {
			expected[d] = float64(lastN) / 10
		}
		chi2 := chiSquareStat(lastCounts[:], expected)
		p := chiSquareSurvival(chi2, 9)
		if p < s.significance {
			records = append(records, s.newDigitRecord(cell, "last_digit", chi2, p,
				fmt.Sprintf("last-digit distribution of %s at site %s is not uniform (chi2=%.1f, p=%s)",
					cell.Key.TestCode, cell.Key.SiteID, chi2, fmtP(p))))
		}
	}

	return ran(MethodDigitPreference, cell.Key, records)
}

func (s *digitPreferenceStrategy) newDigitRecord(cell *Cell, test string, chi2, p float64, desc string) Record {
	rec := newCellWideRecord(cell, MethodDigitPreference, KindDigitPattern, chi2, 1-p)
	rec.Description = desc
	rec.SetMeta("digit_test", test)
	rec.SetMeta("p_value", fmtP(p))
	rec.SetMeta("significance", fmtFloat(s.significance))
	return rec
}

// firstDigit returns the leading significant digit of v, scaling values
// outside [1, 10) by powers of ten. Zero has no leading digit.
func firstDigit(v float64) (int, bool) {
	v = math.Abs(v)
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	for v >= 10 {
		v /= 10
	}
	for v < 1 {
		v *= 10
	}
	return int(v), true
}

// lastDigit returns the terminal digit of v's shortest decimal form, the
// digit a site's staff actually wrote down last
func lastDigit(v float64) (int, bool) {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	s := strconv.FormatFloat(math.Abs(v), 'g', -1, 64)
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] >= '0' && s[i] <= '9' {
			return int(s[i] - '0'), true
		}
	}
	return 0, false
}

// pValueSeverity grades significance-test findings by how far below the
// cutoff the p-value landed
func pValueSeverity(p float64) Severity {
	switch {
	case p < 1e-4:
		return SeverityHigh
	case p < 1e-3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
