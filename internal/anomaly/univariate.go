package anomaly

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	apperrors "trialpulse/internal/errors"
)

// madScale converts a MAD deviation to the modified z-score scale; it is
// the 0.75 quantile of the standard normal distribution.
const madScale = 0.6745

// zScoreStrategy flags values whose distance from the cell mean exceeds a
// fixed number of sample standard deviations. It is deliberately
// non-robust and runs in parallel with the MAD strategy, not instead of it.
type zScoreStrategy struct {
	threshold float64
	minSample int
}

func (s *zScoreStrategy) Method() Method { return MethodZScore }

func (s *zScoreStrategy) Detect(_ context.Context, cell *Cell) Outcome {
	if cell.Len() < s.minSample {
		return skipped(MethodZScore, cell.Key,
			apperrors.NewInsufficientDataError(string(MethodZScore), s.minSample, cell.Len()))
	}

	values := cell.Values()
	mean, std := meanStd(values)
	if std == 0 {
		return skipped(MethodZScore, cell.Key,
			apperrors.NewComputationError(string(MethodZScore), "cell has zero variance"))
	}

	var records []Record
	for i, o := range cell.Observations {
		z := (values[i] - mean) / std
		if math.Abs(z) <= s.threshold {
			continue
		}
		rec := newCellRecord(o, MethodZScore, KindLabValue, math.Abs(z), normalTailConfidence(z))
		rec.Description = fmt.Sprintf("%s result %.4g for subject %s is %.1f standard deviations from the cell mean %.4g",
			o.TestCode, o.Value, o.SubjectID, math.Abs(z), mean)
		rec.SetMeta("mean", fmtFloat(mean))
		rec.SetMeta("stddev", fmtFloat(std))
		rec.SetMeta("threshold", fmtFloat(s.threshold))
		records = append(records, rec)
	}
	return ran(MethodZScore, cell.Key, records)
}

// modifiedZStrategy is the robust counterpart of zScoreStrategy. Center and
// spread come from the median and the median absolute deviation, so the
// outliers under test do not distort the baseline they are tested against.
type modifiedZStrategy struct {
	threshold float64
	minSample int
}

func (s *modifiedZStrategy) Method() Method { return MethodModifiedZ }

func (s *modifiedZStrategy) Detect(_ context.Context, cell *Cell) Outcome {
	if cell.Len() < s.minSample {
		return skipped(MethodModifiedZ, cell.Key,
			apperrors.NewInsufficientDataError(string(MethodModifiedZ), s.minSample, cell.Len()))
	}

	values := cell.Values()
	med, mad := medianAbsoluteDeviation(values)
	if mad == 0 {
		return skipped(MethodModifiedZ, cell.Key,
			apperrors.NewComputationError(string(MethodModifiedZ), "median absolute deviation is zero"))
	}

	var records []Record
	for i, o := range cell.Observations {
		mz := madScale * (values[i] - med) / mad
		if math.Abs(mz) <= s.threshold {
			continue
		}
		rec := newCellRecord(o, MethodModifiedZ, KindLabValue, math.Abs(mz), normalTailConfidence(mz))
		rec.Description = fmt.Sprintf("%s result %.4g for subject %s has modified z-score %.1f against cell median %.4g",
			o.TestCode, o.Value, o.SubjectID, math.Abs(mz), med)
		rec.SetMeta("median", fmtFloat(med))
		rec.SetMeta("mad", fmtFloat(mad))
		rec.SetMeta("threshold", fmtFloat(s.threshold))
		records = append(records, rec)
	}
	return ran(MethodModifiedZ, cell.Key, records)
}

const (
	// grubbsMinSample is the method's own floor; the configured cell
	// minimum still applies on top of it
	grubbsMinSample = 7
	// grubbsAlpha is the test significance used for the critical value
	grubbsAlpha = 0.05
	// grubbsNormalityP is the minimum normality p-value to attempt the test
	grubbsNormalityP = 0.05
)

// grubbsStrategy runs Grubbs' test for a single outlier. The test assumes
// normality, so cells first pass a Jarque-Bera check; one invocation flags
// at most the single most extreme value.
type grubbsStrategy struct {
	minSample int
}

func (s *grubbsStrategy) Method() Method { return MethodGrubbs }

func (s *grubbsStrategy) Detect(_ context.Context, cell *Cell) Outcome {
	min := s.minSample
	if min < grubbsMinSample {
		min = grubbsMinSample
	}
	if cell.Len() < min {
		return skipped(MethodGrubbs, cell.Key,
			apperrors.NewInsufficientDataError(string(MethodGrubbs), min, cell.Len()))
	}

	values := cell.Values()
	mean, std := meanStd(values)
	if std == 0 {
		return skipped(MethodGrubbs, cell.Key,
			apperrors.NewComputationError(string(MethodGrubbs), "cell has zero variance"))
	}

	if p := jarqueBeraP(values); p <= grubbsNormalityP {
		return skipped(MethodGrubbs, cell.Key,
			apperrors.NewComputationError(string(MethodGrubbs),
				fmt.Sprintf("cell failed normality pre-check (p=%.4g)", p)))
	}

	// Largest absolute deviation from the mean
	extremeIdx := 0
	g := 0.0
	for i, v := range values {
		if dev := math.Abs(v - mean); dev/std > g {
			g = dev / std
			extremeIdx = i
		}
	}

	crit := grubbsCriticalValue(cell.Len(), grubbsAlpha)
	if g <= crit {
		return ran(MethodGrubbs, cell.Key, nil)
	}

	o := cell.Observations[extremeIdx]
	rec := newCellRecord(o, MethodGrubbs, KindLabValue, g, normalTailConfidence(g))
	rec.Description = fmt.Sprintf("%s result %.4g for subject %s is the cell's most extreme value (G=%.2f, critical=%.2f)",
		o.TestCode, o.Value, o.SubjectID, g, crit)
	rec.SetMeta("g_statistic", fmtFloat(g))
	rec.SetMeta("critical_value", fmtFloat(crit))
	rec.SetMeta("alpha", fmtFloat(grubbsAlpha))
	return ran(MethodGrubbs, cell.Key, []Record{rec})
}

// grubbsCriticalValue computes the two-sided rejection bound for n points
// at significance alpha from the Student's t quantile
func grubbsCriticalValue(n int, alpha float64) float64 {
	nf := float64(n)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nf - 2}.Quantile(alpha / (2 * nf))
	t2 := t * t
	return (nf - 1) / math.Sqrt(nf) * math.Sqrt(t2/(nf-2+t2))
}
