package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// meanStd returns the sample mean and sample standard deviation
func meanStd(values []float64) (float64, float64) {
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// median returns the interpolated median of values
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// medianAbsoluteDeviation returns the cell median and the median absolute
// deviation around it
func medianAbsoluteDeviation(values []float64) (float64, float64) {
	med := median(values)
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return med, median(devs)
}

// standardize maps values to (x-mean)/std. ok is false when the standard
// deviation is zero and the transform is undefined.
func standardize(values []float64) ([]float64, bool) {
	mean, std := meanStd(values)
	if std == 0 {
		return nil, false
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out, true
}

// clamp01 bounds v to [0, 1]
func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// normalTailConfidence maps a deviations-from-center score onto [0,1] as
// the two-sided normal probability mass inside |score|. A score of 3
// maps to ~0.997, making z-family and standardized-distance methods
// comparable during deduplication.
func normalTailConfidence(score float64) float64 {
	return clamp01(2*stdNormal.CDF(math.Abs(score)) - 1)
}

// chiSquareSurvival returns P(X >= x) for a chi-squared distribution
// with dof degrees of freedom
func chiSquareSurvival(x float64, dof float64) float64 {
	if x <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: dof}.Survival(x)
}

// chiSquareStat computes the goodness-of-fit statistic for observed counts
// against expected counts. Expected entries of zero are skipped.
func chiSquareStat(observed, expected []float64) float64 {
	var sum float64
	for i := range observed {
		if expected[i] <= 0 {
			continue
		}
		d := observed[i] - expected[i]
		sum += d * d / expected[i]
	}
	return sum
}

// ksPValue approximates the two-sample Kolmogorov-Smirnov p-value from the
// D statistic using the asymptotic Kolmogorov distribution
func ksPValue(d float64, n1, n2 int) float64 {
	if d <= 0 || n1 == 0 || n2 == 0 {
		return 1
	}
	ne := float64(n1) * float64(n2) / float64(n1+n2)
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * d

	var sum float64
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j)*float64(j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	return clamp01(2 * sum)
}

// jarqueBeraP returns the p-value of the Jarque-Bera normality test. The
// moments are computed directly so the statistic matches its chi-squared
// reference distribution without small-sample corrections.
func jarqueBeraP(values []float64) float64 {
	n := float64(len(values))
	if n < 3 {
		return 1
	}
	mean := stat.Mean(values, nil)

	var m2, m3, m4 float64
	for _, v := range values {
		d := v - mean
		m2 += d * d
		m3 += d * d * d
		m4 += d * d * d * d
	}
	m2 /= n
	m3 /= n
	m4 /= n
	if m2 == 0 {
		return 1
	}

	skew := m3 / math.Pow(m2, 1.5)
	exKurt := m4/(m2*m2) - 3
	jb := n / 6 * (skew*skew + exKurt*exKurt/4)
	return chiSquareSurvival(jb, 2)
}
