package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/stat/distuv"
)

// TestMedian tests the interpolated median
func TestMedian(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"odd count", []float64{3, 1, 2}, 2},
		{"even count interpolates", []float64{1, 2, 3, 4}, 2.5},
		{"single value", []float64{7}, 7},
		{"unsorted input", []float64{10, 2, 8, 4}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, median(tt.values), 1e-12)
		})
	}
}

// TestMedianAbsoluteDeviation tests the MAD around the median
func TestMedianAbsoluteDeviation(t *testing.T) {
	med, mad := medianAbsoluteDeviation([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	assert.InDelta(t, 5.0, med, 1e-12)
	// deviations from 5: {4,3,2,1,0,1,2,3,4} -> median 2
	assert.InDelta(t, 2.0, mad, 1e-12)

	med, mad = medianAbsoluteDeviation([]float64{3, 3, 3, 3})
	assert.InDelta(t, 3.0, med, 1e-12)
	assert.Zero(t, mad)
}

// TestStandardize tests z-standardization and its degenerate case
func TestStandardize(t *testing.T) {
	t.Run("centers and scales", func(t *testing.T) {
		std, ok := standardize([]float64{2, 4, 6})
		require.True(t, ok)
		require.Len(t, std, 3)
		assert.InDelta(t, -1.0, std[0], 1e-12)
		assert.InDelta(t, 0.0, std[1], 1e-12)
		assert.InDelta(t, 1.0, std[2], 1e-12)
	})

	t.Run("zero variance fails", func(t *testing.T) {
		_, ok := standardize([]float64{5, 5, 5, 5})
		assert.False(t, ok)
	})
}

// TestNormalTailConfidence tests the two-sided normal tail mapping
func TestNormalTailConfidence(t *testing.T) {
	assert.InDelta(t, 0.0, normalTailConfidence(0), 1e-12)
	// 2*Phi(1.96)-1 is the familiar 95%
	assert.InDelta(t, 0.95, normalTailConfidence(1.96), 1e-3)
	assert.InDelta(t, 0.9973, normalTailConfidence(3.0), 1e-4)
	// symmetric in the score sign
	assert.Equal(t, normalTailConfidence(2.5), normalTailConfidence(-2.5))
	assert.LessOrEqual(t, normalTailConfidence(40), 1.0)
}

// TestChiSquare tests the statistic and survival helpers
func TestChiSquare(t *testing.T) {
	t.Run("statistic", func(t *testing.T) {
		// (10-5)^2/5 + (0-5)^2/5 = 10
		assert.InDelta(t, 10.0, chiSquareStat([]float64{10, 0}, []float64{5, 5}), 1e-12)
		// zero expected classes are skipped
		assert.InDelta(t, 0.0, chiSquareStat([]float64{3, 0}, []float64{3, 0}), 1e-12)
	})

	t.Run("survival", func(t *testing.T) {
		// dof 2 survival is exp(-x/2)
		assert.InDelta(t, 0.0821, chiSquareSurvival(5, 2), 1e-4)
		assert.InDelta(t, 1.0, chiSquareSurvival(0, 4), 1e-12)
		assert.Less(t, chiSquareSurvival(40, 8), 1e-5)
	})
}

// TestKSPValue tests the asymptotic two-sample significance
func TestKSPValue(t *testing.T) {
	// tiny separation on a modest sample is not significant
	assert.Greater(t, ksPValue(0.1, 30, 30), 0.5)
	// complete separation is
	assert.Less(t, ksPValue(1.0, 24, 48), 1e-3)
	// p shrinks as D grows
	assert.Greater(t, ksPValue(0.2, 50, 50), ksPValue(0.5, 50, 50))
}

// TestJarqueBeraP tests the normality pre-check
func TestJarqueBeraP(t *testing.T) {
	t.Run("normal shape passes", func(t *testing.T) {
		dist := distuv.Normal{Mu: 0, Sigma: 1}
		values := make([]float64, 100)
		for i := range values {
			values[i] = dist.Quantile((float64(i) + 0.5) / 100)
		}
		assert.Greater(t, jarqueBeraP(values), 0.05)
	})

	t.Run("uniform shape is rejected", func(t *testing.T) {
		values := make([]float64, 200)
		for i := range values {
			values[i] = float64(i)
		}
		// platykurtic: JB = n/6 * (K^2/4) with K near -1.2
		assert.Less(t, jarqueBeraP(values), 0.05)
	})

	t.Run("heavy right skew is rejected", func(t *testing.T) {
		values := make([]float64, 0, 25)
		for i := 0; i < 20; i++ {
			values = append(values, 1)
		}
		values = append(values, 50, 60, 70, 80, 90)
		assert.Less(t, jarqueBeraP(values), 0.01)
	})

	t.Run("constant input is not rejected", func(t *testing.T) {
		assert.Equal(t, 1.0, jarqueBeraP([]float64{4, 4, 4, 4}))
	})
}
