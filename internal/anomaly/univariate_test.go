package anomaly

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "trialpulse/internal/errors"
)

// spreadValues builds n values cycling through a small range so the cell
// has ordinary variance without any outliers
func spreadValues(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = 97 + float64(i%7)
	}
	return values
}

// TestZScoreStrategy tests the standard-score outlier strategy
func TestZScoreStrategy(t *testing.T) {
	strat := &zScoreStrategy{threshold: 3.0, minSample: 10}
	ctx := context.Background()

	t.Run("skips small cells", func(t *testing.T) {
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", spreadValues(5)))
		assert.Equal(t, OutcomeSkipped, out.Status)
		assert.True(t, apperrors.IsInsufficientData(out.Err))
	})

	t.Run("skips zero variance cells", func(t *testing.T) {
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", []float64{
			100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100,
		}))
		assert.Equal(t, OutcomeSkipped, out.Status)
		assert.True(t, apperrors.IsComputation(out.Err))
	})

	t.Run("clean cell produces no records", func(t *testing.T) {
		values := make([]float64, 20)
		for i := range values {
			values[i] = 90 + float64(i)
		}
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", values))
		assert.Equal(t, OutcomeRan, out.Status)
		assert.Empty(t, out.Records)
	})

	t.Run("flags a planted extreme", func(t *testing.T) {
		values := append(spreadValues(29), 140)
		cell := cellOf(t, "SITE001", "GLUC", values)

		out := strat.Detect(ctx, cell)
		require.Equal(t, OutcomeRan, out.Status)
		require.Len(t, out.Records, 1)

		rec := out.Records[0]
		assert.Equal(t, MethodZScore, rec.Method)
		assert.Equal(t, "SITE001-0030", rec.SubjectID)
		assert.Equal(t, "GLUC", rec.TestCode)
		assert.Greater(t, rec.Score, 3.0)
		assert.Greater(t, rec.Confidence, 0.99)
		assert.Equal(t, "3", rec.Metadata["threshold"])
		assert.NotEmpty(t, rec.Description)
	})
}

// TestModifiedZStrategy tests the MAD-based robust strategy
func TestModifiedZStrategy(t *testing.T) {
	strat := &modifiedZStrategy{threshold: 3.5, minSample: 10}
	ctx := context.Background()

	t.Run("skips when the MAD collapses", func(t *testing.T) {
		// more than half the values identical leaves MAD at zero even
		// though the cell plainly contains an outlier
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", []float64{
			5, 5, 5, 5, 5, 5, 5, 5, 5, 100,
		}))
		assert.Equal(t, OutcomeSkipped, out.Status)
		assert.True(t, apperrors.IsComputation(out.Err))
	})

	t.Run("flags a planted extreme", func(t *testing.T) {
		values := append(spreadValues(29), 140)
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", values))
		require.Equal(t, OutcomeRan, out.Status)
		require.Len(t, out.Records, 1)
		assert.Equal(t, "SITE001-0030", out.Records[0].SubjectID)
		assert.Greater(t, out.Records[0].Score, 3.5)
	})

	t.Run("agrees with the z-score on gross outliers", func(t *testing.T) {
		// a >10 sigma injection must be caught by both strategies
		values := append(spreadValues(29), 140)
		cell := cellOf(t, "SITE001", "GLUC", values)

		zOut := (&zScoreStrategy{threshold: 3.0, minSample: 10}).Detect(ctx, cell)
		madOut := strat.Detect(ctx, cell)
		require.Len(t, zOut.Records, 1)
		require.Len(t, madOut.Records, 1)
		assert.Equal(t, zOut.Records[0].SubjectID, madOut.Records[0].SubjectID)
		assert.Equal(t, zOut.Records[0].VisitNumber, madOut.Records[0].VisitNumber)
	})
}

// grubbsBase builds a near-normal cell from evenly spaced normal quantiles
func grubbsBase(n int, mu, sigma float64) []float64 {
	dist := distuv.Normal{Mu: mu, Sigma: sigma}
	values := make([]float64, n)
	for i := range values {
		values[i] = dist.Quantile((float64(i) + 0.5) / float64(n))
	}
	return values
}

// TestGrubbsStrategy tests the single-outlier test and its normality gate
func TestGrubbsStrategy(t *testing.T) {
	strat := &grubbsStrategy{minSample: 3}
	ctx := context.Background()

	t.Run("enforces the method floor", func(t *testing.T) {
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", spreadValues(6)))
		assert.Equal(t, OutcomeSkipped, out.Status)
		require.True(t, apperrors.IsInsufficientData(out.Err))
	})

	t.Run("identical values produce no findings", func(t *testing.T) {
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", []float64{
			100, 100, 100, 100, 100, 100, 100, 100,
		}))
		assert.Equal(t, OutcomeSkipped, out.Status)
		assert.Empty(t, out.Records)
		assert.True(t, apperrors.IsComputation(out.Err))
	})

	t.Run("skips non-normal cells", func(t *testing.T) {
		values := make([]float64, 0, 25)
		for i := 0; i < 20; i++ {
			values = append(values, 1)
		}
		values = append(values, 50, 60, 70, 80, 90)
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", values))
		assert.Equal(t, OutcomeSkipped, out.Status)
		assert.True(t, apperrors.IsComputation(out.Err))
	})

	t.Run("clean normal cell produces no records", func(t *testing.T) {
		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", grubbsBase(80, 90, 8)))
		assert.Equal(t, OutcomeRan, out.Status)
		assert.Empty(t, out.Records)
	})

	t.Run("flags only the most extreme value", func(t *testing.T) {
		base := grubbsBase(80, 90, 8)
		mean, std := stat.MeanStdDev(base, nil)
		values := append(base, mean+3.8*std)

		out := strat.Detect(ctx, cellOf(t, "SITE001", "GLUC", values))
		require.Equal(t, OutcomeRan, out.Status)
		require.Len(t, out.Records, 1)

		rec := out.Records[0]
		assert.Equal(t, MethodGrubbs, rec.Method)
		assert.Equal(t, "SITE001-0081", rec.SubjectID)
		assert.NotEmpty(t, rec.Metadata["g_statistic"])
		assert.NotEmpty(t, rec.Metadata["critical_value"])
	})
}

// TestGrubbsCriticalValue tests the rejection bound against published values
func TestGrubbsCriticalValue(t *testing.T) {
	// reference values for alpha=0.05, two-sided
	tests := []struct {
		n        int
		expected float64
	}{
		{7, 2.020},
		{10, 2.290},
		{20, 2.709},
		{50, 3.128},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.expected, grubbsCriticalValue(tt.n, 0.05), 0.01, "n=%d", tt.n)
	}
}
