package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trialpulse/internal/errors"
)

// TestDefaultWeights tests the standard weight set
func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	assert.True(t, w.IsValid())

	assert.Equal(t, 0.25, w.DataQuality)
	assert.Equal(t, 0.20, w.Enrollment)
	assert.Equal(t, 0.25, w.Compliance)
	assert.Equal(t, 0.20, w.Safety)
	assert.Equal(t, 0.10, w.Monitoring)

	for _, c := range Components() {
		assert.Positive(t, w.For(c), "component %s must carry weight", c)
	}
}

// TestComponentWeightsIsValid tests weight-set validation
func TestComponentWeightsIsValid(t *testing.T) {
	tests := []struct {
		name    string
		weights ComponentWeights
		want    bool
	}{
		{"defaults", DefaultWeights(), true},
		{"sum far above one", ComponentWeights{DataQuality: 0.5, Enrollment: 0.5, Compliance: 0.5}, false},
		{"sum below one", ComponentWeights{DataQuality: 0.5}, false},
		{"negative weight", ComponentWeights{DataQuality: -0.2, Enrollment: 0.4, Compliance: 0.3, Safety: 0.3, Monitoring: 0.2}, false},
		{"within tolerance", ComponentWeights{DataQuality: 0.25, Enrollment: 0.20, Compliance: 0.25, Safety: 0.20, Monitoring: 0.105}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.weights.IsValid())
		})
	}
}

// TestComponentWeightsNormalize tests rescaling to a unit sum
func TestComponentWeightsNormalize(t *testing.T) {
	w := ComponentWeights{DataQuality: 2, Enrollment: 2, Compliance: 2, Safety: 2, Monitoring: 2}
	w.Normalize()
	assert.True(t, w.IsValid())
	assert.InDelta(t, 0.2, w.DataQuality, 1e-9)
	assert.InDelta(t, 0.2, w.Monitoring, 1e-9)

	zero := ComponentWeights{}
	zero.Normalize()
	assert.False(t, zero.IsValid(), "normalizing a zero set cannot invent weights")
}

// TestScoringConfigValidate tests fail-fast configuration checks
func TestScoringConfigValidate(t *testing.T) {
	require.NoError(t, DefaultScoringConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*ScoringConfig)
	}{
		{"weights not summing to one", func(c *ScoringConfig) { c.Weights.DataQuality = 0.9 }},
		{"zero low cutoff", func(c *ScoringConfig) { c.LowBelow = 0 }},
		{"inverted cutoffs", func(c *ScoringConfig) { c.MediumBelow = 0.2 }},
		{"medium cutoff of one", func(c *ScoringConfig) { c.MediumBelow = 1 }},
		{"single-point trend window", func(c *ScoringConfig) { c.TrendWindow = 1 }},
		{"zero trend slope", func(c *ScoringConfig) { c.TrendSlope = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScoringConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.IsConfig(err))
		})
	}
}

// TestLevelFor tests the cutoff buckets
func TestLevelFor(t *testing.T) {
	cfg := DefaultScoringConfig()

	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, RiskLow},
		{0.29, RiskLow},
		{0.3, RiskMedium},
		{0.59, RiskMedium},
		{0.6, RiskHigh},
		{1.0, RiskHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.LevelFor(tt.score), "score %.2f", tt.score)
	}
}
