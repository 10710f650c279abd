package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialpulse/internal/anomaly"
	"trialpulse/internal/config"
	"trialpulse/internal/ingest"
	"trialpulse/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestParseMethods tests comma-separated method list parsing
func TestParseMethods(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []anomaly.Method
	}{
		{
			name:     "single method",
			input:    "zscore",
			expected: []anomaly.Method{anomaly.MethodZScore},
		},
		{
			name:     "multiple with spaces and case",
			input:    "ZScore, grubbs ,DBSCAN",
			expected: []anomaly.Method{anomaly.MethodZScore, anomaly.MethodGrubbs, anomaly.MethodDBSCAN},
		},
		{
			name:     "empty segments dropped",
			input:    "zscore,,grubbs,",
			expected: []anomaly.Method{anomaly.MethodZScore, anomaly.MethodGrubbs},
		},
		{
			name:     "unknown names pass through for the engine to reject",
			input:    "nonsense",
			expected: []anomaly.Method{anomaly.Method("nonsense")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseMethods(tt.input))
		})
	}
}

// TestDetectionConfig tests the mapping from application configuration
// onto the engine configuration
func TestDetectionConfig(t *testing.T) {
	appCfg := config.Default()
	appCfg.Detection.ZThreshold = 2.5
	appCfg.Detection.Contamination = 0.05
	appCfg.Detection.EnrollmentTargetMonthly = 4.0
	appCfg.Detection.MaxConcurrency = 3
	appCfg.Detection.Methods = "zscore,grubbs"

	dc := detectionConfig(appCfg.Detection)

	assert.Equal(t, 2.5, dc.ZThreshold)
	assert.Equal(t, 0.05, dc.Contamination)
	assert.Equal(t, 4.0, dc.Enrollment.TargetPerMonth)
	assert.Equal(t, 3, dc.MaxConcurrency)
	assert.Equal(t, []anomaly.Method{anomaly.MethodZScore, anomaly.MethodGrubbs}, dc.Methods)

	// The mapped configuration must be acceptable to the engine.
	_, err := anomaly.NewEngine(dc, testLogger())
	require.NoError(t, err)
}

// TestDetectionConfigZeroConcurrency tests that an unset concurrency
// keeps the engine default instead of forcing zero
func TestDetectionConfigZeroConcurrency(t *testing.T) {
	d := config.Default().Detection
	d.MaxConcurrency = 0

	dc := detectionConfig(d)
	assert.Equal(t, anomaly.DefaultDetectionConfig().MaxConcurrency, dc.MaxConcurrency)
}

// TestScoringConfig tests weight and threshold mapping onto the scorer
func TestScoringConfig(t *testing.T) {
	r := config.Default().Risk
	r.DataQualityWeight = 0.30
	r.EnrollmentWeight = 0.15
	r.LowBelow = 0.25
	r.TrendWindow = 4

	sc := scoringConfig(r)

	assert.Equal(t, 0.30, sc.Weights.DataQuality)
	assert.Equal(t, 0.15, sc.Weights.Enrollment)
	assert.Equal(t, 0.25, sc.LowBelow)
	assert.Equal(t, 4, sc.TrendWindow)

	// Defaults must round-trip into a scorer without modification.
	_, err := risk.NewScorer(scoringConfig(config.Default().Risk), testLogger())
	require.NoError(t, err)
}

// TestScoreSites tests that every site seen in the run is scored,
// including sites without an operational metrics row
func TestScoreSites(t *testing.T) {
	scorer, err := risk.NewScorer(risk.DefaultScoringConfig(), testLogger())
	require.NoError(t, err)

	dataset := &ingest.Dataset{
		Observations: []anomaly.Observation{
			{SubjectID: "S001-001", SiteID: "S001", TestCode: "GLUC", Value: 95, VisitNumber: 1, CollectedAt: time.Now()},
			{SubjectID: "S001-002", SiteID: "S001", TestCode: "GLUC", Value: 88, VisitNumber: 1, CollectedAt: time.Now()},
			{SubjectID: "S002-001", SiteID: "S002", TestCode: "GLUC", Value: 91, VisitNumber: 1, CollectedAt: time.Now()},
		},
		SiteMetrics: []risk.SiteMetrics{
			{SiteID: "S001", Observations: 2, Enrolled: 5, ExpectedEnrolled: 5},
		},
	}
	records := []anomaly.Record{
		{
			ID: "r1", Method: anomaly.MethodZScore, Severity: anomaly.SeverityHigh,
			SiteID: "S003", SubjectID: "S003-001", TestCode: "GLUC", Confidence: 0.9,
		},
	}

	profiles, err := scoreSites(context.Background(), scorer, dataset, records, testLogger())
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	// Deterministic order regardless of map iteration.
	assert.Equal(t, "S001", profiles[0].SiteID)
	assert.Equal(t, "S002", profiles[1].SiteID)
	assert.Equal(t, "S003", profiles[2].SiteID)

	for _, p := range profiles {
		assert.NotEmpty(t, p.Level)
		assert.False(t, p.GeneratedAt.IsZero())
	}

	// Clean sites with no anomaly burden grade low; the site that only
	// surfaced through a detection record carries a positive score.
	assert.Equal(t, risk.RiskLow, profiles[0].Level)
	assert.Greater(t, profiles[2].OverallScore, 0.0)
	assert.Equal(t, 1, profiles[2].AnomalyCounts[string(anomaly.SeverityHigh)])
}

// TestScoreSitesEmpty tests the degenerate no-site case
func TestScoreSitesEmpty(t *testing.T) {
	scorer, err := risk.NewScorer(risk.DefaultScoringConfig(), testLogger())
	require.NoError(t, err)

	profiles, err := scoreSites(context.Background(), scorer, &ingest.Dataset{}, nil, testLogger())
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

// TestWriteReport tests report serialization and file creation
func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site_risk_test.json")

	report := Report{
		RunID:       "abc123",
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Version:     config.AppVersion,
		Input:       InputSummary{Directory: "/data/input", Rejected: 2},
		Detection:   anomaly.Summary{Observations: 100, Findings: 3},
	}

	require.NoError(t, writeReport(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc123", decoded.RunID)
	assert.Equal(t, 100, decoded.Detection.Observations)
	assert.Equal(t, 2, decoded.Input.Rejected)
}

// TestWriteReportBadPath tests that an unwritable destination surfaces
// as an error instead of a silent no-op
func TestWriteReportBadPath(t *testing.T) {
	err := writeReport(filepath.Join(t.TempDir(), "missing", "report.json"), Report{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write report")
}
