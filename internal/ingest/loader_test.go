package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trialpulse/internal/errors"
)

// TestClassifyFile tests filename classification against the shared
// input patterns.
func TestClassifyFile(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"lb_chemistry.csv", FileKindLab},
		{"LB_HEMATOLOGY.XLSX", FileKindLab},
		{"lbpanel.xls", FileKindLab},
		{"dm.csv", FileKindDemographics},
		{"DM_screening.xlsx", FileKindDemographics},
		{"site_metrics.csv", FileKindSiteMetrics},
		{"Site_Metrics_Q1.xlsx", FileKindSiteMetrics},
		{"enrollment.csv", FileKindEnrollment},
		{"enroll_roster.xlsx", FileKindEnrollment},
		{"readme.txt", ""},
		{"labnotes.csv", ""},
		{"metrics.csv", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyFile(tt.name), tt.name)
	}
}

// TestLoadDirectory tests the full assembly: observations joined with
// demographics, enrollment counts backfilled into site metrics, and
// per-file summaries.
func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lb_chem.csv",
		"USUBJID,SITEID,LBTESTCD,LBSTRESN,VISITNUM,LBDTC\n"+
			"SITE001-0001,SITE001,GLUC,95,1,2024-01-15\n"+
			"SITE001-0002,SITE001,GLUC,88,1,2024-01-16\n"+
			"SITE001-0002,SITE001,GLUC,abc,2,2024-01-23\n")
	writeFile(t, dir, "dm.csv",
		"USUBJID,AGE,SEX,RACE\n"+
			"SITE001-0001,45,F,WHITE\n"+
			"SITE001-0002,52,M,ASIAN\n")
	writeFile(t, dir, "site_metrics.csv",
		"SITEID,EXPECTED_ENROLLED,QUERY_RATE\n"+
			"SITE001,10,1.5\n")
	writeFile(t, dir, "enrollment.csv",
		"USUBJID,SITEID,ENROLLDTC\n"+
			"SITE001-0001,SITE001,2024-01-10\n"+
			"SITE001-0002,SITE001,2024-01-12\n")
	writeFile(t, dir, "notes.txt", "ignored")

	loader := NewLoader(nil)
	ds, err := loader.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, ds.Observations, 2)
	assert.Len(t, ds.Demographics, 2)
	assert.Len(t, ds.Enrollment, 2)
	require.Len(t, ds.SiteMetrics, 1)

	// Demographics join onto observations by subject.
	first := ds.Observations[0]
	assert.Equal(t, 45.0, first.AgeYears)
	assert.Equal(t, "F", first.Sex)
	assert.Equal(t, "WHITE", first.Race)

	// The enrollment roster backfills the missing enrolled count.
	m := ds.SiteMetrics[0]
	assert.Equal(t, 2, m.Enrolled)
	assert.Equal(t, 10, m.ExpectedEnrolled)
	assert.Equal(t, 1.5, m.QueryRate)

	// One rejected lab row, reflected in both views.
	assert.Equal(t, 1, ds.Rejected())
	assert.Equal(t, map[string]int{"SITE001": 1}, ds.IssuesBySite())

	require.Len(t, ds.Files, 4, "the .txt file is not loaded")
	kinds := make(map[string]int)
	for _, f := range ds.Files {
		kinds[f.Kind]++
	}
	assert.Equal(t, map[string]int{
		FileKindLab:          1,
		FileKindDemographics: 1,
		FileKindSiteMetrics:  1,
		FileKindEnrollment:   1,
	}, kinds)
}

// TestLoadDirectoryKeepsExplicitEnrolled tests that a metrics row
// carrying its own enrolled count is not overwritten by the roster.
func TestLoadDirectoryKeepsExplicitEnrolled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lb.csv",
		"USUBJID,SITEID,LBTESTCD,LBSTRESN,VISITNUM,LBDTC\n"+
			"SITE001-0001,SITE001,GLUC,95,1,2024-01-15\n")
	writeFile(t, dir, "site_metrics.csv",
		"SITEID,ENROLLED\nSITE001,7\n")
	writeFile(t, dir, "enrollment.csv",
		"USUBJID,SITEID\nSITE001-0001,SITE001\nSITE001-0002,SITE001\n")

	ds, err := NewLoader(nil).LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, ds.SiteMetrics, 1)
	assert.Equal(t, 7, ds.SiteMetrics[0].Enrolled)
}

// TestLoadDirectorySkipsBrokenFile tests that a file whose layout
// cannot be resolved is skipped while the rest of the directory loads.
func TestLoadDirectorySkipsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lb_good.csv",
		"USUBJID,SITEID,LBTESTCD,LBSTRESN,VISITNUM,LBDTC\n"+
			"SITE001-0001,SITE001,GLUC,95,1,2024-01-15\n")
	writeFile(t, dir, "lb_broken.csv", "this,is,not\na,lab,file\n")

	ds, err := NewLoader(nil).LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, ds.Observations, 1)
	assert.Len(t, ds.Files, 1, "the broken file contributes no summary")
}

// TestLoadDirectoryErrors tests the hard failure modes.
func TestLoadDirectoryErrors(t *testing.T) {
	loader := NewLoader(nil)

	_, err := loader.LoadDirectory(context.Background(), "/does/not/exist")
	require.Error(t, err)
	assert.True(t, apperrors.IsInput(err))
	assert.Contains(t, err.Error(), "does not exist")

	empty := t.TempDir()
	_, err = loader.LoadDirectory(context.Background(), empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recognized input files")

	// Only non-lab inputs: loads but yields no observations.
	dir := t.TempDir()
	writeFile(t, dir, "site_metrics.csv", "SITEID\nSITE001\n")
	_, err = loader.LoadDirectory(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid observations")
}

// TestLoadDirectoryCancelled tests that a cancelled context aborts the
// walk.
func TestLoadDirectoryCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lb.csv",
		"USUBJID,SITEID,LBTESTCD,LBSTRESN,VISITNUM,LBDTC\n"+
			"SITE001-0001,SITE001,GLUC,95,1,2024-01-15\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(nil).LoadDirectory(ctx, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
