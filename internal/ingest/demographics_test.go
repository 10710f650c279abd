package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDemographicsFile tests DM parsing and the first-row-wins rule
// for repeated subjects.
func TestLoadDemographicsFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dm.csv",
		"USUBJID,SITEID,AGE,SEX,RACE\n"+
			"SITE001-0001,SITE001,45,F,WHITE\n"+
			"SITE001-0001,SITE001,99,M,ASIAN\n"+
			"SITE001-0002,,61,m,Black\n")

	demo, issues, err := LoadDemographicsFile(path)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, demo, 2)

	d := demo["SITE001-0001"]
	assert.Equal(t, 45.0, d.AgeYears, "first row wins for re-screened subjects")
	assert.Equal(t, "F", d.Sex)
	assert.Equal(t, "WHITE", d.Race)

	// Site derives from the subject id; sex and race normalize to upper.
	d2 := demo["SITE001-0002"]
	assert.Equal(t, "SITE001", d2.SiteID)
	assert.Equal(t, "M", d2.Sex)
	assert.Equal(t, "BLACK", d2.Race)
}

// TestLoadDemographicsFileBadAge tests that an implausible age degrades
// to unknown with a warning.
func TestLoadDemographicsFileBadAge(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dm_bad.csv",
		"USUBJID,AGE,SEX\n"+
			"SITE001-0001,250,F\n"+
			"SITE001-0002,forty,M\n"+
			",33,F\n")

	demo, issues, err := LoadDemographicsFile(path)
	require.NoError(t, err)
	require.Len(t, demo, 2)
	require.Len(t, issues, 3)

	assert.Zero(t, demo["SITE001-0001"].AgeYears)
	assert.Equal(t, "F", demo["SITE001-0001"].Sex, "row survives the bad age")
	assert.Zero(t, demo["SITE001-0002"].AgeYears)

	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Equal(t, SeverityWarning, issues[1].Severity)
	assert.Equal(t, SeverityReject, issues[2].Severity, "missing subject rejects the row")
	assert.Equal(t, 1, countRejects(issues))
}
