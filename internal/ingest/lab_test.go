package ingest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// TestLoadLabFileCSV tests loading a well-formed CDISC LB export.
func TestLoadLabFileCSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lb_chem.csv",
		"USUBJID,SITEID,LBTESTCD,LBTEST,LBSTRESN,LBSTRESU,LBSTNRLO,LBSTNRHI,VISITNUM,LBDTC\n"+
			"SITE001-0001,SITE001,GLUC,Glucose,95.5,mg/dL,70,100,1,2024-01-15\n"+
			"SITE001-0001,SITE001,HGB,Hemoglobin,14.2,g/dL,12,17.5,1,2024-01-15\n"+
			"SITE001-0002,SITE001,GLUC,Glucose,101,mg/dL,70,100,2,2024-01-16T09:30:00\n")

	obs, issues, err := LoadLabFile(path)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Empty(t, issues)

	first := obs[0]
	assert.Equal(t, "SITE001-0001", first.SubjectID)
	assert.Equal(t, "SITE001", first.SiteID)
	assert.Equal(t, "GLUC", first.TestCode)
	assert.Equal(t, "Glucose", first.TestName)
	assert.Equal(t, 95.5, first.Value)
	assert.Equal(t, "mg/dL", first.Unit)
	assert.Equal(t, 1, first.VisitNumber)
	assert.True(t, first.HasRefRange)
	assert.Equal(t, 70.0, first.RefLow)
	assert.Equal(t, 100.0, first.RefHigh)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), first.CollectedAt)
	assert.True(t, first.IsValid())

	// Timestamped collection dates parse with their time of day.
	assert.Equal(t, 9, obs[2].CollectedAt.Hour())
}

// TestLoadLabFileVariantHeaders tests the flat-export spelling of the
// columns, site derivation from the subject id, and catalog fill-in of
// name, unit and reference range.
func TestLoadLabFileVariantHeaders(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lb_flat.csv",
		"subject_id,test_code,value,visit,date\n"+
			"SITE002-0001,GLUC,88,1,2024-02-01\n"+
			"SITE002-0001,XXCUSTOM,12.5,1,2024-02-01\n")

	obs, issues, err := LoadLabFile(path)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Empty(t, issues)

	gluc := obs[0]
	assert.Equal(t, "SITE002", gluc.SiteID, "site should derive from the subject id prefix")
	assert.Equal(t, "Glucose", gluc.TestName)
	assert.Equal(t, "mg/dL", gluc.Unit)
	require.True(t, gluc.HasRefRange)
	assert.Equal(t, 70.0, gluc.RefLow)
	assert.Equal(t, 100.0, gluc.RefHigh)
	assert.Equal(t, "NORMAL", gluc.RangeIndicator())

	// Unknown tests load without catalog annotation.
	custom := obs[1]
	assert.Equal(t, "XXCUSTOM", custom.TestCode)
	assert.False(t, custom.HasRefRange)
	assert.Empty(t, custom.Unit)
}

// TestLoadLabFileRejects tests that each kind of bad row is dropped
// with a matching quality issue while good rows still load.
func TestLoadLabFileRejects(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lb_bad.csv",
		"USUBJID,SITEID,LBTESTCD,LBSTRESN,VISITNUM,LBDTC\n"+
			",SITE001,GLUC,95,1,2024-01-15\n"+
			"SITE001-0001,SITE001,,95,1,2024-01-15\n"+
			"SITE001-0002,SITE001,GLUC,abc,1,2024-01-15\n"+
			"SITE001-0003,SITE001,GLUC,95,-1,2024-01-15\n"+
			"SITE001-0004,SITE001,GLUC,95,1,notadate\n"+
			"SITE001-0005,SITE001,GLUC,9999,1,2024-01-15\n"+
			"SITE001-0006,SITE001,GLUC,95,1,2024-01-15\n")

	obs, issues, err := LoadLabFile(path)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "SITE001-0006", obs[0].SubjectID)

	require.Len(t, issues, 6)
	wantTypes := []string{
		IssueMissingField, IssueMissingField, IssueInvalidValue,
		IssueInvalidValue, IssueInvalidDate, IssueImplausible,
	}
	for i, iss := range issues {
		assert.Equal(t, wantTypes[i], iss.IssueType, "issue %d", i)
		assert.Equal(t, SeverityReject, iss.Severity, "issue %d", i)
		assert.Equal(t, "lb_bad.csv", iss.File)
		assert.Equal(t, i+2, iss.Line, "issues carry 1-based file lines")
	}
	assert.Equal(t, 6, countRejects(issues))

	// The implausible glucose names the violated bounds.
	assert.Contains(t, issues[5].Description, "outside plausible bounds")
}

// TestLoadLabFileDegradedRange tests that a broken reference range in
// the file falls back to the catalog with a warning instead of
// rejecting the row.
func TestLoadLabFileDegradedRange(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lb_range.csv",
		"USUBJID,SITEID,LBTESTCD,LBSTRESN,LBSTNRLO,LBSTNRHI,VISITNUM,LBDTC\n"+
			"SITE001-0001,SITE001,GLUC,95,high,low,1,2024-01-15\n")

	obs, issues, err := LoadLabFile(path)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	require.Len(t, issues, 1)

	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.True(t, obs[0].HasRefRange, "catalog range should fill in")
	assert.Equal(t, 70.0, obs[0].RefLow)
}

// TestLoadLabFileXLSX tests workbook loading: a notes sheet is skipped
// and the data sheet's header is found below a title row.
func TestLoadLabFileXLSX(t *testing.T) {
	f := excelize.NewFile()
	notes := f.GetSheetName(0)
	f.SetCellValue(notes, "A1", "Export notes")
	f.SetCellValue(notes, "A2", "Nothing tabular here")

	_, err := f.NewSheet("LB")
	require.NoError(t, err)
	f.SetCellValue("LB", "A1", "Central Laboratory Export")

	headers := []string{"USUBJID", "SITEID", "LBTESTCD", "LBSTRESN", "VISITNUM", "LBDTC"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		require.NoError(t, err)
		f.SetCellValue("LB", cell, h)
	}
	rows := [][]interface{}{
		{"SITE001-0001", "SITE001", "GLUC", 95.5, 1, "2024-01-15"},
		{"SITE001-0002", "SITE001", "HGB", 14.2, 2, "2024-01-16"},
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+3)
			require.NoError(t, err)
			f.SetCellValue("LB", cell, v)
		}
	}

	path := filepath.Join(t.TempDir(), "lb_central.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	obs, issues, err := LoadLabFile(path)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, obs, 2)
	assert.Equal(t, 95.5, obs[0].Value)
	assert.Equal(t, "HGB", obs[1].TestCode)
	assert.Equal(t, 2, obs[1].VisitNumber)
}

// TestSiteFromSubject tests the subject-id prefix rule.
func TestSiteFromSubject(t *testing.T) {
	assert.Equal(t, "SITE001", siteFromSubject("SITE001-0042"))
	assert.Equal(t, "ST01-SITE001", siteFromSubject("ST01-SITE001-0042"))
	assert.Equal(t, "", siteFromSubject("SUBJECT42"))
	assert.Equal(t, "", siteFromSubject("-0042"))
}
