package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadEnrollmentFile tests roster parsing, duplicate collapsing and
// date degradation.
func TestLoadEnrollmentFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "enrollment.csv",
		"USUBJID,SITEID,ENROLLDTC\n"+
			"SITE001-0001,SITE001,2024-01-10\n"+
			"SITE001-0001,SITE001,2024-01-11\n"+
			"SITE001-0002,SITE001,when-ready\n"+
			"SITE002-0001,,2024-02-01\n")

	events, issues, err := LoadEnrollmentFile(path)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "SITE001-0001", events[0].SubjectID)
	assert.True(t, events[0].EnrolledAt.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))

	// Bad date keeps the event but zeroes the time.
	assert.True(t, events[1].EnrolledAt.IsZero())
	require.Len(t, issues, 1)
	assert.Equal(t, IssueInvalidDate, issues[0].IssueType)
	assert.Equal(t, SeverityWarning, issues[0].Severity)

	// Missing site column cell falls back to the subject prefix.
	assert.Equal(t, "SITE002", events[2].SiteID)
}

// TestLoadEnrollmentFileConsentDate tests the RFICDTC header alias.
func TestLoadEnrollmentFileConsentDate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "enroll_consent.csv",
		"USUBJID,RFICDTC\n"+
			"SITE003-0001,2024-03-05\n")

	events, issues, err := LoadEnrollmentFile(path)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, events, 1)
	assert.Equal(t, "SITE003", events[0].SiteID)
	assert.Equal(t, 3, int(events[0].EnrolledAt.Month()))
}
