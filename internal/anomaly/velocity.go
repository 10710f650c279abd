package anomaly

import (
	"context"
	"fmt"
	"time"

	apperrors "trialpulse/internal/errors"
)

const (
	// velocityEWMASpan smooths daily counts; alpha = 2/(span+1)
	velocityEWMASpan = 7
	// velocityWarmupDays come before the first comparable day
	velocityWarmupDays = 7
	// velocityMinDays is the shortest per-site history the detector accepts
	velocityMinDays = 14
)

// Severity buckets for the observed drop fraction
const (
	velocityHighFrom   = 0.7
	velocityMediumFrom = 0.55
)

// velocityDropDetector watches each site's daily observation counts for
// sudden falls below the site's own smoothed trend. Consecutive flagged
// days collapse into one episode so a multi-day outage reads as a single
// finding.
type velocityDropDetector struct {
	dropThreshold float64
}

func (d *velocityDropDetector) Method() Method { return MethodVelocityDrop }

func (d *velocityDropDetector) Detect(_ context.Context, siteID string, frame *studyFrame) Outcome {
	key := CellKey{SiteID: siteID}
	obs := frame.siteObservations(siteID)
	if len(obs) == 0 {
		return skipped(MethodVelocityDrop, key,
			apperrors.NewInsufficientDataError(string(MethodVelocityDrop), velocityMinDays, 0))
	}

	day0 := dateOf(obs[0].CollectedAt)
	span := dayIndex(day0, obs[len(obs)-1].CollectedAt) + 1
	if span < velocityMinDays {
		return skipped(MethodVelocityDrop, key,
			apperrors.NewInsufficientDataError(string(MethodVelocityDrop), velocityMinDays, span))
	}

	daily := make([]float64, span)
	for _, o := range obs {
		daily[dayIndex(day0, o.CollectedAt)]++
	}

	alpha := 2.0 / float64(velocityEWMASpan+1)
	ewma := make([]float64, span)
	ewma[0] = daily[0]
	for i := 1; i < span; i++ {
		ewma[i] = alpha*daily[i] + (1-alpha)*ewma[i-1]
	}

	type episode struct {
		start, end int
		maxDrop    float64
		baseline   float64
	}
	var episodes []episode
	open := -1
	for i := velocityWarmupDays; i < span; i++ {
		prev := ewma[i-1]
		if prev <= 0 {
			continue
		}
		drop := 1 - daily[i]/prev
		if drop <= d.dropThreshold {
			open = -1
			continue
		}
		if open >= 0 && episodes[open].end == i-1 {
			episodes[open].end = i
			if drop > episodes[open].maxDrop {
				episodes[open].maxDrop = drop
			}
		} else {
			episodes = append(episodes, episode{start: i, end: i, maxDrop: drop, baseline: prev})
			open = len(episodes) - 1
		}
	}

	var records []Record
	for _, ep := range episodes {
		start := day0.AddDate(0, 0, ep.start)
		end := day0.AddDate(0, 0, ep.end)
		rec := newSiteRecord(siteID, MethodVelocityDrop, KindVelocity, ep.maxDrop, ep.maxDrop)
		rec.Description = fmt.Sprintf("site %s observation volume fell %.0f%% below its smoothed trend between %s and %s",
			siteID, ep.maxDrop*100, start.Format("2006-01-02"), end.Format("2006-01-02"))
		rec.Recommendation = "confirm the site is entering data and check for staffing or system interruptions"
		rec.SetMeta("start_date", start.Format("2006-01-02"))
		rec.SetMeta("end_date", end.Format("2006-01-02"))
		rec.SetMeta("days", fmt.Sprintf("%d", ep.end-ep.start+1))
		rec.SetMeta("max_drop", fmtFloat(ep.maxDrop))
		rec.SetMeta("baseline_ewma", fmtFloat(ep.baseline))
		records = append(records, rec)
	}
	return ran(MethodVelocityDrop, key, records)
}

// dateOf truncates a timestamp to its UTC calendar day
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dayIndex counts whole days from day0 to t's calendar day
func dayIndex(day0 time.Time, t time.Time) int {
	return int(dateOf(t).Sub(day0).Hours() / 24)
}
