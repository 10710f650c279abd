package anomaly

import (
	"context"
	"fmt"

	apperrors "trialpulse/internal/errors"
)

// Severity buckets for enrollment performance
const (
	enrollmentHighBelow   = 0.3
	enrollmentMediumBelow = 0.5
)

// enrollmentLagDetector compares a site's observed enrollment rate against
// its target. The rate is normalized to subjects per 30 active days, where
// a subject's first observation stands in for their enrollment date and a
// site is active from its first observation to the end of the study data.
type enrollmentLagDetector struct {
	params EnrollmentParams
}

func (d *enrollmentLagDetector) Method() Method { return MethodEnrollmentLag }

func (d *enrollmentLagDetector) Detect(_ context.Context, siteID string, frame *studyFrame) Outcome {
	key := CellKey{SiteID: siteID}
	subjects := frame.siteSubjects(siteID)
	if len(subjects) == 0 {
		return skipped(MethodEnrollmentLag, key,
			apperrors.NewInsufficientDataError(string(MethodEnrollmentLag), 1, 0))
	}

	obs := frame.siteObservations(siteID)
	activeDays := frame.studyEnd.Sub(obs[0].CollectedAt).Hours() / 24
	if activeDays < 1 {
		activeDays = 1
	}

	rate := float64(len(subjects)) / activeDays * 30
	target := d.params.TargetFor(siteID)
	performance := rate / target

	if performance >= d.params.Threshold {
		return ran(MethodEnrollmentLag, key, nil)
	}

	rec := newSiteRecord(siteID, MethodEnrollmentLag, KindEnrollment, 1-performance, 1-performance)
	rec.Description = fmt.Sprintf("site %s enrolled %d subjects over %.0f active days (%.2f/month against target %.2f/month, performance %.2f)",
		siteID, len(subjects), activeDays, rate, target, performance)
	rec.Recommendation = "review site enrollment plan and screening pipeline with the site team"
	rec.SetMeta("enrolled", fmt.Sprintf("%d", len(subjects)))
	rec.SetMeta("active_days", fmtFloat(activeDays))
	rec.SetMeta("rate_per_month", fmtFloat(rate))
	rec.SetMeta("target_per_month", fmtFloat(target))
	rec.SetMeta("performance", fmtFloat(performance))
	rec.SetMeta("threshold", fmtFloat(d.params.Threshold))
	return ran(MethodEnrollmentLag, key, []Record{rec})
}
