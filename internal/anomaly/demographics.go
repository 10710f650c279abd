package anomaly

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	apperrors "trialpulse/internal/errors"
)

// skewMinSubjects is the smallest site population the skew tests accept
const skewMinSubjects = 20

// demographicSkewDetector compares each site's subject demographics with
// the pooled study population: chi-square for the categorical attributes,
// two-sample Kolmogorov-Smirnov for age. A site that only enrolls one
// stratum of the study population shows up here long before its lab
// values look unusual.
type demographicSkewDetector struct {
	significance float64
}

func (d *demographicSkewDetector) Method() Method { return MethodDemographicSkew }

func (d *demographicSkewDetector) Detect(_ context.Context, siteID string, frame *studyFrame) Outcome {
	key := CellKey{SiteID: siteID}
	site := frame.siteSubjects(siteID)
	if len(site) < skewMinSubjects {
		return skipped(MethodDemographicSkew, key,
			apperrors.NewInsufficientDataError(string(MethodDemographicSkew), skewMinSubjects, len(site)))
	}
	study := frame.allSubjects()

	var records []Record
	if rec, ok := d.categoricalSkew(siteID, "sex", site, study, func(p *subjectProfile) string { return p.Sex }); ok {
		records = append(records, rec)
	}
	if rec, ok := d.categoricalSkew(siteID, "race", site, study, func(p *subjectProfile) string { return p.Race }); ok {
		records = append(records, rec)
	}
	if rec, ok := d.ageSkew(siteID, site, study); ok {
		records = append(records, rec)
	}
	return ran(MethodDemographicSkew, key, records)
}

// categoricalSkew runs the chi-square goodness-of-fit test of the site's
// category counts against proportions expected from the study population
func (d *demographicSkewDetector) categoricalSkew(siteID, attribute string, site, study []*subjectProfile, get func(*subjectProfile) string) (Record, bool) {
	studyCounts := make(map[string]float64)
	studyN := 0.0
	for _, p := range study {
		if v := get(p); v != "" {
			studyCounts[v]++
			studyN++
		}
	}
	if len(studyCounts) < 2 || studyN == 0 {
		return Record{}, false
	}

	siteCounts := make(map[string]float64)
	siteN := 0.0
	for _, p := range site {
		if v := get(p); v != "" {
			siteCounts[v]++
			siteN++
		}
	}
	if int(siteN) < skewMinSubjects {
		return Record{}, false
	}

	cats := make([]string, 0, len(studyCounts))
	for c := range studyCounts {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	observed := make([]float64, len(cats))
	expected := make([]float64, len(cats))
	for i, c := range cats {
		observed[i] = siteCounts[c]
		expected[i] = studyCounts[c] / studyN * siteN
	}

	chi2 := chiSquareStat(observed, expected)
	p := chiSquareSurvival(chi2, float64(len(cats)-1))
	if p >= d.significance {
		return Record{}, false
	}

	rec := newSiteRecord(siteID, MethodDemographicSkew, KindDemographic, chi2, 1-p)
	rec.Description = fmt.Sprintf("site %s %s distribution diverges from the study population (chi2=%.1f, p=%s, n=%d)",
		siteID, attribute, chi2, fmtP(p), int(siteN))
	rec.Recommendation = "review the site's screening and recruitment practices for selection effects"
	rec.SetMeta("attribute", attribute)
	rec.SetMeta("p_value", fmtP(p))
	rec.SetMeta("site_n", fmt.Sprintf("%d", int(siteN)))
	rec.SetMeta("study_n", fmt.Sprintf("%d", int(studyN)))
	return rec, true
}

// ageSkew runs the two-sample Kolmogorov-Smirnov test of site ages
// against study ages
func (d *demographicSkewDetector) ageSkew(siteID string, site, study []*subjectProfile) (Record, bool) {
	siteAges := knownAges(site)
	studyAges := knownAges(study)
	if len(siteAges) < skewMinSubjects || len(studyAges) == 0 {
		return Record{}, false
	}

	sort.Float64s(siteAges)
	sort.Float64s(studyAges)
	dStat := stat.KolmogorovSmirnov(siteAges, nil, studyAges, nil)
	p := ksPValue(dStat, len(siteAges), len(studyAges))
	if p >= d.significance {
		return Record{}, false
	}

	rec := newSiteRecord(siteID, MethodDemographicSkew, KindDemographic, dStat, 1-p)
	rec.Description = fmt.Sprintf("site %s age distribution diverges from the study population (D=%.3f, p=%s, n=%d)",
		siteID, dStat, fmtP(p), len(siteAges))
	rec.Recommendation = "review the site's screening and recruitment practices for selection effects"
	rec.SetMeta("attribute", "age")
	rec.SetMeta("p_value", fmtP(p))
	rec.SetMeta("ks_statistic", fmtFloat(dStat))
	rec.SetMeta("site_n", fmt.Sprintf("%d", len(siteAges)))
	rec.SetMeta("study_n", fmt.Sprintf("%d", len(studyAges)))
	return rec, true
}

func knownAges(subjects []*subjectProfile) []float64 {
	var ages []float64
	for _, p := range subjects {
		if p.AgeYears > 0 {
			ages = append(ages, p.AgeYears)
		}
	}
	return ages
}
