package anomaly

import (
	"sort"
	"time"
)

// subjectProfile aggregates what the run knows about one subject: when
// they first appeared and whatever demographics their observations carry
type subjectProfile struct {
	SubjectID string
	SiteID    string
	FirstSeen time.Time
	AgeYears  float64
	Sex       string
	Race      string
}

// studyFrame is the read-only site-level view the temporal and
// demographic detectors share. It is built once per detection run from
// the validated cells and never mutated afterwards.
type studyFrame struct {
	siteObs  map[string][]*Observation
	subjects map[string]map[string]*subjectProfile

	studyStart time.Time
	studyEnd   time.Time
}

// buildStudyFrame assembles the per-site view from the partitioned cells
func buildStudyFrame(cells map[CellKey]*Cell) *studyFrame {
	f := &studyFrame{
		siteObs:  make(map[string][]*Observation),
		subjects: make(map[string]map[string]*subjectProfile),
	}

	for _, cell := range cells {
		for _, o := range cell.Observations {
			f.siteObs[o.SiteID] = append(f.siteObs[o.SiteID], o)

			if f.studyStart.IsZero() || o.CollectedAt.Before(f.studyStart) {
				f.studyStart = o.CollectedAt
			}
			if o.CollectedAt.After(f.studyEnd) {
				f.studyEnd = o.CollectedAt
			}

			bySubject, ok := f.subjects[o.SiteID]
			if !ok {
				bySubject = make(map[string]*subjectProfile)
				f.subjects[o.SiteID] = bySubject
			}
			p, ok := bySubject[o.SubjectID]
			if !ok {
				p = &subjectProfile{SubjectID: o.SubjectID, SiteID: o.SiteID, FirstSeen: o.CollectedAt}
				bySubject[o.SubjectID] = p
			}
			if o.CollectedAt.Before(p.FirstSeen) {
				p.FirstSeen = o.CollectedAt
			}
			if p.AgeYears <= 0 && o.AgeYears > 0 {
				p.AgeYears = o.AgeYears
			}
			if p.Sex == "" && o.Sex != "" {
				p.Sex = o.Sex
			}
			if p.Race == "" && o.Race != "" {
				p.Race = o.Race
			}
		}
	}

	for _, obs := range f.siteObs {
		sort.Slice(obs, func(i, j int) bool { return obs[i].CollectedAt.Before(obs[j].CollectedAt) })
	}
	return f
}

// sites returns the site ids in deterministic order
func (f *studyFrame) sites() []string {
	out := make([]string, 0, len(f.siteObs))
	for site := range f.siteObs {
		out = append(out, site)
	}
	sort.Strings(out)
	return out
}

// siteObservations returns a site's observations in time order
func (f *studyFrame) siteObservations(siteID string) []*Observation {
	return f.siteObs[siteID]
}

// siteSubjects returns a site's subjects sorted by id
func (f *studyFrame) siteSubjects(siteID string) []*subjectProfile {
	bySubject := f.subjects[siteID]
	out := make([]*subjectProfile, 0, len(bySubject))
	for _, p := range bySubject {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// allSubjects returns every subject across sites, the study-wide
// reference population for the skew tests
func (f *studyFrame) allSubjects() []*subjectProfile {
	var out []*subjectProfile
	for _, site := range f.sites() {
		out = append(out, f.siteSubjects(site)...)
	}
	return out
}
