package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"trialpulse/internal/config"
	apperrors "trialpulse/internal/errors"
)

// File kinds recognized by the directory loader.
const (
	FileKindLab          = "lab"
	FileKindDemographics = "demographics"
	FileKindSiteMetrics  = "site_metrics"
	FileKindEnrollment   = "enrollment"
)

// Input filename patterns, compiled from the shared config constants so
// the CLI docs and the loader can never disagree about what gets
// picked up.
var (
	labPattern        = regexp.MustCompile(config.LabFilePattern)
	dmPattern         = regexp.MustCompile(config.DemographicsPattern)
	metricsPattern    = regexp.MustCompile(config.SiteMetricsPattern)
	enrollmentPattern = regexp.MustCompile(config.EnrollmentFilePattern)
)

// Loader reads a directory of clinical data exports into one Dataset.
type Loader struct {
	log *slog.Logger
}

// NewLoader returns a Loader logging through the given logger, or the
// default logger when nil.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{log: logger}
}

type inputFile struct {
	path string
	kind string
}

// LoadDirectory walks dir, classifies files by name, loads each one and
// assembles the combined dataset: observations joined with demographics,
// site metrics backfilled from the enrollment roster, and every quality
// issue found on the way. Unreadable files are skipped with a warning;
// the load fails only when no observations could be assembled at all.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) (*Dataset, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, apperrors.NewInputError(fmt.Sprintf("input directory does not exist: %s", dir), nil)
	}

	files, err := findInputFiles(dir)
	if err != nil {
		return nil, apperrors.NewInputError("scan input directory", err)
	}
	if len(files) == 0 {
		return nil, apperrors.NewInputError(fmt.Sprintf("no recognized input files in directory: %s", dir), nil)
	}

	l.log.InfoContext(ctx, "loading input directory", "dir", dir, "files", len(files))

	ds := &Dataset{Demographics: make(map[string]Demographic)}
	for _, f := range files {
		select {
		case <-ctx.Done():
			return nil, apperrors.NewInputError("ingestion cancelled", ctx.Err())
		default:
		}

		records, issues, err := loadOne(ds, f)
		if err != nil {
			l.log.WarnContext(ctx, "failed to load input file",
				"file", f.path,
				"kind", f.kind,
				"error", err,
			)
			continue
		}

		ds.Issues = append(ds.Issues, issues...)
		ds.Files = append(ds.Files, FileSummary{
			Path:     relPath(dir, f.path),
			Kind:     f.kind,
			Records:  records,
			Rejected: countRejects(issues),
		})
	}

	if len(ds.Observations) == 0 {
		return nil, apperrors.NewInputError("no valid observations loaded", nil)
	}

	joinDemographics(ds)
	backfillEnrollment(ds)

	l.log.InfoContext(ctx, "ingestion completed",
		"observations", len(ds.Observations),
		"subjects", len(ds.Demographics),
		"site_metrics", len(ds.SiteMetrics),
		"enrollment_events", len(ds.Enrollment),
		"issues", len(ds.Issues),
		"rejected", ds.Rejected(),
	)
	return ds, nil
}

// loadOne dispatches a classified file to its loader and folds the
// result into the dataset, returning the record count for the summary.
func loadOne(ds *Dataset, f inputFile) (int, []DataQualityIssue, error) {
	switch f.kind {
	case FileKindLab:
		obs, issues, err := LoadLabFile(f.path)
		if err != nil {
			return 0, nil, err
		}
		ds.Observations = append(ds.Observations, obs...)
		return len(obs), issues, nil

	case FileKindDemographics:
		demo, issues, err := LoadDemographicsFile(f.path)
		if err != nil {
			return 0, nil, err
		}
		for id, d := range demo {
			if _, seen := ds.Demographics[id]; !seen {
				ds.Demographics[id] = d
			}
		}
		return len(demo), issues, nil

	case FileKindSiteMetrics:
		metrics, issues, err := LoadSiteMetricsFile(f.path)
		if err != nil {
			return 0, nil, err
		}
		for _, m := range metrics {
			if !hasSiteMetrics(ds, m.SiteID) {
				ds.SiteMetrics = append(ds.SiteMetrics, m)
			}
		}
		return len(metrics), issues, nil

	case FileKindEnrollment:
		events, issues, err := LoadEnrollmentFile(f.path)
		if err != nil {
			return 0, nil, err
		}
		for _, ev := range events {
			if !hasEnrollment(ds, ev.SubjectID) {
				ds.Enrollment = append(ds.Enrollment, ev)
			}
		}
		return len(events), issues, nil
	}
	return 0, nil, fmt.Errorf("unclassified file kind: %s", f.kind)
}

// hasSiteMetrics reports whether a site already has a metrics row;
// across files the first row wins, matching the per-file rule.
func hasSiteMetrics(ds *Dataset, siteID string) bool {
	for _, m := range ds.SiteMetrics {
		if m.SiteID == siteID {
			return true
		}
	}
	return false
}

func hasEnrollment(ds *Dataset, subjectID string) bool {
	for _, ev := range ds.Enrollment {
		if ev.SubjectID == subjectID {
			return true
		}
	}
	return false
}

// findInputFiles walks the directory and classifies every file whose
// name matches one of the input patterns. Walk order is lexical, so
// repeated runs see files in the same order.
func findInputFiles(dir string) ([]inputFile, error) {
	var files []inputFile
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if kind := classifyFile(info.Name()); kind != "" {
			files = append(files, inputFile{path: path, kind: kind})
		}
		return nil
	})
	return files, err
}

// classifyFile maps a base filename to a file kind, or "" when the name
// matches no pattern.
func classifyFile(name string) string {
	switch {
	case labPattern.MatchString(name):
		return FileKindLab
	case dmPattern.MatchString(name):
		return FileKindDemographics
	case metricsPattern.MatchString(name):
		return FileKindSiteMetrics
	case enrollmentPattern.MatchString(name):
		return FileKindEnrollment
	default:
		return ""
	}
}

// joinDemographics fills demographic context onto observations that do
// not carry their own, matching by subject id.
func joinDemographics(ds *Dataset) {
	if len(ds.Demographics) == 0 {
		return
	}
	for i := range ds.Observations {
		o := &ds.Observations[i]
		d, ok := ds.Demographics[o.SubjectID]
		if !ok {
			continue
		}
		if o.AgeYears == 0 {
			o.AgeYears = d.AgeYears
		}
		if o.Sex == "" {
			o.Sex = d.Sex
		}
		if o.Race == "" {
			o.Race = d.Race
		}
	}
}

// backfillEnrollment fills SiteMetrics.Enrolled from the enrollment
// roster for sites whose metrics row left the count at zero.
func backfillEnrollment(ds *Dataset) {
	if len(ds.Enrollment) == 0 {
		return
	}
	counts := make(map[string]int)
	for _, ev := range ds.Enrollment {
		counts[ev.SiteID]++
	}
	for i := range ds.SiteMetrics {
		m := &ds.SiteMetrics[i]
		if m.Enrolled == 0 {
			m.Enrolled = counts[m.SiteID]
		}
	}
}

// relPath renders a path relative to the input dir for summaries,
// falling back to the base name.
func relPath(dir, path string) string {
	if rel, err := filepath.Rel(dir, path); err == nil {
		return rel
	}
	return filepath.Base(path)
}
