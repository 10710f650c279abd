package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "trialpulse/internal/errors"
)

// cellStrategy is a detection method scoped to one (site, test) cell
type cellStrategy interface {
	Method() Method
	Detect(ctx context.Context, cell *Cell) Outcome
}

// siteDetector is a detection method scoped to one site, judged against
// the whole-study frame
type siteDetector interface {
	Method() Method
	Detect(ctx context.Context, siteID string, frame *studyFrame) Outcome
}

// Summary aggregates the counts of one detection run
type Summary struct {
	Observations int              `json:"observations"`
	Rejected     int              `json:"rejected"`
	Cells        int              `json:"cells"`
	Sites        int              `json:"sites"`
	TasksRun     int              `json:"tasks_run"`
	TasksSkipped int              `json:"tasks_skipped"`
	Findings     int              `json:"findings"`
	BySeverity   map[Severity]int `json:"by_severity"`
	ByMethod     map[Method]int   `json:"by_method"`
}

// Result is the merged output of one detection run
type Result struct {
	Records []Record     `json:"records"`
	Summary Summary      `json:"summary"`
	Issues  []InputIssue `json:"-"`
}

// Engine fans detection methods out over grouped trial data and merges
// their findings into a single graded record set
type Engine struct {
	cfg    DetectionConfig
	logger *slog.Logger
	otel   *detectionTracer

	cellStrategies []cellStrategy
	siteDetectors  []siteDetector
}

// NewEngine validates the configuration and builds the strategy set for
// the enabled methods. A nil logger falls back to slog.Default.
func NewEngine(cfg DetectionConfig, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	tracer, err := newDetectionTracer()
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: logger, otel: tracer}

	enabled := cfg.enabledMethods()
	if enabled[MethodZScore] {
		e.cellStrategies = append(e.cellStrategies, &zScoreStrategy{threshold: cfg.ZThreshold, minSample: cfg.MinSampleSize})
	}
	if enabled[MethodModifiedZ] {
		e.cellStrategies = append(e.cellStrategies, &modifiedZStrategy{threshold: cfg.MADThreshold, minSample: cfg.MinSampleSize})
	}
	if enabled[MethodGrubbs] {
		e.cellStrategies = append(e.cellStrategies, &grubbsStrategy{minSample: cfg.MinSampleSize})
	}
	if enabled[MethodIsolationForest] {
		e.cellStrategies = append(e.cellStrategies, &isolationForestStrategy{
			contamination: cfg.Contamination,
			minSample:     cfg.MinSampleSize,
			seed:          cfg.RandomSeed,
		})
	}
	if enabled[MethodDBSCAN] {
		e.cellStrategies = append(e.cellStrategies, &dbscanStrategy{minSample: cfg.MinSampleSize})
	}
	if enabled[MethodDigitPreference] {
		e.cellStrategies = append(e.cellStrategies, &digitPreferenceStrategy{significance: cfg.DigitSignificance, minSample: cfg.MinSampleSize})
	}
	if enabled[MethodEnrollmentLag] {
		e.siteDetectors = append(e.siteDetectors, &enrollmentLagDetector{params: cfg.Enrollment})
	}
	if enabled[MethodVelocityDrop] {
		e.siteDetectors = append(e.siteDetectors, &velocityDropDetector{dropThreshold: cfg.VelocityDropThreshold})
	}
	if enabled[MethodDemographicSkew] {
		e.siteDetectors = append(e.siteDetectors, &demographicSkewDetector{significance: cfg.SkewSignificance})
	}
	return e, nil
}

// selectMethods resolves the strategy set for one run. An empty request
// means every method the engine was built with.
func (e *Engine) selectMethods(methods []Method) ([]cellStrategy, []siteDetector, error) {
	if len(methods) == 0 {
		return e.cellStrategies, e.siteDetectors, nil
	}

	requested := make(map[Method]bool, len(methods))
	for _, m := range methods {
		requested[m] = true
	}

	var cellStrategies []cellStrategy
	for _, strat := range e.cellStrategies {
		if requested[strat.Method()] {
			cellStrategies = append(cellStrategies, strat)
			delete(requested, strat.Method())
		}
	}
	var siteDetectors []siteDetector
	for _, det := range e.siteDetectors {
		if requested[det.Method()] {
			siteDetectors = append(siteDetectors, det)
			delete(requested, det.Method())
		}
	}

	if len(requested) > 0 {
		missing := make([]string, 0, len(requested))
		for m := range requested {
			missing = append(missing, string(m))
		}
		sort.Strings(missing)
		return nil, nil, apperrors.NewConfigError(
			fmt.Sprintf("requested methods not enabled on this engine: %s", strings.Join(missing, ", ")), nil)
	}
	return cellStrategies, siteDetectors, nil
}

// Detect runs the enabled methods over the observations and returns the
// merged, deduplicated record set. An optional method list restricts the
// run to that subset; requesting a method the engine was not built with
// is a configuration error. Invalid observations are dropped and
// reported in Result.Issues; methods that cannot run on a given cell or
// site are skipped and counted, never fatal. Cancelling the context
// aborts the run and discards all partial results.
func (e *Engine) Detect(ctx context.Context, observations []Observation, methods ...Method) (*Result, error) {
	cellStrategies, siteDetectors, err := e.selectMethods(methods)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := e.otel.traceDetection(ctx, len(observations))
	defer span.End()

	cells, issues := Partition(observations, GroupBySiteTest)
	for _, issue := range issues {
		e.logger.DebugContext(ctx, "observation rejected",
			"subject_id", issue.Observation.SubjectID,
			"site_id", issue.Observation.SiteID,
			"test_code", issue.Observation.TestCode,
			"error", issue.Err)
	}
	if len(issues) > 0 {
		e.logger.WarnContext(ctx, "observations rejected during grouping",
			"rejected", len(issues),
			"accepted", len(observations)-len(issues))
	}

	frame := buildStudyFrame(cells)
	sites := frame.sites()

	keys := make([]CellKey, 0, len(cells))
	for key := range cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SiteID != keys[j].SiteID {
			return keys[i].SiteID < keys[j].SiteID
		}
		return keys[i].TestCode < keys[j].TestCode
	})

	total := len(keys)*len(cellStrategies) + len(sites)*len(siteDetectors)
	outcomes := make(chan Outcome, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.concurrency())

	for _, key := range keys {
		cell := cells[key]
		for _, strat := range cellStrategies {
			strat := strat
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes <- strat.Detect(gctx, cell)
				return nil
			})
		}
	}
	for _, siteID := range sites {
		for _, det := range siteDetectors {
			siteID, det := siteID, det
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcomes <- det.Detect(gctx, siteID, frame)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		e.otel.recordFailure(span, err)
		return nil, fmt.Errorf("detection aborted: %w", err)
	}
	close(outcomes)

	summary := Summary{
		Observations: len(observations),
		Rejected:     len(issues),
		Cells:        len(cells),
		Sites:        len(sites),
		BySeverity:   make(map[Severity]int),
		ByMethod:     make(map[Method]int),
	}

	var records []Record
	for out := range outcomes {
		if out.Status == OutcomeSkipped {
			summary.TasksSkipped++
			e.logger.DebugContext(ctx, "detection method skipped",
				"method", out.Method,
				"site_id", out.SiteID,
				"test_code", out.CellKey.TestCode,
				"reason", out.Err)
			continue
		}
		summary.TasksRun++
		records = append(records, out.Records...)
	}

	merged := Merge(records)
	summary.Findings = len(merged)
	for _, rec := range merged {
		summary.BySeverity[rec.Severity]++
		summary.ByMethod[rec.Method]++
	}

	elapsed := time.Since(start)
	e.otel.recordCompletion(ctx, span, summary, elapsed)
	e.logger.InfoContext(ctx, "detection complete",
		"observations", summary.Observations,
		"rejected", summary.Rejected,
		"cells", summary.Cells,
		"sites", summary.Sites,
		"tasks_run", summary.TasksRun,
		"tasks_skipped", summary.TasksSkipped,
		"findings", summary.Findings,
		"duration", elapsed)

	return &Result{Records: merged, Summary: summary, Issues: issues}, nil
}
