// Command risk-report runs the full site risk pipeline over a directory of
// clinical trial extracts: ingestion, anomaly detection, risk scoring and a
// timestamped JSON report. It is a batch tool; the optional ops listener
// exposes health and metrics endpoints for the duration of the run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"trialpulse/internal/anomaly"
	"trialpulse/internal/config"
	"trialpulse/internal/infrastructure"
	"trialpulse/internal/ingest"
	"trialpulse/internal/ops"
	"trialpulse/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (overrides discovery)")
	inputDir := flag.String("input", "", "Directory containing lab, demographics, enrollment and site metrics files")
	outputDir := flag.String("out", "", "Directory for the generated report")
	methods := flag.String("methods", "", "Comma-separated detection methods (default: all)")
	opsAddr := flag.String("ops-addr", "", "Address for the ops HTTP listener, e.g. :8090 (empty: disabled)")
	timeout := flag.Duration("timeout", 0, "Detection run timeout (default 5m)")
	traceStdout := flag.Bool("trace", false, "Export spans to stdout for debugging")
	flag.Parse()

	if *configPath != "" {
		os.Setenv(config.EnvPrefix+"_CONFIG", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *inputDir != "" {
		cfg.Paths.InputDir = *inputDir
	}
	if *outputDir != "" {
		cfg.Paths.ReportsDir = *outputDir
	}
	if *methods != "" {
		cfg.Detection.Methods = *methods
	}
	if *opsAddr != "" {
		cfg.Ops.Addr = *opsAddr
	}

	paths, err := cfg.ResolvePaths()
	if err != nil {
		slog.Error("Failed to resolve paths", "error", err)
		os.Exit(1)
	}
	if err := paths.EnsureDirectories(); err != nil {
		slog.Error("Failed to create output directories", "error", err)
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	otelCfg := infrastructure.DefaultOTelConfig()
	if *traceStdout {
		otelCfg.EnableTracing = true
		otelCfg.TraceExporter = "stdout"
	}
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	os.Exit(run(cfg, paths, logger, providers, *timeout))
}

// run executes the pipeline and returns the process exit code. It is
// separate from main so deferred cleanup survives failures.
func run(cfg *config.Config, paths *config.Paths, logger *slog.Logger, providers *infrastructure.OTelProviders, timeout time.Duration) int {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown incomplete", "error", err)
		}
	}()

	ctx := infrastructure.EnsureTraceID(context.Background())
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := infrastructure.GetTraceID(ctx)
	started := time.Now()
	logger.InfoContext(ctx, "Starting risk report run",
		"version", config.AppVersion,
		"run_id", runID,
		"input", paths.InputDir)

	busMetrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		logger.WarnContext(ctx, "Business metrics disabled", "error", err)
	}

	health := ops.NewHealth(config.AppVersion)
	if cfg.Ops.Addr != "" {
		collector, err := infrastructure.NewSystemMetricsCollector(providers.Meter, 15*time.Second)
		if err != nil {
			logger.WarnContext(ctx, "System metrics collector disabled", "error", err)
		} else {
			go collector.Start(ctx)
			defer collector.Stop()
		}

		srv := ops.NewServer(cfg.Ops, logger, health, providers.PrometheusHTTP, collector, busMetrics)
		if err := srv.Start(); err != nil {
			logger.ErrorContext(ctx, "Failed to start ops server", "error", err)
			return 1
		}
		defer srv.Shutdown(context.Background())
		logger.InfoContext(ctx, "Ops endpoints listening", "addr", srv.Addr())
	}
	health.SetReady()

	health.SetStage(ops.StageIngesting)
	logger.InfoContext(ctx, "Loading input files", "dir", paths.InputDir)
	ingestStart := time.Now()
	dataset, err := ingest.NewLoader(logger).LoadDirectory(ctx, paths.InputDir)
	if err != nil {
		logger.ErrorContext(ctx, "Ingestion failed", "error", err)
		infrastructure.RecordPipelineMetrics(ctx, busMetrics, runID, time.Since(started), err)
		return 1
	}
	infrastructure.RecordIngestMetrics(ctx, busMetrics, "input_dir",
		int64(len(dataset.Observations)), int64(dataset.Rejected()), time.Since(ingestStart))

	health.SetStage(ops.StageDetecting)
	engine, err := anomaly.NewEngine(detectionConfig(cfg.Detection), logger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build detection engine", "error", err)
		return 1
	}
	if timeout <= 0 {
		timeout = config.DefaultDetectionTimeout
	}
	detectCtx, cancel := context.WithTimeout(ctx, timeout)
	result, err := engine.Detect(detectCtx, dataset.Observations)
	cancel()
	if err != nil {
		logger.ErrorContext(ctx, "Detection failed", "error", err)
		infrastructure.RecordPipelineMetrics(ctx, busMetrics, runID, time.Since(started), err)
		return 1
	}

	health.SetStage(ops.StageScoring)
	scorer, err := risk.NewScorer(scoringConfig(cfg.Risk), logger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build risk scorer", "error", err)
		return 1
	}
	profiles, err := scoreSites(ctx, scorer, dataset, result.Records, logger)
	if err != nil {
		logger.ErrorContext(ctx, "Risk scoring failed", "error", err)
		infrastructure.RecordPipelineMetrics(ctx, busMetrics, runID, time.Since(started), err)
		return 1
	}

	health.SetStage(ops.StageReporting)
	report := Report{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Version:     config.AppVersion,
		Input: InputSummary{
			Directory: paths.InputDir,
			Files:     dataset.Files,
			Issues:    len(dataset.Issues),
			Rejected:  dataset.Rejected(),
		},
		Detection: result.Summary,
		Anomalies: result.Records,
		Profiles:  profiles,
	}
	outPath := paths.ReportFile("site_risk", time.Now())
	if err := writeReport(outPath, report); err != nil {
		logger.ErrorContext(ctx, "Failed to write report", "error", err, "path", outPath)
		infrastructure.RecordPipelineMetrics(ctx, busMetrics, runID, time.Since(started), err)
		return 1
	}
	if busMetrics != nil {
		busMetrics.ReportsWrittenTotal.Add(ctx, 1)
	}

	infrastructure.RecordPipelineMetrics(ctx, busMetrics, runID, time.Since(started), nil)
	health.SetStage(ops.StageIdle)
	logger.InfoContext(ctx, "Risk report complete",
		"report", outPath,
		"sites", len(profiles),
		"findings", result.Summary.Findings,
		"duration", time.Since(started).Round(time.Millisecond))

	printSummary(report, outPath)
	return 0
}

// detectionConfig maps the validated application configuration onto the
// engine configuration, starting from the engine defaults so unset tuning
// stays at its documented value.
func detectionConfig(d config.DetectionConfig) anomaly.DetectionConfig {
	dc := anomaly.DefaultDetectionConfig()
	dc.ZThreshold = d.ZThreshold
	dc.MADThreshold = d.MADThreshold
	dc.Contamination = d.Contamination
	dc.DigitSignificance = d.DigitSignificance
	dc.Enrollment.TargetPerMonth = d.EnrollmentTargetMonthly
	dc.Enrollment.Threshold = d.EnrollmentThreshold
	dc.VelocityDropThreshold = d.VelocityDropThreshold
	dc.SkewSignificance = d.SkewSignificance
	dc.MinSampleSize = d.MinSampleSize
	if d.MaxConcurrency > 0 {
		dc.MaxConcurrency = d.MaxConcurrency
	}
	dc.RandomSeed = d.RandomSeed
	if d.Methods != "" {
		dc.Methods = parseMethods(d.Methods)
	}
	return dc
}

// parseMethods splits a comma-separated method list. Unknown names are left
// in place; the engine rejects them with a config error on construction.
func parseMethods(s string) []anomaly.Method {
	parts := strings.Split(s, ",")
	methods := make([]anomaly.Method, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		methods = append(methods, anomaly.Method(p))
	}
	return methods
}

// scoringConfig maps the configured weights and thresholds onto the scorer
// configuration.
func scoringConfig(r config.RiskConfig) risk.ScoringConfig {
	sc := risk.DefaultScoringConfig()
	sc.Weights = risk.ComponentWeights{
		DataQuality: r.DataQualityWeight,
		Enrollment:  r.EnrollmentWeight,
		Compliance:  r.ComplianceWeight,
		Safety:      r.SafetyWeight,
		Monitoring:  r.MonitoringWeight,
	}
	sc.LowBelow = r.LowBelow
	sc.MediumBelow = r.MediumBelow
	sc.TrendWindow = r.TrendWindow
	sc.TrendSlope = r.TrendSlope
	return sc
}

// scoreSites scores every site seen in the run: sites with an operational
// metrics row, sites that only appear in the lab data, and sites that only
// surfaced through detection records. Sites without a metrics row are scored
// on a synthesized row carrying just the observation count, so the anomaly
// burden still registers. A failed site is logged and skipped rather than
// failing the run.
func scoreSites(ctx context.Context, scorer *risk.Scorer, dataset *ingest.Dataset, records []anomaly.Record, logger *slog.Logger) ([]risk.SiteProfile, error) {
	metricsBySite := make(map[string]risk.SiteMetrics, len(dataset.SiteMetrics))
	for _, m := range dataset.SiteMetrics {
		metricsBySite[m.SiteID] = m
	}

	recordsBySite := make(map[string][]anomaly.Record)
	for _, rec := range records {
		recordsBySite[rec.SiteID] = append(recordsBySite[rec.SiteID], rec)
	}

	obsBySite := make(map[string]int)
	for _, obs := range dataset.Observations {
		obsBySite[obs.SiteID]++
	}

	siteSet := make(map[string]struct{})
	for site := range metricsBySite {
		siteSet[site] = struct{}{}
	}
	for site := range recordsBySite {
		siteSet[site] = struct{}{}
	}
	for site := range obsBySite {
		siteSet[site] = struct{}{}
	}

	sites := make([]string, 0, len(siteSet))
	for site := range siteSet {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	profiles := make([]risk.SiteProfile, 0, len(sites))
	for _, site := range sites {
		metrics, ok := metricsBySite[site]
		if !ok {
			metrics = risk.SiteMetrics{SiteID: site}
		}
		if metrics.Observations == 0 {
			metrics.Observations = obsBySite[site]
		}

		profile, err := scorer.ScoreSite(ctx, metrics, recordsBySite[site], nil)
		if err != nil {
			logger.WarnContext(ctx, "Skipping site after scoring failure",
				"site", site, "error", err)
			continue
		}
		profiles = append(profiles, *profile)
	}

	if len(profiles) == 0 && len(sites) > 0 {
		return nil, fmt.Errorf("no site could be scored (%d attempted)", len(sites))
	}
	return profiles, nil
}

// Report is the top-level document written for one run.
type Report struct {
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Version     string             `json:"version"`
	Input       InputSummary       `json:"input"`
	Detection   anomaly.Summary    `json:"detection"`
	Anomalies   []anomaly.Record   `json:"anomalies"`
	Profiles    []risk.SiteProfile `json:"profiles"`
}

// InputSummary describes what was read and what was rejected.
type InputSummary struct {
	Directory string               `json:"directory"`
	Files     []ingest.FileSummary `json:"files"`
	Issues    int                  `json:"issues"`
	Rejected  int                  `json:"rejected"`
}

func writeReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// printSummary writes a human-readable digest to stdout: run totals and the
// highest-risk sites with their leading risk factor.
func printSummary(report Report, outPath string) {
	fmt.Println()
	fmt.Println("=== Site Risk Summary ===")
	fmt.Printf("Files read:     %d\n", len(report.Input.Files))
	fmt.Printf("Observations:   %d (%d rejected)\n", report.Detection.Observations, report.Input.Rejected)
	fmt.Printf("Sites:          %d\n", len(report.Profiles))
	fmt.Printf("Findings:       %d", report.Detection.Findings)
	if n := report.Detection.BySeverity[anomaly.SeverityHigh]; n > 0 {
		fmt.Printf(" (%d high)", n)
	}
	fmt.Println()
	fmt.Println()

	sorted := make([]risk.SiteProfile, len(report.Profiles))
	copy(sorted, report.Profiles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OverallScore > sorted[j].OverallScore
	})
	limit := len(sorted)
	if limit > 10 {
		limit = 10
	}

	fmt.Printf("%-16s %8s  %-8s %9s  %s\n", "SITE", "SCORE", "LEVEL", "ANOMALIES", "TOP RISK FACTOR")
	for _, p := range sorted[:limit] {
		total := 0
		for _, n := range p.AnomalyCounts {
			total += n
		}
		factor := "-"
		if len(p.RiskFactors) > 0 {
			factor = p.RiskFactors[0]
		}
		fmt.Printf("%-16s %8.3f  %-8s %9d  %s\n", p.SiteID, p.OverallScore, p.Level, total, factor)
	}
	fmt.Println()
	fmt.Printf("Report written to %s\n", outPath)
}
