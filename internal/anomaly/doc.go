// Package anomaly detects statistical anomalies in longitudinal clinical
// trial data. It groups laboratory observations into (site, test) analysis
// cells, runs a configurable set of detection methods over them and merges
// the findings into a single deduplicated, severity-graded record set.
//
// # Detection Methods
//
// Cell-scoped methods look for implausible laboratory values and entry
// patterns inside one (site, test) cell:
//
//	zscore            standard score against the cell mean
//	modified_zscore   MAD-based score, robust to the outliers it hunts
//	grubbs            single-outlier test, gated on a normality pre-check
//	isolation_forest  multivariate isolation over value, visit and age
//	dbscan            density noise points over standardized values
//	digit_preference  first-digit Benford and terminal-digit uniformity
//
// Site-scoped methods judge one site against the whole study:
//
//	enrollment_lag    enrollment rate against the site's target
//	velocity_drop     sustained falls below the smoothed entry volume
//	demographic_skew  sex, race and age divergence from the study population
//
// # Usage
//
// Build an engine from a validated configuration and hand it the full
// observation set:
//
//	engine, err := anomaly.NewEngine(anomaly.DefaultDetectionConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	result, err := engine.Detect(ctx, observations)
//
// Methods fan out over a bounded worker pool. A method that cannot run on
// a given cell (too few observations, zero variance, failed normality) is
// skipped and counted, never fatal; invalid observations are dropped
// per record and reported alongside the results. Cancelling the context
// aborts the run without partial results.
//
// # Severity and Deduplication
//
// Raw scores are method-specific and not comparable across methods. Each
// record therefore carries a normalized confidence in [0, 1]; when several
// methods flag the same (subject, test, visit) the merger keeps the record
// with the highest confidence and preserves the superseded method names in
// its metadata. Severity tiers are assigned from fixed per-method buckets
// during the merge.
package anomaly
