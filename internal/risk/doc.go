// Package risk computes composite risk profiles for clinical trial
// monitoring sites, following risk-based-monitoring practice: five
// weighted components rolled up into one normalized score and a
// categorical level.
//
// # Components
//
// Each component combines two to four normalized sub-metrics with fixed
// internal weights (documented on the component functions):
//
//	data_quality            query rate, missing data, entry lag, anomaly burden   weight 0.25
//	enrollment_performance  shortfall vs expectation, operational flags           weight 0.20
//	protocol_compliance     deviation rate, major deviations                      weight 0.25
//	safety_reporting        SAE latency, unreported SAEs                          weight 0.20
//	monitoring_findings     audit findings, open CAPAs                            weight 0.10
//
// The anomaly burden links this package to the detection engine: merged
// records from anomaly.Engine.Detect raise the data-quality component
// (record-level flags) and the enrollment component (site-level
// operational flags) of the sites they belong to.
//
// # Usage
//
//	scorer, err := risk.NewScorer(risk.DefaultScoringConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	profile, err := scorer.ScoreSite(ctx, metrics, result.Records, history)
//
// A profile is always derived from its inputs in full; history only adds
// a trend annotation and never changes the numeric score.
package risk
