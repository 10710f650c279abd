// Package ingest loads clinical-trial data exports into the structures
// the detection engine and the risk scorer consume.
//
// Four table kinds are recognized by filename: LB-domain laboratory
// results (lb*.csv, lb*.xlsx), DM-domain demographics (dm*),
// site-level operational metrics (site*metrics*), and enrollment
// rosters (enroll*). Both CSV files and XLSX workbooks are accepted;
// workbook sheets are searched for the header row, and header spellings
// are matched after normalization so CDISC names, snake_case exports
// and spreadsheet titles all resolve to the same columns.
//
// Validation is per-row and non-fatal: rows missing required fields,
// carrying non-numeric results, or reporting physiologically
// implausible values are dropped and surfaced as DataQualityIssue
// records. A built-in catalog of common lab tests supplies plausibility
// bounds and fills in reference ranges and units the files omit.
//
// The usual entry point is the directory loader:
//
//	loader := ingest.NewLoader(logger)
//	ds, err := loader.LoadDirectory(ctx, "data/input")
//
// which joins demographics onto observations, backfills enrollment
// counts into the site metrics, and reports one FileSummary per input
// file.
package ingest
