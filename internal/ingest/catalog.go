package ingest

import "strings"

// TestDef describes one laboratory test the pipeline knows how to
// sanity-check: its canonical CDISC short code, reporting unit, adult
// reference range, and the plausibility bounds outside which a value is
// treated as a transcription or unit error rather than a clinical finding.
type TestDef struct {
	Code          string
	Name          string
	Unit          string
	RefLow        float64
	RefHigh       float64
	PlausibleLow  float64
	PlausibleHigh float64
}

// catalog maps CDISC LBTESTCD codes to their definitions. Reference
// ranges follow common adult panels; plausibility bounds are wide enough
// to admit any survivable result.
var catalog = map[string]TestDef{
	"GLUC":  {Code: "GLUC", Name: "Glucose", Unit: "mg/dL", RefLow: 70, RefHigh: 100, PlausibleLow: 20, PlausibleHigh: 500},
	"HGB":   {Code: "HGB", Name: "Hemoglobin", Unit: "g/dL", RefLow: 12, RefHigh: 17.5, PlausibleLow: 5, PlausibleHigh: 20},
	"WBC":   {Code: "WBC", Name: "Leukocytes", Unit: "K/uL", RefLow: 4, RefHigh: 11, PlausibleLow: 0.5, PlausibleHigh: 50},
	"CREAT": {Code: "CREAT", Name: "Creatinine", Unit: "mg/dL", RefLow: 0.6, RefHigh: 1.3, PlausibleLow: 0.1, PlausibleHigh: 15},
	"ALT":   {Code: "ALT", Name: "Alanine Aminotransferase", Unit: "U/L", RefLow: 10, RefHigh: 40, PlausibleLow: 1, PlausibleHigh: 500},
	"CHOL":  {Code: "CHOL", Name: "Cholesterol", Unit: "mg/dL", RefLow: 100, RefHigh: 200, PlausibleLow: 50, PlausibleHigh: 500},
	"HDL":   {Code: "HDL", Name: "HDL Cholesterol", Unit: "mg/dL", RefLow: 40, RefHigh: 100, PlausibleLow: 10, PlausibleHigh: 150},
	"LDL":   {Code: "LDL", Name: "LDL Cholesterol", Unit: "mg/dL", RefLow: 0, RefHigh: 130, PlausibleLow: 10, PlausibleHigh: 300},
	"TRIG":  {Code: "TRIG", Name: "Triglycerides", Unit: "mg/dL", RefLow: 50, RefHigh: 150, PlausibleLow: 20, PlausibleHigh: 1000},
	"HBA1C": {Code: "HBA1C", Name: "Hemoglobin A1C", Unit: "%", RefLow: 4, RefHigh: 5.6, PlausibleLow: 2, PlausibleHigh: 20},
}

// LookupTest returns the catalog entry for a test code, matching
// case-insensitively. Unknown codes return ok=false; their records are
// still ingested, just without catalog-backed bounds or range fill-in.
func LookupTest(code string) (TestDef, bool) {
	def, ok := catalog[strings.ToUpper(strings.TrimSpace(code))]
	return def, ok
}

// KnownTests returns the catalog codes, for logging and tests.
func KnownTests() []string {
	codes := make([]string, 0, len(catalog))
	for code := range catalog {
		codes = append(codes, code)
	}
	return codes
}
