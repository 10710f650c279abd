package ingest

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"

	apperrors "trialpulse/internal/errors"
)

// headerScanLimit bounds how many leading rows are searched for the
// header line. Vendor exports sometimes prepend title or export-info
// rows before the column names.
const headerScanLimit = 20

// tableSpec declares what a loader expects from a file: the canonical
// field names it reads, the header spellings each field accepts, and
// which fields must be present for the file to be usable.
type tableSpec struct {
	kind     string
	aliases  map[string][]string
	required []string
}

// table is a parsed file reduced to data rows plus a resolved column
// map. Both CSV and XLSX inputs normalize to this shape.
type table struct {
	path      string
	rows      [][]string
	cols      map[string]int
	firstLine int // 1-based file line of rows[0], for issue reporting
}

// cell returns the trimmed value of a canonical field in a data row, or
// "" when the column is absent or the row is short.
func (t *table) cell(row []string, field string) string {
	idx, ok := t.cols[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// line converts a data-row index into the 1-based file line.
func (t *table) line(i int) int {
	return t.firstLine + i
}

// loadTable reads a CSV or XLSX file and locates the header row
// matching spec. XLSX workbooks are searched sheet by sheet; the first
// sheet whose leading rows contain the required columns wins.
func loadTable(path string, spec tableSpec) (*table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadCSVTable(path, spec)
	case ".xlsx", ".xls":
		return loadXLSXTable(path, spec)
	default:
		return nil, apperrors.NewInputError(fmt.Sprintf("unsupported file type: %s", filepath.Base(path)), nil)
	}
}

func loadCSVTable(path string, spec tableSpec) (*table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewInputError(fmt.Sprintf("open %s file", spec.kind), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // ragged rows handled per-record
	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("read %s CSV records", spec.kind), err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewInputError(fmt.Sprintf("empty %s file: %s", spec.kind, filepath.Base(path)), nil)
	}

	headerIdx, cols, err := locateHeader(records, spec)
	if err != nil {
		return nil, err
	}
	return &table{
		path:      path,
		rows:      records[headerIdx+1:],
		cols:      cols,
		firstLine: headerIdx + 2,
	}, nil
}

func loadXLSXTable(path string, spec tableSpec) (*table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.NewInputError(fmt.Sprintf("open %s workbook", spec.kind), err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			slog.Warn("failed to close workbook", "file", filepath.Base(path), "error", cerr)
		}
	}()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		headerIdx, cols, err := locateHeader(rows, spec)
		if err != nil {
			continue // try the next sheet
		}
		return &table{
			path:      path,
			rows:      rows[headerIdx+1:],
			cols:      cols,
			firstLine: headerIdx + 2,
		}, nil
	}
	return nil, apperrors.NewInputError(
		fmt.Sprintf("no sheet in %s contains the expected %s columns", filepath.Base(path), spec.kind), nil)
}

// locateHeader scans the leading rows for the one naming the columns
// spec requires. Header spellings are matched after normalization, so
// "Subject ID", "subject_id" and "SUBJECTID" are the same name.
func locateHeader(rows [][]string, spec tableSpec) (int, map[string]int, error) {
	limit := len(rows)
	if limit > headerScanLimit {
		limit = headerScanLimit
	}

	var bestCols map[string]int
	bestFound := -1
	bestIdx := 0

	for i := 0; i < limit; i++ {
		cols := make(map[string]int)
		for idx, cell := range rows[i] {
			name := normalizeHeader(cell)
			if name == "" {
				continue
			}
			for field, names := range spec.aliases {
				if _, taken := cols[field]; taken {
					continue
				}
				for _, alias := range names {
					if name == alias {
						cols[field] = idx
						break
					}
				}
			}
		}

		found := 0
		for _, req := range spec.required {
			if _, ok := cols[req]; ok {
				found++
			}
		}
		if found == len(spec.required) {
			return i, cols, nil
		}
		if found > bestFound {
			bestFound, bestCols, bestIdx = found, cols, i
		}
	}

	for _, req := range spec.required {
		if _, ok := bestCols[req]; !ok {
			return bestIdx, nil, apperrors.NewInputError(
				fmt.Sprintf("could not find required column: %s", req), nil)
		}
	}
	return bestIdx, bestCols, nil
}

// normalizeHeader lowercases a header cell and strips everything but
// letters and digits.
func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// rowEmpty reports whether every cell in a row is blank.
func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseFloatCell parses a numeric cell, tolerating thousands separators.
func parseFloatCell(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(s, 64)
}

// parseIntCell parses an integer cell, tolerating thousands separators
// and trailing decimals the way spreadsheet exports write counts.
func parseIntCell(s string) (int, error) {
	v, err := parseFloatCell(s)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// dateFormats lists the timestamp layouts accepted for collection
// dates. CDISC --DTC values are ISO 8601; the rest cover common
// spreadsheet exports.
var dateFormats = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// parseDateCell tries each accepted layout in order.
func parseDateCell(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}
