// Package tabular loads the diagnostic-sensitivity observation dataset
// from CSV or Excel files. It resolves the typed record collection the
// model consumes; loose string-keyed access stops at this boundary.
package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"falseneg/domain/dataset"
	"falseneg/internal/errors"
)

// Expected column headers, matched case-insensitively.
const (
	colStudy    = "study"
	colDay      = "day"
	colTested   = "n"
	colPositive = "test_pos"
)

// DataReader handles reading Excel and CSV observation files.
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

// NewDataReader creates a reader; the format is chosen by file extension.
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType}
}

// Read loads and validates the observation dataset against the modeled
// horizon. Study indices are assigned densely in first-appearance order;
// pct_pos is derived, never read.
func (r *DataReader) Read(horizon int) (*dataset.Dataset, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.Newf(errors.CodeValidationError, "%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, errors.Newf(errors.CodeValidationError, "unsupported file type: %s", r.fileType)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.Newf(errors.CodeValidationError, "%s file must have a header row and at least one data row", strings.ToUpper(r.fileType))
	}

	records, err := parseRows(rows)
	if err != nil {
		return nil, err
	}
	return dataset.FromRows(records, horizon)
}

func (r *DataReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

func (r *DataReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("failed to read Sheet1: %w", err)
	}
	return rows, nil
}

// parseRows maps the header row onto the expected columns and converts
// every data row into a typed record. Malformed rows are fatal and
// identified by their file line.
func parseRows(rows [][]string) ([]dataset.Record, error) {
	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{colStudy, colDay, colTested, colPositive} {
		if _, ok := cols[want]; !ok {
			return nil, errors.Newf(errors.CodeValidationError, "missing required column %q", want)
		}
	}

	var records []dataset.Record
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		cell := func(name string) string {
			j := cols[name]
			if j >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[j])
		}
		if cell(colStudy) == "" && cell(colDay) == "" {
			continue // trailing blank rows are common in exported sheets
		}

		day, err := strconv.Atoi(cell(colDay))
		if err != nil {
			return nil, errors.Newf(errors.CodeValidationError, "row %d: day %q is not an integer", i+1, cell(colDay))
		}
		tested, err := strconv.Atoi(cell(colTested))
		if err != nil {
			return nil, errors.Newf(errors.CodeValidationError, "row %d: n %q is not an integer", i+1, cell(colTested))
		}
		positive, err := strconv.Atoi(cell(colPositive))
		if err != nil {
			return nil, errors.Newf(errors.CodeValidationError, "row %d: test_pos %q is not an integer", i+1, cell(colPositive))
		}
		records = append(records, dataset.Record{
			Study:    cell(colStudy),
			Day:      day,
			Tested:   tested,
			Positive: positive,
		})
	}
	return records, nil
}
