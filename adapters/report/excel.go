package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"falseneg/domain/scenario"
	"falseneg/internal/aggregate"
	"falseneg/internal/errors"
)

// ExcelWriter emits the comparative workbook: one sheet per scenario plus
// a combined sheet of false-omission-rate medians across scenarios.
type ExcelWriter struct {
	dir string
}

// NewExcelWriter writes results.xlsx under dir.
func NewExcelWriter(dir string) *ExcelWriter {
	return &ExcelWriter{dir: dir}
}

var dayHeaders = []string{
	"day",
	"sensitivity", "sensitivity_lo", "sensitivity_hi",
	"npv", "npv_lo", "npv_hi",
	"false_negative_rate", "fnr_lo", "fnr_hi",
	"false_omission_rate", "for_lo", "for_hi",
	"relative_risk", "rr_lo", "rr_hi",
	"absolute_risk_diff", "ard_lo", "ard_hi",
}

// Write builds the workbook from completed runs.
func (w *ExcelWriter) Write(results []*scenario.Result) error {
	if len(results) == 0 {
		return errors.New(errors.CodeReportError, "no results to write")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return errors.Wrap(err, "creating report directory")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, r := range results {
		sheet := sheetName(r.Label)
		if i == 0 {
			f.SetSheetName("Sheet1", sheet)
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return errors.Wrapf(err, "creating sheet for %q", r.Label)
			}
		}
		if err := writeScenarioSheet(f, sheet, r); err != nil {
			return err
		}
	}

	if err := writeComparisonSheet(f, results); err != nil {
		return err
	}

	path := filepath.Join(w.dir, "results.xlsx")
	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, "saving workbook")
	}
	return nil
}

func writeScenarioSheet(f *excelize.File, sheet string, r *scenario.Result) error {
	for col, h := range dayHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for row, d := range r.Days {
		values := []interface{}{d.Day}
		for _, iv := range []scenario.Interval{
			d.Sensitivity, d.NPV, d.FalseNegativeRate,
			d.FalseOmissionRate, d.RelativeRisk, d.AbsoluteRiskDiff,
		} {
			values = append(values, cellValue(iv.Median), cellValue(iv.Lo), cellValue(iv.Hi))
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}
	// Attack-rate summary below the table.
	base := len(r.Days) + 3
	f.SetCellValue(sheet, fmt.Sprintf("A%d", base), "attack_rate")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", base), cellValue(r.AttackRate.Median))
	f.SetCellValue(sheet, fmt.Sprintf("C%d", base), cellValue(r.AttackRate.Lo))
	f.SetCellValue(sheet, fmt.Sprintf("D%d", base), cellValue(r.AttackRate.Hi))
	return nil
}

func writeComparisonSheet(f *excelize.File, results []*scenario.Result) error {
	const sheet = "comparison"
	if _, err := f.NewSheet(sheet); err != nil {
		return errors.Wrap(err, "creating comparison sheet")
	}
	f.SetCellValue(sheet, "A1", "day")
	for i, r := range results {
		cell, _ := excelize.CoordinatesToCellName(i+2, 1)
		f.SetCellValue(sheet, cell, r.Label)
	}
	rows := aggregate.Combine(results)
	for _, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, row.Day+2)
		f.SetCellValue(sheet, cell, row.Day)
		for i, r := range results {
			d, ok := row.Cells[r.Label]
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(i+2, row.Day+2)
			f.SetCellValue(sheet, cell, cellValue(d.FalseOmissionRate.Median))
		}
	}
	return nil
}

// cellValue keeps NaN out of the workbook; excelize rejects it.
func cellValue(v float64) interface{} {
	if math.IsNaN(v) {
		return "n/a"
	}
	return v
}

// sheetName trims labels to excelize's 31-character sheet limit.
func sheetName(label string) string {
	if len(label) > 31 {
		return label[:31]
	}
	return label
}
