// Package aggregate turns pooled posterior draws into per-day summary
// series. Aggregation is a pure function of the draw multiset: the same
// draws always produce the same medians and intervals.
package aggregate

import (
	"math"
	"sort"

	mstats "github.com/montanaflynn/stats"

	"falseneg/domain/model"
	"falseneg/domain/scenario"
	"falseneg/internal/errors"
)

// Summarize computes, for every exposure day 0..horizon, the median and
// 95% interval of the six derived quantities across all draws, plus the
// scalar attack-rate summary.
func Summarize(draws []model.Draw, horizon int, specificity float64) (scenario.Series, scenario.Interval, error) {
	if len(draws) == 0 {
		return nil, scenario.Interval{}, errors.New(errors.CodeInternalError, "no draws to aggregate")
	}

	series := make(scenario.Series, horizon+1)
	nd := len(draws)
	sens := make([]float64, nd)
	npv := make([]float64, nd)
	fnr := make([]float64, nd)
	for_ := make([]float64, nd)
	rr := make([]float64, 0, nd)
	ard := make([]float64, nd)

	for t := 0; t <= horizon; t++ {
		rr = rr[:0]
		for i, d := range draws {
			q := d.QuantitiesAt(t, specificity)
			sens[i] = q.Sensitivity
			npv[i] = q.NPV
			fnr[i] = q.FalseNegativeRate
			for_[i] = q.FalseOmissionRate
			ard[i] = q.AbsoluteRiskDiff
			if !math.IsNaN(q.RelativeRisk) {
				rr = append(rr, q.RelativeRisk)
			}
		}
		series[t] = scenario.DaySummary{
			Day:               t,
			Sensitivity:       interval(sens),
			NPV:               interval(npv),
			FalseNegativeRate: interval(fnr),
			FalseOmissionRate: interval(for_),
			RelativeRisk:      interval(rr),
			AbsoluteRiskDiff:  interval(ard),
		}
	}

	attack := make([]float64, nd)
	for i, d := range draws {
		attack[i] = d.AttackRate
	}
	return series, interval(attack), nil
}

// interval summarizes one quantity's draw values. An empty slice (every
// draw undefined) yields an undefined interval rather than an error.
func interval(values []float64) scenario.Interval {
	if len(values) == 0 {
		return scenario.Interval{
			Median: math.NaN(), Lo: math.NaN(), Hi: math.NaN(), Defined: false,
		}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	data := mstats.Float64Data(sorted)

	med, _ := mstats.Median(data)
	lo, _ := mstats.Percentile(data, 2.5)
	hi, _ := mstats.Percentile(data, 97.5)
	// Percentile requires len > 1 for the tails; fall back to the single
	// observation.
	if len(sorted) == 1 {
		lo, hi = sorted[0], sorted[0]
	}
	return scenario.Interval{Median: med, Lo: lo, Hi: hi, Defined: true}
}

// ComparativeRow is one day of the cross-scenario comparison table.
type ComparativeRow struct {
	Day   int
	Cells map[string]scenario.DaySummary // keyed by scenario label
}

// Combine merges per-scenario series into a single comparative table keyed
// by day, tagged by scenario label. Scenarios with differing horizons
// contribute only the days they cover.
func Combine(results []*scenario.Result) []ComparativeRow {
	maxDay := -1
	for _, r := range results {
		if len(r.Days)-1 > maxDay {
			maxDay = len(r.Days) - 1
		}
	}
	rows := make([]ComparativeRow, 0, maxDay+1)
	for t := 0; t <= maxDay; t++ {
		row := ComparativeRow{Day: t, Cells: make(map[string]scenario.DaySummary)}
		for _, r := range results {
			if t < len(r.Days) {
				row.Cells[r.Label] = r.Days[t]
			}
		}
		rows = append(rows, row)
	}
	return rows
}
