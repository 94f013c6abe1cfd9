package metric

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vlourenco/dispatchboard/internal/dataset"
)

const (
	errNoRows       = "no rows matched the configured filters"
	errNoDeltas     = "no valid time deltas found"
	errNoDates      = "no valid dates found in column"
	errNoNumbers    = "no valid numeric values found"
	errUnknownKind  = "unknown calculation kind"
	errMissingField = "incomplete indicator configuration"
)

// Compute evaluates one indicator against the snapshot. Errors are reported
// in Result.Err so batch callers degrade per item; Compute never panics for
// bad configuration or unparseable data.
func (c *Calculator) Compute(cfg *IndicatorConfig, ds *dataset.Dataset) *Result {
	res := &Result{ID: cfg.ID, Name: cfg.Name, Kind: cfg.Kind, TotalRows: ds.Len()}

	now := c.clock()
	filtered := Filter(ds, cfg.Conditions, cfg.TrailingHours, cfg.FilterColumn, cfg.LegacyConnector, now)
	filtered = dedupOccurrence(cfg, filtered)
	res.FilteredRows = filtered.Len()

	if filtered.Len() == 0 {
		res.Err = errNoRows
		return res
	}
	if err := cfg.Validate(); err != nil {
		if cfg.Kind != KindTimeBetween && cfg.Kind != KindTimeSince && cfg.Kind != KindCount &&
			cfg.Kind != KindSum && cfg.Kind != KindMean && cfg.Kind != KindPercentTarget {
			res.Err = errUnknownKind
		} else {
			res.Err = errMissingField
		}
		return res
	}

	switch cfg.Kind {
	case KindTimeBetween:
		deltas := timeDeltas(filtered, cfg.StartColumn, cfg.EndColumn, cfg.measureUnit())
		if len(deltas) == 0 {
			res.Err = errNoDeltas
			return res
		}
		res.Value = ptr(mean(deltas))
		res.Min, res.Max, res.Median = minMaxMedian(deltas)
		res.Unit = cfg.measureUnit()

	case KindTimeSince:
		deltas := timeSince(filtered, cfg.StartColumn, cfg.measureUnit(), now)
		if len(deltas) == 0 {
			res.Err = errNoDates
			return res
		}
		// worst case is what matters here, not the average
		res.Min, res.Max, res.Median = minMaxMedian(deltas)
		res.Value = res.Max
		res.Unit = cfg.measureUnit()

	case KindCount:
		res.Value = ptr(float64(filtered.Len()))
		res.Unit = cfg.Unit
		if res.Unit == "" {
			res.Unit = "occurrences"
		}
		c.countRange(cfg, ds, res)

	case KindSum, KindMean:
		nums := numericColumn(filtered, cfg.ValueColumn)
		if len(nums) == 0 {
			res.Err = errNoNumbers
			return res
		}
		if cfg.Kind == KindSum {
			res.Value = ptr(sum(nums))
		} else {
			res.Value = ptr(mean(nums))
			res.Min, res.Max, res.Median = minMaxMedian(nums)
		}
		res.Unit = cfg.Unit

	case KindPercentTarget:
		deltas := timeDeltas(filtered, cfg.StartColumn, cfg.EndColumn, cfg.measureUnit())
		if len(deltas) == 0 {
			res.Err = errNoDeltas
			return res
		}
		res.Value = percentWithin(deltas, *cfg.TargetValue, cfg.targetOperator())
		res.Unit = "%"
	}
	return res
}

// countRange fills Min/Max for count indicators from the indicator's own
// chart-window series, so the card range matches what the chart shows.
func (c *Calculator) countRange(cfg *IndicatorConfig, ds *dataset.Dataset, res *Result) {
	hours := cfg.ChartHours
	if hours <= 0 {
		hours = 12
	}
	interval := cfg.ChartIntervalMinutes
	if interval <= 0 {
		interval = 60
	}
	var values []float64
	for _, p := range c.Series(cfg, hours, interval, ds) {
		if p.Value != nil {
			values = append(values, *p.Value)
		}
	}
	if len(values) == 0 {
		log.Debug().Str("indicator", cfg.Name).Msg("count range not computed: empty series")
		return
	}
	mn, mx, _ := minMaxMedian(values)
	res.Min, res.Max = mn, mx
}

func dedupOccurrence(cfg *IndicatorConfig, ds *dataset.Dataset) *dataset.Dataset {
	if cfg.CountBy == CountByOccurrence && cfg.OccurrenceColumn != "" && ds.HasColumn(cfg.OccurrenceColumn) {
		return ds.DropDuplicates(cfg.OccurrenceColumn)
	}
	return ds
}

// timeDeltas returns (end - start) per row in the requested unit, dropping
// rows where either timestamp fails to parse.
func timeDeltas(ds *dataset.Dataset, startCol, endCol, unit string) []float64 {
	if !ds.HasColumn(startCol) || !ds.HasColumn(endCol) {
		log.Warn().Str("start", startCol).Str("end", endCol).Msg("time delta columns not found")
		return nil
	}
	div := unitSeconds(unit)
	out := make([]float64, 0, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		rawStart, _ := ds.Cell(i, startCol)
		rawEnd, _ := ds.Cell(i, endCol)
		start, ok1 := dataset.ParseTime(rawStart)
		end, ok2 := dataset.ParseTime(rawEnd)
		if !ok1 || !ok2 {
			continue
		}
		out = append(out, end.Sub(start).Seconds()/div)
	}
	return out
}

// timeSince returns (now - column) per row in the requested unit.
func timeSince(ds *dataset.Dataset, col, unit string, now time.Time) []float64 {
	if !ds.HasColumn(col) {
		log.Warn().Str("column", col).Msg("time since column not found")
		return nil
	}
	div := unitSeconds(unit)
	out := make([]float64, 0, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		raw, _ := ds.Cell(i, col)
		t, ok := dataset.ParseTime(raw)
		if !ok {
			continue
		}
		out = append(out, now.Sub(t).Seconds()/div)
	}
	return out
}

// numericColumn returns the parseable numbers of a column, dropping the rest.
func numericColumn(ds *dataset.Dataset, col string) []float64 {
	if !ds.HasColumn(col) {
		return nil
	}
	out := make([]float64, 0, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		raw, _ := ds.Cell(i, col)
		if f, ok := dataset.ParseFloat(raw); ok {
			out = append(out, f)
		}
	}
	return out
}

// percentWithin is the share of deltas meeting the target, 0-100 rounded to
// two decimals. op is "<=" or ">=".
func percentWithin(deltas []float64, target float64, op string) *float64 {
	if len(deltas) == 0 {
		return nil
	}
	within := 0
	for _, d := range deltas {
		if (op == ">=" && d >= target) || (op != ">=" && d <= target) {
			within++
		}
	}
	return ptr(round2(100 * float64(within) / float64(len(deltas))))
}

func sum(v []float64) float64 {
	s := 0.0
	for _, f := range v {
		s += f
	}
	return s
}

func mean(v []float64) float64 { return sum(v) / float64(len(v)) }

func minMaxMedian(v []float64) (mn, mx, med *float64) {
	if len(v) == 0 {
		return nil, nil, nil
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	m := s[len(s)/2]
	if len(s)%2 == 0 {
		m = (s[len(s)/2-1] + s[len(s)/2]) / 2
	}
	return ptr(s[0]), ptr(s[len(s)-1]), ptr(m)
}

func ptr(f float64) *float64 { return &f }

func round1(f float64) float64 { return math.Round(f*10) / 10 }

func round2(f float64) float64 { return math.Round(f*100) / 100 }
