package metric

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vlourenco/dispatchboard/internal/dataset"
)

const timestampLayout = "2006-01-02 15:04:05"

// Series samples the indicator over the trailing hours at the given interval.
// Count indicators use disjoint interval-wide windows; every other kind uses
// a moving window ending at the sample time, so consecutive points smooth
// over the configured window width.
//
// The range starts at now-hours, aligned down to the interval boundary for
// sub-hour intervals, and extends one interval past now so the chart always
// carries a point for the in-progress bucket. Points after now reuse the
// current wall-clock label so the axis reads up to "now".
func (c *Calculator) Series(cfg *IndicatorConfig, hours, intervalMinutes int, ds *dataset.Dataset) []Point {
	if hours <= 0 {
		hours = 12
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	now := c.clock()
	interval := time.Duration(intervalMinutes) * time.Minute

	start := now.Add(-time.Duration(hours) * time.Hour)
	if intervalMinutes <= 60 {
		start = alignToInterval(start, intervalMinutes)
	}

	timeColumn := cfg.FilterColumn
	if timeColumn == "" {
		timeColumn = cfg.StartColumn
	}
	if timeColumn == "" || !ds.HasColumn(timeColumn) {
		log.Warn().Str("indicator", cfg.Name).Str("column", timeColumn).Msg("series time column not found")
		return nil
	}

	base := Filter(ds, cfg.Conditions, 0, "", cfg.LegacyConnector, now)

	nowLabel := now.Format("15:04")
	var points []Point
	for at := start; !at.After(now.Add(interval)); at = at.Add(interval) {
		var windowStart time.Time
		if cfg.Kind == KindCount {
			windowStart = at.Add(-interval)
		} else {
			windowStart = at.Add(-time.Duration(cfg.movingWindowHours()) * time.Hour)
		}
		// dedup per window: a recurring key counts once per bucket, not
		// once for the whole range
		window := dedupOccurrence(cfg, betweenWindow(base, timeColumn, windowStart, at))

		p := Point{
			Timestamp:    at.Format(timestampLayout),
			Label:        at.Format("15:04"),
			DisplayLabel: at.Format("15:04"),
			RowsInWindow: window.Len(),
		}
		if at.After(now) {
			p.DisplayLabel = nowLabel
		}
		p.Value = c.pointValue(cfg, window, at)
		points = append(points, p)
	}
	return points
}

// pointValue computes one sample for the window, nil when the window has no
// usable rows. Errors inside a window leave a gap instead of failing the
// whole series.
func (c *Calculator) pointValue(cfg *IndicatorConfig, window *dataset.Dataset, at time.Time) *float64 {
	if window.Len() == 0 {
		return nil
	}
	switch cfg.Kind {
	case KindCount:
		return ptr(float64(window.Len()))
	case KindTimeBetween:
		deltas := timeDeltas(window, cfg.StartColumn, cfg.EndColumn, cfg.measureUnit())
		if len(deltas) == 0 {
			return nil
		}
		return ptr(mean(deltas))
	case KindTimeSince:
		deltas := timeSince(window, cfg.StartColumn, cfg.measureUnit(), at)
		if len(deltas) == 0 {
			return nil
		}
		_, mx, _ := minMaxMedian(deltas)
		return mx
	case KindSum:
		nums := numericColumn(window, cfg.ValueColumn)
		if len(nums) == 0 {
			return nil
		}
		return ptr(sum(nums))
	case KindMean:
		nums := numericColumn(window, cfg.ValueColumn)
		if len(nums) == 0 {
			return nil
		}
		return ptr(mean(nums))
	case KindPercentTarget:
		if cfg.TargetValue == nil {
			return nil
		}
		deltas := timeDeltas(window, cfg.StartColumn, cfg.EndColumn, cfg.measureUnit())
		if len(deltas) == 0 {
			return nil
		}
		return percentWithin(deltas, *cfg.TargetValue, cfg.targetOperator())
	}
	return nil
}

// alignToInterval floors t onto the interval grid within the hour.
func alignToInterval(t time.Time, intervalMinutes int) time.Time {
	minute := (t.Minute() / intervalMinutes) * intervalMinutes
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}
