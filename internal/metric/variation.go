package metric

import (
	"math"
	"time"

	"github.com/vlourenco/dispatchboard/internal/dataset"
)

// Variation compares the metric over two equal-width trailing windows: the
// current one ending at now and the prior one ending one hour earlier. The
// percent is nil when the prior window is empty or zero, so fresh datasets
// render without a misleading trend arrow.
func (c *Calculator) Variation(cfg *IndicatorConfig, ds *dataset.Dataset) *Variation {
	// age-of-oldest metrics have no meaningful window-over-window delta
	if cfg.Kind == KindTimeSince {
		return &Variation{Trend: TrendNeutral}
	}

	now := c.clock()
	width := time.Duration(cfg.movingWindowHours()) * time.Hour
	priorEnd := now.Add(-time.Hour)

	// No window column means both windows see the whole set; the variation
	// then reads zero rather than inventing a trend.
	currentSet, priorSet := ds, ds
	if cfg.FilterColumn != "" && ds.HasColumn(cfg.FilterColumn) {
		currentSet = betweenWindow(ds, cfg.FilterColumn, now.Add(-width), now)
		priorSet = betweenWindow(ds, cfg.FilterColumn, priorEnd.Add(-width), priorEnd)
	}
	currentSet = dedupOccurrence(cfg, Filter(currentSet, cfg.Conditions, 0, "", cfg.LegacyConnector, now))
	priorSet = dedupOccurrence(cfg, Filter(priorSet, cfg.Conditions, 0, "", cfg.LegacyConnector, now))

	current := c.pointValue(cfg, currentSet, now)
	prior := c.pointValue(cfg, priorSet, priorEnd)

	// an empty window is a real zero for counts, so a collapse to nothing
	// still reads as a drop
	if cfg.Kind == KindCount {
		if current == nil {
			current = ptr(0)
		}
		if prior == nil {
			prior = ptr(0)
		}
	}

	v := &Variation{Trend: TrendNeutral, Current: current, Prior: prior}
	if current == nil || prior == nil || *prior == 0 {
		return v
	}

	pct := round1(100 * (*current - *prior) / math.Abs(*prior))
	v.Percent = &pct

	// InverseTrend flips the reading for metrics where lower is better.
	switch {
	case *current == *prior:
		v.Trend = TrendNeutral
	case (*current > *prior) != cfg.InverseTrend:
		v.Trend = TrendPositive
	default:
		v.Trend = TrendNegative
	}
	return v
}
