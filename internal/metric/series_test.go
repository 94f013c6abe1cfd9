package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlourenco/dispatchboard/internal/dataset"
)

func hourlyCountConfig() *IndicatorConfig {
	return &IndicatorConfig{
		Name: "calls per hour", Kind: KindCount,
		FilterColumn: "opened_at",
		ChartEnabled: true, ChartHours: 12, ChartIntervalMinutes: 60,
	}
}

func TestSeriesPointCountAndAlignment(t *testing.T) {
	// 14:23 aligns the range start to 02:00 and extends one interval past now
	now := time.Date(2026, 3, 10, 14, 23, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at"}, nil)

	points := c.Series(hourlyCountConfig(), 12, 60, ds)
	require.Len(t, points, 14)
	assert.Equal(t, "2026-03-10 02:00:00", points[0].Timestamp)
	assert.Equal(t, "02:00", points[0].Label)
	assert.Equal(t, "2026-03-10 15:00:00", points[len(points)-1].Timestamp)
}

func TestSeriesFutureBucketUsesCurrentLabel(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 23, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at"}, nil)

	points := c.Series(hourlyCountConfig(), 12, 60, ds)
	last := points[len(points)-1]
	assert.Equal(t, "15:00", last.Label)
	assert.Equal(t, "14:23", last.DisplayLabel)

	// points at or before now keep their own label
	assert.Equal(t, "14:00", points[len(points)-2].Label)
	assert.Equal(t, "14:00", points[len(points)-2].DisplayLabel)
}

func TestSeriesCountsPerInterval(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at"}, [][]string{
		{"2026-03-10 12:30:00"},
		{"2026-03-10 12:45:00"},
		{"2026-03-10 13:30:00"},
	})

	points := c.Series(hourlyCountConfig(), 2, 60, ds)
	byLabel := map[string]*float64{}
	for _, p := range points {
		byLabel[p.Label] = p.Value
	}
	require.NotNil(t, byLabel["13:00"])
	assert.Equal(t, 2.0, *byLabel["13:00"])
	require.NotNil(t, byLabel["14:00"])
	assert.Equal(t, 1.0, *byLabel["14:00"])
}

func TestSeriesMovingWindowForTimeBetween(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at", "closed_at"}, [][]string{
		{"2026-03-10 13:00:00", "2026-03-10 13:10:00"},
		{"2026-03-10 13:30:00", "2026-03-10 14:00:00"},
	})
	cfg := &IndicatorConfig{
		Name: "resp", Kind: KindTimeBetween,
		StartColumn: "opened_at", EndColumn: "closed_at",
		FilterColumn: "opened_at", TrailingHours: 2,
	}

	points := c.Series(cfg, 2, 60, ds)
	var at14 *Point
	for i := range points {
		if points[i].Label == "14:00" {
			at14 = &points[i]
		}
	}
	require.NotNil(t, at14)
	require.NotNil(t, at14.Value)
	// both rows fall in the 2h window ending 14:00
	assert.Equal(t, 20.0, *at14.Value)
	assert.Equal(t, 2, at14.RowsInWindow)
}

func TestSeriesEmptyWindowLeavesGap(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at"}, [][]string{{"2026-03-10 13:30:00"}})

	points := c.Series(hourlyCountConfig(), 2, 60, ds)
	for _, p := range points {
		switch p.Label {
		case "13:00":
			assert.Nil(t, p.Value)
			assert.Equal(t, 0, p.RowsInWindow)
		case "14:00":
			require.NotNil(t, p.Value)
			assert.Equal(t, 1.0, *p.Value)
		}
	}
}

func TestVariationComputesPercentAndTrend(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at"}, [][]string{
		{"2026-03-10 13:10:00"},
		{"2026-03-10 13:20:00"},
		{"2026-03-10 13:30:00"},
		{"2026-03-10 13:40:00"},
		{"2026-03-10 11:30:00"},
		{"2026-03-10 12:30:00"},
	})
	cfg := &IndicatorConfig{
		Name: "volume", Kind: KindCount,
		FilterColumn: "opened_at", TrailingHours: 2,
	}

	v := c.Variation(cfg, ds)
	require.NotNil(t, v.Percent)
	// current window 12:00-14:00 holds 5 rows, prior 11:00-13:00 holds 2
	assert.InDelta(t, 150.0, *v.Percent, 0.01)
	assert.Equal(t, TrendPositive, v.Trend)
}

func TestVariationInverseTrend(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at"}, [][]string{
		{"2026-03-10 13:10:00"},
		{"2026-03-10 13:20:00"},
		{"2026-03-10 11:30:00"},
	})
	cfg := &IndicatorConfig{
		Name: "volume", Kind: KindCount,
		FilterColumn: "opened_at", TrailingHours: 2, InverseTrend: true,
	}

	v := c.Variation(cfg, ds)
	require.NotNil(t, v.Percent)
	assert.Equal(t, TrendNegative, v.Trend)
}

func TestVariationNilWhenPriorWindowEmpty(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at", "closed_at"}, [][]string{
		{"2026-03-10 13:30:00", "2026-03-10 13:40:00"},
	})
	cfg := &IndicatorConfig{
		Name: "resp", Kind: KindTimeBetween,
		StartColumn: "opened_at", EndColumn: "closed_at",
		FilterColumn: "opened_at", TrailingHours: 2,
	}

	v := c.Variation(cfg, ds)
	assert.Nil(t, v.Percent)
	assert.Equal(t, TrendNeutral, v.Trend)
}

func TestSeriesDedupsOccurrencesPerWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at", "phone"}, [][]string{
		{"2026-03-10 12:30:00", "555"},
		{"2026-03-10 12:40:00", "555"},
		{"2026-03-10 13:30:00", "555"},
	})
	cfg := hourlyCountConfig()
	cfg.CountBy = CountByOccurrence
	cfg.OccurrenceColumn = "phone"

	points := c.Series(cfg, 2, 60, ds)
	byLabel := map[string]*float64{}
	for _, p := range points {
		byLabel[p.Label] = p.Value
	}
	// the same caller counts once per bucket, not once across the range
	require.NotNil(t, byLabel["13:00"])
	assert.Equal(t, 1.0, *byLabel["13:00"])
	require.NotNil(t, byLabel["14:00"])
	assert.Equal(t, 1.0, *byLabel["14:00"])
}

func TestSeriesMissingTimeColumnIsEmpty(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"created_at"}, [][]string{{"2026-03-10 13:30:00"}})

	points := c.Series(hourlyCountConfig(), 2, 60, ds)
	assert.Empty(t, points)
}

func TestSeriesPercentTargetWithoutTargetLeavesGaps(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at", "closed_at"}, [][]string{
		{"2026-03-10 13:00:00", "2026-03-10 13:10:00"},
		{"2026-03-10 13:30:00", "2026-03-10 14:00:00"},
	})
	cfg := &IndicatorConfig{
		Name: "within target", Kind: KindPercentTarget,
		StartColumn: "opened_at", EndColumn: "closed_at",
		FilterColumn: "opened_at",
	}

	points := c.Series(cfg, 2, 60, ds)
	require.NotEmpty(t, points)
	for _, p := range points {
		assert.Nil(t, p.Value)
	}
}

func TestVariationCountTreatsEmptyWindowAsZero(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at"}, [][]string{
		{"2026-03-10 11:30:00"},
	})
	cfg := &IndicatorConfig{
		Name: "volume", Kind: KindCount,
		FilterColumn: "opened_at", TrailingHours: 2,
	}

	v := c.Variation(cfg, ds)
	// current window 12:00-14:00 is empty, prior 11:00-13:00 holds one row:
	// the count collapsed to zero and that reads as a full drop
	require.NotNil(t, v.Current)
	assert.Equal(t, 0.0, *v.Current)
	require.NotNil(t, v.Percent)
	assert.InDelta(t, -100.0, *v.Percent, 0.01)
	assert.Equal(t, TrendNegative, v.Trend)
}

func TestVariationNeutralForTimeSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)
	c := NewCalculator(WithClock(func() time.Time { return now }))
	ds := dataset.New([]string{"opened_at"}, [][]string{
		{"2026-03-10 12:30:00"},
		{"2026-03-10 13:30:00"},
	})
	cfg := &IndicatorConfig{
		Name: "oldest open", Kind: KindTimeSince,
		StartColumn: "opened_at", FilterColumn: "opened_at",
	}

	v := c.Variation(cfg, ds)
	assert.Nil(t, v.Percent)
	assert.Nil(t, v.Current)
	assert.Nil(t, v.Prior)
	assert.Equal(t, TrendNeutral, v.Trend)
}
