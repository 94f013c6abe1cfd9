package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlourenco/dispatchboard/internal/dataset"
	"github.com/vlourenco/dispatchboard/internal/metric"
)

type stubDefs struct {
	dashboards map[int]*DashboardConfig
}

func (s *stubDefs) Dashboard(id int) (*DashboardConfig, error) {
	d, ok := s.dashboards[id]
	if !ok {
		return nil, fmt.Errorf("dashboard %d not found", id)
	}
	return d, nil
}

func (s *stubDefs) Indicator(id int) (*metric.IndicatorConfig, error) {
	for _, d := range s.dashboards {
		for i := range d.Indicators {
			if d.Indicators[i].ID == id {
				return &d.Indicators[i], nil
			}
		}
	}
	return nil, fmt.Errorf("indicator %d not found", id)
}

type fixture struct {
	svc     *Service
	version int64
	now     time.Time
	path    string
}

func newFixture(t *testing.T, cfg *DashboardConfig) *fixture {
	t.Helper()
	f := &fixture{
		version: 1,
		now:     time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local),
		path:    filepath.Join(t.TempDir(), "snapshot.csv"),
	}
	writeCSV(t, f.path, "status,opened_at\nopen,2026-03-10 13:30:00\nopen,2026-03-10 13:40:00\nclosed,2026-03-10 12:00:00\n")

	data := dataset.NewCache(f.path, dataset.WithStat(func(string) int64 { return f.version }))
	calc := metric.NewCalculator(metric.WithClock(func() time.Time { return f.now }))
	defs := &stubDefs{dashboards: map[int]*DashboardConfig{cfg.ID: cfg}}
	f.svc = NewService(data, calc, defs, NewMemoryStore(),
		WithServiceClock(func() time.Time { return f.now }))
	return f
}

func writeCSV(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func countDashboard() *DashboardConfig {
	return &DashboardConfig{
		ID: 1, Name: "ops",
		Indicators: []metric.IndicatorConfig{
			{
				ID: 10, Name: "open incidents", Kind: metric.KindCount, Active: true, Order: 2,
				Conditions: []metric.Condition{{Column: "status", Operator: "==", Value: "open"}},
			},
			{
				ID: 11, Name: "all rows", Kind: metric.KindCount, Active: true, Order: 1,
			},
			{
				ID: 12, Name: "disabled", Kind: metric.KindCount, Active: false,
			},
		},
	}
}

func TestDashboardComputesAndSorts(t *testing.T) {
	f := newFixture(t, countDashboard())

	items, err := f.svc.Dashboard(context.Background(), 1, ModeList)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// sorted by order, inactive indicator excluded
	assert.Equal(t, "all rows", items[0].Name)
	assert.Equal(t, "open incidents", items[1].Name)
	require.NotNil(t, items[1].Value)
	assert.Equal(t, 2.0, *items[1].Value)
}

func TestDashboardServesCacheUntilVersionChanges(t *testing.T) {
	f := newFixture(t, countDashboard())
	ctx := context.Background()

	first, err := f.svc.Dashboard(ctx, 1, ModeList)
	require.NoError(t, err)

	// the file changes on disk but the version does not: still cached
	writeCSV(t, f.path, "status,opened_at\nopen,2026-03-10 13:30:00\n")
	cached, err := f.svc.Dashboard(ctx, 1, ModeList)
	require.NoError(t, err)
	assert.Equal(t, *first[1].Value, *cached[1].Value)

	// version bump invalidates
	f.version = 2
	fresh, err := f.svc.Dashboard(ctx, 1, ModeList)
	require.NoError(t, err)
	require.NotNil(t, fresh[1].Value)
	assert.Equal(t, 1.0, *fresh[1].Value)
}

func TestDashboardTTLExpiry(t *testing.T) {
	f := newFixture(t, countDashboard())
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, 1, ModeList)
	require.NoError(t, err)

	writeCSV(t, f.path, "status,opened_at\nopen,2026-03-10 13:30:00\n")
	f.svc.data.Invalidate()

	// young entry: still served even though the snapshot memo is gone
	items, err := f.svc.Dashboard(ctx, 1, ModeList)
	require.NoError(t, err)
	assert.Equal(t, 2.0, *items[1].Value)

	// past the TTL the entry recomputes from the new file
	f.now = f.now.Add(DefaultTTL + time.Second)
	items, err = f.svc.Dashboard(ctx, 1, ModeList)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *items[1].Value)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	f := newFixture(t, countDashboard())
	ctx := context.Background()

	_, err := f.svc.Dashboard(ctx, 1, ModeList)
	require.NoError(t, err)

	writeCSV(t, f.path, "status,opened_at\nopen,2026-03-10 13:30:00\n")
	require.NoError(t, f.svc.Invalidate(ctx))

	items, err := f.svc.Dashboard(ctx, 1, ModeList)
	require.NoError(t, err)
	assert.Equal(t, 1.0, *items[1].Value)
}

func TestDashboardWidgetsLayout(t *testing.T) {
	cfg := countDashboard()
	cfg.Widgets = []WidgetLayout{
		{IndicatorID: 10, ColumnSpan: 2, RowSpan: 1, ChartHeight: 120, Order: 1},
		{IndicatorID: 11, ColumnSpan: 1, RowSpan: 1, ChartHeight: 80, Order: 2},
	}
	f := newFixture(t, cfg)

	items, err := f.svc.Dashboard(context.Background(), 1, ModeWidgets)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// widget order wins over indicator order
	assert.Equal(t, "open incidents", items[0].Name)
	assert.Equal(t, 2, items[0].WidgetColumnSpan)
	assert.Equal(t, 120, items[0].WidgetChartHeight)
}

func TestDashboardWidgetsDefaults(t *testing.T) {
	f := newFixture(t, countDashboard())

	items, err := f.svc.Dashboard(context.Background(), 1, ModeWidgets)
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, 1, it.WidgetColumnSpan)
		assert.Equal(t, 1, it.WidgetRowSpan)
		assert.Equal(t, 80, it.WidgetChartHeight)
	}
}

func TestDashboardErrorPlaceholderPerIndicator(t *testing.T) {
	cfg := countDashboard()
	cfg.Indicators = append(cfg.Indicators, metric.IndicatorConfig{
		ID: 13, Name: "broken", Kind: "mystery", Active: true, Order: 3,
	})
	f := newFixture(t, cfg)

	items, err := f.svc.Dashboard(context.Background(), 1, ModeList)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.NotEmpty(t, items[2].Err)
	assert.Empty(t, items[0].Err)
}

func TestChartsBatchCoversAllRequested(t *testing.T) {
	f := newFixture(t, countDashboard())

	out, err := f.svc.ChartsBatch(context.Background(), []int{10, 11, 999})
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.NotNil(t, out[10])
	assert.NotEmpty(t, out[10].Current)
	// unknown indicator maps to an empty payload, not a missing key
	require.NotNil(t, out[999])
	assert.Empty(t, out[999].Current)
}

func TestChartCachedByDatasetVersion(t *testing.T) {
	f := newFixture(t, countDashboard())
	ctx := context.Background()

	first, err := f.svc.Chart(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.svc.Chart(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestChartTargetOverlay(t *testing.T) {
	target := 5.0
	cfg := &DashboardConfig{
		ID: 2,
		Indicators: []metric.IndicatorConfig{{
			ID: 20, Name: "with target", Kind: metric.KindCount, Active: true,
			ChartHours: 2, ChartIntervalMinutes: 60,
			TargetLineEnabled: true, TargetLineValue: &target,
		}},
	}
	f := newFixture(t, cfg)

	payload, err := f.svc.Chart(context.Background(), 20)
	require.NoError(t, err)
	require.NotEmpty(t, payload.Target)
	assert.Len(t, payload.Target, len(payload.Current))
	assert.Equal(t, 5.0, payload.Target[0])
	assert.Equal(t, "#ffc107", payload.TargetColor)
	assert.Equal(t, "dashed", payload.TargetStyle)
}

func TestHistoricalOverlayByHour(t *testing.T) {
	points := []metric.Point{{Label: "13:00"}, {Label: "14:00"}, {Label: "15:00"}}
	ind := &metric.IndicatorConfig{
		HistoricalEnabled: true,
		HistoricalData:    map[string]map[string]float64{"03": {"13": 4, "15": 6}},
	}
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)

	overlay := historicalOverlay(ind, points, now)
	require.Len(t, overlay, 3)
	require.NotNil(t, overlay[0])
	assert.Equal(t, 4.0, *overlay[0])
	assert.Nil(t, overlay[1])
	require.NotNil(t, overlay[2])
	assert.Equal(t, 6.0, *overlay[2])
}
