package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vlourenco/dispatchboard/internal/dataset"
	"github.com/vlourenco/dispatchboard/internal/metric"
	"github.com/vlourenco/dispatchboard/internal/obs"
)

// DefaultTTL bounds how long a dashboard entry may be served even when the
// dataset has not changed.
const DefaultTTL = 5 * time.Minute

// Service computes dashboards and charts on demand, memoizing results per
// (dashboard, mode) and per indicator. An entry is served only while its
// dataset version matches the current snapshot and it is younger than the
// TTL; everything else recomputes with the snapshot loaded once per batch.
type Service struct {
	data  *dataset.Cache
	calc  *metric.Calculator
	defs  DefinitionSource
	store Store
	ttl   time.Duration
	clock func() time.Time
}

type ServiceOption func(*Service)

func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.ttl = ttl }
}

func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

func NewService(data *dataset.Cache, calc *metric.Calculator, defs DefinitionSource, store Store, opts ...ServiceOption) *Service {
	s := &Service{
		data:  data,
		calc:  calc,
		defs:  defs,
		store: store,
		ttl:   DefaultTTL,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dashboard returns the computed indicators for one dashboard in the given
// render mode, from cache when valid.
func (s *Service) Dashboard(ctx context.Context, dashboardID int, mode string) ([]IndicatorView, error) {
	if mode != ModeWidgets {
		mode = ModeList
	}
	version := s.data.Version()

	entry, err := s.store.GetDashboard(ctx, dashboardID, mode)
	if err != nil {
		log.Warn().Err(err).Int("dashboard", dashboardID).Msg("cache read failed, recomputing")
	}
	if entry != nil && entry.DatasetVersion == version && s.clock().Sub(entry.ComputedAt) < s.ttl {
		obs.CacheHits.WithLabelValues("dashboard").Inc()
		return entry.Items, nil
	}
	obs.CacheMisses.WithLabelValues("dashboard").Inc()

	cfg, err := s.defs.Dashboard(dashboardID)
	if err != nil {
		return nil, fmt.Errorf("load dashboard %d: %w", dashboardID, err)
	}

	ds, err := s.data.Load()
	if err != nil {
		return nil, err
	}

	start := s.clock()
	items := s.computeAll(cfg, mode, ds)
	obs.ComputeDuration.WithLabelValues("dashboard").Observe(s.clock().Sub(start).Seconds())

	put := &DashboardEntry{Items: items, DatasetVersion: version, ComputedAt: s.clock()}
	if err := s.store.PutDashboard(ctx, dashboardID, mode, put); err != nil {
		log.Warn().Err(err).Int("dashboard", dashboardID).Msg("cache write failed")
	}
	log.Info().Int("dashboard", dashboardID).Str("mode", mode).Int("indicators", len(items)).Msg("dashboard computed")
	return items, nil
}

// computeAll evaluates every active indicator of the dashboard in parallel.
// A panic or failure in one indicator yields an error placeholder for that
// slot instead of failing the dashboard.
func (s *Service) computeAll(cfg *DashboardConfig, mode string, ds *dataset.Dataset) []IndicatorView {
	active := make([]metric.IndicatorConfig, 0, len(cfg.Indicators))
	for _, ind := range cfg.Indicators {
		if ind.Active {
			active = append(active, ind)
		}
	}

	items := make([]IndicatorView, len(active))
	runParallel(len(active), func(i int) {
		ind := active[i]
		items[i] = IndicatorView{
			Result:               metric.Result{ID: ind.ID, Name: ind.Name, Kind: ind.Kind, Err: "computation failed"},
			Description:          ind.Description,
			ChartEnabled:         ind.ChartEnabled,
			ChartHours:           ind.ChartHours,
			ChartIntervalMinutes: ind.ChartIntervalMinutes,
			TrailingHours:        ind.TrailingHours,
			Order:                ind.Order,
			InverseTrend:         ind.InverseTrend,
			Trend:                metric.TrendNeutral,
		}

		items[i].Result = *s.calc.Compute(&ind, ds)
		v := s.calc.Variation(&ind, ds)
		items[i].VariationPercent = v.Percent
		items[i].Trend = v.Trend
	})

	sort.SliceStable(items, func(a, b int) bool { return items[a].Order < items[b].Order })

	if mode == ModeWidgets {
		applyWidgetLayout(items, cfg.Widgets)
	}
	return items
}

// applyWidgetLayout merges the configured grid placement into each view,
// defaulting missing widgets to a 1x1 cell, and reorders by widget order.
func applyWidgetLayout(items []IndicatorView, widgets []WidgetLayout) {
	byIndicator := make(map[int]WidgetLayout, len(widgets))
	for _, w := range widgets {
		byIndicator[w.IndicatorID] = w
	}
	for i := range items {
		w, ok := byIndicator[items[i].ID]
		if !ok {
			w = WidgetLayout{ColumnSpan: 1, RowSpan: 1, ChartHeight: 80, Order: items[i].Order}
		}
		if w.ColumnSpan <= 0 {
			w.ColumnSpan = 1
		}
		if w.RowSpan <= 0 {
			w.RowSpan = 1
		}
		if w.ChartHeight <= 0 {
			w.ChartHeight = 80
		}
		items[i].WidgetColumnSpan = w.ColumnSpan
		items[i].WidgetRowSpan = w.RowSpan
		items[i].WidgetChartHeight = w.ChartHeight
		items[i].WidgetOrder = w.Order
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].WidgetOrder < items[b].WidgetOrder })
}

// Chart returns the chart payload for one indicator, from cache while the
// dataset version is unchanged.
func (s *Service) Chart(ctx context.Context, indicatorID int) (*ChartPayload, error) {
	version := s.data.Version()

	entry, err := s.store.GetChart(ctx, indicatorID)
	if err != nil {
		log.Warn().Err(err).Int("indicator", indicatorID).Msg("chart cache read failed, recomputing")
	}
	if entry != nil && entry.DatasetVersion == version {
		obs.CacheHits.WithLabelValues("chart").Inc()
		return entry.Payload, nil
	}
	obs.CacheMisses.WithLabelValues("chart").Inc()

	ind, err := s.defs.Indicator(indicatorID)
	if err != nil {
		return nil, fmt.Errorf("load indicator %d: %w", indicatorID, err)
	}
	ds, err := s.data.Load()
	if err != nil {
		return nil, err
	}

	payload := s.buildChart(ind, ds)
	if err := s.store.PutChart(ctx, indicatorID, &ChartEntry{Payload: payload, DatasetVersion: version}); err != nil {
		log.Warn().Err(err).Int("indicator", indicatorID).Msg("chart cache write failed")
	}
	return payload, nil
}

// ChartsBatch computes charts for many indicators in one pass, loading the
// snapshot once and running misses in parallel. Failed items map to an empty
// payload so the response always covers every requested ID.
func (s *Service) ChartsBatch(ctx context.Context, indicatorIDs []int) (map[int]*ChartPayload, error) {
	version := s.data.Version()
	out := make(map[int]*ChartPayload, len(indicatorIDs))

	var misses []int
	for _, id := range indicatorIDs {
		entry, err := s.store.GetChart(ctx, id)
		if err == nil && entry != nil && entry.DatasetVersion == version {
			obs.CacheHits.WithLabelValues("chart").Inc()
			out[id] = entry.Payload
			continue
		}
		obs.CacheMisses.WithLabelValues("chart").Inc()
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	ds, err := s.data.Load()
	if err != nil {
		return nil, err
	}

	start := s.clock()
	payloads := make([]*ChartPayload, len(misses))
	runParallel(len(misses), func(i int) {
		ind, err := s.defs.Indicator(misses[i])
		if err != nil {
			log.Error().Err(err).Int("indicator", misses[i]).Msg("chart batch item failed")
			payloads[i] = &ChartPayload{}
			return
		}
		payloads[i] = s.buildChart(ind, ds)
	})
	obs.ComputeDuration.WithLabelValues("chart_batch").Observe(s.clock().Sub(start).Seconds())

	for i, id := range misses {
		out[id] = payloads[i]
		if err := s.store.PutChart(ctx, id, &ChartEntry{Payload: payloads[i], DatasetVersion: version}); err != nil {
			log.Warn().Err(err).Int("indicator", id).Msg("chart cache write failed")
		}
	}
	log.Info().Int("requested", len(indicatorIDs)).Int("computed", len(misses)).Msg("chart batch served")
	return out, nil
}

// buildChart renders the series plus the optional overlays.
func (s *Service) buildChart(ind *metric.IndicatorConfig, ds *dataset.Dataset) *ChartPayload {
	hours := ind.ChartHours
	if hours <= 0 {
		hours = 24
	}
	interval := ind.ChartIntervalMinutes
	if interval <= 0 {
		interval = 60
	}
	points := s.calc.Series(ind, hours, interval, ds)
	payload := &ChartPayload{Current: points}

	if ind.HistoricalEnabled && len(ind.HistoricalData) > 0 {
		payload.Historical = historicalOverlay(ind, points, s.clock())
		payload.HistoricalColor = ind.HistoricalColor
		if payload.HistoricalColor == "" {
			payload.HistoricalColor = "#6c757d"
		}
	}
	if ind.TargetLineEnabled && ind.TargetLineValue != nil {
		payload.Target = make([]float64, len(points))
		for i := range payload.Target {
			payload.Target[i] = *ind.TargetLineValue
		}
		payload.TargetColor = ind.TargetLineColor
		if payload.TargetColor == "" {
			payload.TargetColor = "#ffc107"
		}
		payload.TargetStyle = ind.TargetLineStyle
		if payload.TargetStyle == "" {
			payload.TargetStyle = "dashed"
		}
	}
	return payload
}

// historicalOverlay looks up the current month's hour-of-day reference for
// each point label; hours without a reference leave a nil gap.
func historicalOverlay(ind *metric.IndicatorConfig, points []metric.Point, now time.Time) []*float64 {
	month := fmt.Sprintf("%02d", int(now.Month()))
	byHour := ind.HistoricalData[month]
	out := make([]*float64, len(points))
	for i, p := range points {
		if len(p.Label) < 2 {
			continue
		}
		if v, ok := byHour[p.Label[:2]]; ok {
			val := v
			out[i] = &val
		}
	}
	return out
}

// Invalidate drops every cached entry, including the dataset memo. Call it
// after each successful dataset refresh.
func (s *Service) Invalidate(ctx context.Context) error {
	s.data.Invalidate()
	if err := s.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush result cache: %w", err)
	}
	log.Info().Msg("result cache invalidated")
	return nil
}
