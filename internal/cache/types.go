// Package cache computes dashboard payloads once and serves them to every
// client until the dataset or the clock invalidates them.
package cache

import (
	"time"

	"github.com/vlourenco/dispatchboard/internal/metric"
)

// Render modes for a dashboard.
const (
	ModeList    = "list"
	ModeWidgets = "widgets"
)

// WidgetLayout positions one indicator on the widget grid.
type WidgetLayout struct {
	IndicatorID int `yaml:"indicator_id" json:"indicator_id"`
	ColumnSpan  int `yaml:"column_span,omitempty" json:"column_span"`
	RowSpan     int `yaml:"row_span,omitempty" json:"row_span"`
	ChartHeight int `yaml:"chart_height,omitempty" json:"chart_height"`
	Order       int `yaml:"order,omitempty" json:"order"`
}

// DashboardConfig groups indicators and their widget layout.
type DashboardConfig struct {
	ID         int                      `yaml:"id" json:"id"`
	Name       string                   `yaml:"name" json:"name"`
	Slug       string                   `yaml:"slug,omitempty" json:"slug,omitempty"`
	Indicators []metric.IndicatorConfig `yaml:"indicators" json:"indicators"`
	Widgets    []WidgetLayout           `yaml:"widgets,omitempty" json:"widgets,omitempty"`
}

// DefinitionSource resolves dashboards and indicators from configuration.
type DefinitionSource interface {
	Dashboard(id int) (*DashboardConfig, error)
	Indicator(id int) (*metric.IndicatorConfig, error)
}

// IndicatorView is one computed indicator enriched with the display fields
// the dashboard needs alongside the raw numbers.
type IndicatorView struct {
	metric.Result

	Description          string `json:"description,omitempty"`
	ChartEnabled         bool   `json:"chart_enabled"`
	ChartHours           int    `json:"chart_hours,omitempty"`
	ChartIntervalMinutes int    `json:"chart_interval_minutes,omitempty"`
	TrailingHours        int    `json:"trailing_hours,omitempty"`
	Order                int    `json:"order"`
	InverseTrend         bool   `json:"inverse_trend"`

	VariationPercent *float64 `json:"variation_percent"`
	Trend            string   `json:"trend"`

	// Widget layout, populated in widgets mode only.
	WidgetColumnSpan  int `json:"widget_column_span,omitempty"`
	WidgetRowSpan     int `json:"widget_row_span,omitempty"`
	WidgetChartHeight int `json:"widget_chart_height,omitempty"`
	WidgetOrder       int `json:"widget_order,omitempty"`
}

// ChartPayload is the chart response for one indicator. Historical and
// Target are optional overlay series aligned index-for-index with Current.
type ChartPayload struct {
	Current []metric.Point `json:"current"`

	Historical      []*float64 `json:"historical,omitempty"`
	HistoricalColor string     `json:"historical_color,omitempty"`

	Target      []float64 `json:"target,omitempty"`
	TargetColor string    `json:"target_color,omitempty"`
	TargetStyle string    `json:"target_style,omitempty"`
}

// DashboardEntry is a cached dashboard computation.
type DashboardEntry struct {
	Items          []IndicatorView `json:"items"`
	DatasetVersion int64           `json:"dataset_version"`
	ComputedAt     time.Time       `json:"computed_at"`
}

// ChartEntry is a cached chart computation. Charts are pinned to the dataset
// version only; a new snapshot invalidates them regardless of age.
type ChartEntry struct {
	Payload        *ChartPayload `json:"payload"`
	DatasetVersion int64         `json:"dataset_version"`
}
