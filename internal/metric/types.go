package metric

import (
	"fmt"
	"time"
)

// Kind tags an indicator calculation. Each kind has its own required fields,
// checked once by Validate instead of ad hoc guards inside the computation.
type Kind string

const (
	// KindTimeBetween averages (EndColumn - StartColumn) per row.
	KindTimeBetween Kind = "time_between"
	// KindTimeSince reports the worst (now - StartColumn) per row.
	KindTimeSince Kind = "time_since"
	// KindCount counts rows after filter/dedup.
	KindCount Kind = "count"
	// KindSum totals the numeric ValueColumn.
	KindSum Kind = "sum"
	// KindMean averages the numeric ValueColumn.
	KindMean Kind = "mean"
	// KindPercentTarget reports the share of time deltas meeting the target.
	KindPercentTarget Kind = "percent_target"
)

// Count modes.
const (
	CountByRows       = "rows"
	CountByOccurrence = "occurrence"
)

// Trend labels.
const (
	TrendPositive = "positive"
	TrendNegative = "negative"
	TrendNeutral  = "neutral"
)

// IndicatorConfig is a metric definition supplied by the configuration
// store. Fields not relevant to the Kind are ignored.
type IndicatorConfig struct {
	ID          int    `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        Kind   `yaml:"kind" json:"kind"`

	StartColumn string `yaml:"start_column,omitempty" json:"start_column,omitempty"`
	EndColumn   string `yaml:"end_column,omitempty" json:"end_column,omitempty"`
	ValueColumn string `yaml:"value_column,omitempty" json:"value_column,omitempty"`

	// Unit is one of seconds, minutes, hours, days ("%" for percent kinds).
	Unit string `yaml:"unit,omitempty" json:"unit,omitempty"`

	Conditions      []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	LegacyConnector string      `yaml:"legacy_connector,omitempty" json:"legacy_connector,omitempty"`

	// TrailingHours keeps only rows whose FilterColumn timestamp falls in
	// the trailing window; it doubles as the moving-average window width for
	// chart points of non-count kinds.
	TrailingHours int    `yaml:"trailing_hours,omitempty" json:"trailing_hours,omitempty"`
	FilterColumn  string `yaml:"filter_column,omitempty" json:"filter_column,omitempty"`

	CountBy          string `yaml:"count_by,omitempty" json:"count_by,omitempty"`
	OccurrenceColumn string `yaml:"occurrence_column,omitempty" json:"occurrence_column,omitempty"`

	TargetValue    *float64 `yaml:"target_value,omitempty" json:"target_value,omitempty"`
	TargetOperator string   `yaml:"target_operator,omitempty" json:"target_operator,omitempty"`

	ChartEnabled         bool `yaml:"chart_enabled,omitempty" json:"chart_enabled,omitempty"`
	ChartHours           int  `yaml:"chart_hours,omitempty" json:"chart_hours,omitempty"`
	ChartIntervalMinutes int  `yaml:"chart_interval_minutes,omitempty" json:"chart_interval_minutes,omitempty"`

	// HistoricalData holds a reference line per calendar month: month key
	// ("01".."12") to hour-of-day key ("00".."23") to value.
	HistoricalEnabled bool                          `yaml:"historical_enabled,omitempty" json:"historical_enabled,omitempty"`
	HistoricalData    map[string]map[string]float64 `yaml:"historical_data,omitempty" json:"historical_data,omitempty"`
	HistoricalColor   string                        `yaml:"historical_color,omitempty" json:"historical_color,omitempty"`

	TargetLineEnabled bool     `yaml:"target_line_enabled,omitempty" json:"target_line_enabled,omitempty"`
	TargetLineValue   *float64 `yaml:"target_line_value,omitempty" json:"target_line_value,omitempty"`
	TargetLineColor   string   `yaml:"target_line_color,omitempty" json:"target_line_color,omitempty"`
	TargetLineStyle   string   `yaml:"target_line_style,omitempty" json:"target_line_style,omitempty"`

	// InverseTrend means lower is better (e.g. response time).
	InverseTrend bool `yaml:"inverse_trend,omitempty" json:"inverse_trend,omitempty"`

	Order  int  `yaml:"order,omitempty" json:"order,omitempty"`
	Active bool `yaml:"active" json:"active"`
}

// Validate checks the kind-specific required fields at construction time.
func (c *IndicatorConfig) Validate() error {
	switch c.Kind {
	case KindTimeBetween:
		if c.StartColumn == "" || c.EndColumn == "" {
			return fmt.Errorf("indicator %q: %s requires start_column and end_column", c.Name, c.Kind)
		}
	case KindTimeSince:
		if c.StartColumn == "" {
			return fmt.Errorf("indicator %q: %s requires start_column", c.Name, c.Kind)
		}
	case KindCount:
		// no required columns
	case KindSum, KindMean:
		if c.ValueColumn == "" {
			return fmt.Errorf("indicator %q: %s requires value_column", c.Name, c.Kind)
		}
	case KindPercentTarget:
		if c.StartColumn == "" || c.EndColumn == "" {
			return fmt.Errorf("indicator %q: %s requires start_column and end_column", c.Name, c.Kind)
		}
		if c.TargetValue == nil {
			return fmt.Errorf("indicator %q: %s requires target_value", c.Name, c.Kind)
		}
	default:
		return fmt.Errorf("indicator %q: unknown kind %q", c.Name, c.Kind)
	}
	return nil
}

// movingWindowHours is the chart moving-average window (default 2h).
func (c *IndicatorConfig) movingWindowHours() int {
	if c.TrailingHours > 0 {
		return c.TrailingHours
	}
	return 2
}

// measureUnit is the unit used for time-delta math; percent indicators
// carry "%" as display unit but measure in minutes unless told otherwise.
func (c *IndicatorConfig) measureUnit() string {
	if c.Unit == "" || c.Unit == "%" {
		return "minutes"
	}
	return c.Unit
}

func (c *IndicatorConfig) targetOperator() string {
	if c.TargetOperator == ">=" {
		return ">="
	}
	return "<="
}

// Result is one computed indicator value with its statistics. Err is set for
// configuration or empty-set problems; computations never panic outward.
type Result struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Kind         Kind     `json:"kind"`
	Value        *float64 `json:"value"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Median       *float64 `json:"median,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	TotalRows    int      `json:"total_rows"`
	FilteredRows int      `json:"filtered_rows"`
	Err          string   `json:"error,omitempty"`
}

// Variation compares two trailing windows of the same metric.
type Variation struct {
	Percent *float64 `json:"percent"`
	Trend   string   `json:"trend"`
	Current *float64 `json:"current,omitempty"`
	Prior   *float64 `json:"prior,omitempty"`
}

// Point is one chart sample.
type Point struct {
	Timestamp    string   `json:"timestamp"`
	Label        string   `json:"label"`
	DisplayLabel string   `json:"display_label"`
	Value        *float64 `json:"value"`
	RowsInWindow int      `json:"rows_in_window"`
}

// Calculator computes indicator values against a snapshot. The clock is
// injectable so window math is deterministic under test.
type Calculator struct {
	clock func() time.Time
}

type Option func(*Calculator)

func WithClock(clock func() time.Time) Option {
	return func(c *Calculator) { c.clock = clock }
}

func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func unitSeconds(unit string) float64 {
	switch unit {
	case "seconds":
		return 1
	case "hours":
		return 3600
	case "days":
		return 86400
	default:
		return 60
	}
}
