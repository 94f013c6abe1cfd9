// Package alerting evaluates configured rules against the dataset and keeps
// the alert lifecycle: generation, deduplication, auto-resolution and
// time-based expiry.
package alerting

import (
	"time"

	"github.com/vlourenco/dispatchboard/internal/metric"
)

// Predefined rule types. Anything else runs through the generic evaluator.
const (
	RuleRepeatedContact      = "repeated_contact"
	RuleMunicipalityResponse = "municipality_response_time"
	RuleExternalCondition    = "external_condition"
	RuleInstitutionSupport   = "institution_support"
	RuleVolumeThreshold      = "volume_threshold"
	RuleResponseThreshold    = "response_time_threshold"
)

// Generic check names, keyed in RuleParams.Checks.
const (
	CheckCount         = "count"
	CheckCountUnique   = "count_unique"
	CheckCountRepeated = "count_repeated"
	CheckContains      = "contains"
	CheckNotContains   = "not_contains"
	CheckEqual         = "equal"
	CheckNotEqual      = "not_equal"
	CheckGreaterThan   = "greater_than"
	CheckLessThan      = "less_than"
	CheckGreaterEqual  = "greater_equal"
	CheckLessEqual     = "less_equal"
	CheckMean          = "mean"
	CheckSum           = "sum"
	CheckMax           = "max"
	CheckMin           = "min"
	CheckEmpty         = "empty"
	CheckNotEmpty      = "not_empty"
)

// Alert lifecycle states. Active alerts may move to resolved or archived;
// both are terminal.
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
	StatusArchived = "archived"
)

// Alert origins.
const (
	OriginAutomatic = "automatic"
	OriginExternal  = "external"
	OriginManual    = "manual"
)

// SystemResolver marks alerts closed by the engine rather than a person.
const SystemResolver = "system"

// RuleParams carries the type-specific knobs of a rule. Only the fields
// relevant to the rule type are read.
type RuleParams struct {
	// repeated_contact
	MinCount    int    `yaml:"min_count,omitempty" json:"min_count,omitempty"`
	PhoneColumn string `yaml:"phone_column,omitempty" json:"phone_column,omitempty"`

	// municipality_response_time / response_time_threshold
	Municipalities     []string `yaml:"municipalities,omitempty" json:"municipalities,omitempty"`
	MunicipalityColumn string   `yaml:"municipality_column,omitempty" json:"municipality_column,omitempty"`
	MaxMinutes         float64  `yaml:"max_minutes,omitempty" json:"max_minutes,omitempty"`
	StartColumn        string   `yaml:"start_column,omitempty" json:"start_column,omitempty"`
	EndColumn          string   `yaml:"end_column,omitempty" json:"end_column,omitempty"`

	// external_condition
	City               string   `yaml:"city,omitempty" json:"city,omitempty"`
	ForecastConditions []string `yaml:"forecast_conditions,omitempty" json:"forecast_conditions,omitempty"`

	// institution_support
	Institutions  []string `yaml:"institutions,omitempty" json:"institutions,omitempty"`
	SupportColumn string   `yaml:"support_column,omitempty" json:"support_column,omitempty"`

	// generic
	DataColumn       string            `yaml:"data_column,omitempty" json:"data_column,omitempty"`
	CountBy          string            `yaml:"count_by,omitempty" json:"count_by,omitempty"`
	OccurrenceColumn string            `yaml:"occurrence_column,omitempty" json:"occurrence_column,omitempty"`
	Checks           map[string]string `yaml:"checks,omitempty" json:"checks,omitempty"`

	// generic, indicator-calculation mode
	CalcKind       metric.Kind `yaml:"calc_kind,omitempty" json:"calc_kind,omitempty"`
	Unit           string      `yaml:"unit,omitempty" json:"unit,omitempty"`
	AlertOperator  string      `yaml:"alert_operator,omitempty" json:"alert_operator,omitempty"`
	AlertValue     *float64    `yaml:"alert_value,omitempty" json:"alert_value,omitempty"`
	TargetValue    *float64    `yaml:"target_value,omitempty" json:"target_value,omitempty"`
	TargetOperator string      `yaml:"target_operator,omitempty" json:"target_operator,omitempty"`
}

// RuleConfig is one alert rule.
type RuleConfig struct {
	ID          int    `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string `yaml:"type" json:"type"`

	PeriodHours  int                `yaml:"period_hours,omitempty" json:"period_hours,omitempty"`
	FilterColumn string             `yaml:"filter_column,omitempty" json:"filter_column,omitempty"`
	Conditions   []metric.Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	Params RuleParams `yaml:"params,omitempty" json:"params,omitempty"`

	Priority int    `yaml:"priority,omitempty" json:"priority,omitempty"`
	Icon     string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Color    string `yaml:"color,omitempty" json:"color,omitempty"`
	Order    int    `yaml:"order,omitempty" json:"order,omitempty"`

	Active      bool `yaml:"active" json:"active"`
	AutoResolve bool `yaml:"auto_resolve,omitempty" json:"auto_resolve,omitempty"`
}

func (r *RuleConfig) periodHours() int {
	if r.PeriodHours > 0 {
		return r.PeriodHours
	}
	return 1
}

func (r *RuleConfig) icon() string {
	if r.Icon != "" {
		return r.Icon
	}
	return "exclamation-triangle"
}

func (r *RuleConfig) color() string {
	if r.Color != "" {
		return r.Color
	}
	return "#dc3545"
}

// Detail is the structured payload attached to an alert; dedup compares
// Identifier (and Check, when set) instead of scanning serialized text.
type Detail struct {
	Identifier   string   `json:"identifier,omitempty"`
	Check        string   `json:"check,omitempty"`
	Column       string   `json:"column,omitempty"`
	Count        int      `json:"count,omitempty"`
	Computed     *float64 `json:"computed,omitempty"`
	ComputedText string   `json:"computed_text,omitempty"`
	Limit        string   `json:"limit,omitempty"`
	Sought       string   `json:"sought,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	CalcKind     string   `json:"calc_kind,omitempty"`
	Occurrences  string   `json:"occurrences,omitempty"`
	PeriodHours  int      `json:"period_hours,omitempty"`
	TotalRows    int      `json:"total_rows,omitempty"`
	City         string   `json:"city,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	ForecastDate string   `json:"forecast_date,omitempty"`
}

// Alert is one fired rule instance.
type Alert struct {
	ID       string `json:"id"`
	RuleID   int    `json:"rule_id,omitempty"`
	RuleName string `json:"rule_name,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Color    string `json:"color,omitempty"`

	Title   string `json:"title"`
	Message string `json:"message"`
	Detail  Detail `json:"detail"`

	Priority int    `json:"priority"`
	Origin   string `json:"origin"`
	Status   string `json:"status"`

	DashboardID int `json:"dashboard_id,omitempty"`

	OccurredAt time.Time  `json:"occurred_at"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreatedBy  string `json:"created_by,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}
