package alerting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vlourenco/dispatchboard/internal/dataset"
	"github.com/vlourenco/dispatchboard/internal/metric"
	"github.com/vlourenco/dispatchboard/internal/obs"
)

// DefaultExpiry is the fallback age after which an active alert resolves
// even when its rule cannot clear it.
const DefaultExpiry = 45 * time.Minute

// RuleSource resolves the configured alert rules.
type RuleSource interface {
	Rules() ([]RuleConfig, error)
}

// Engine runs the rule set against the dataset. One bad rule never stops the
// sweep; its error is logged and the next rule runs.
type Engine struct {
	data     *dataset.Cache
	calc     *metric.Calculator
	rules    RuleSource
	store    Store
	forecast ForecastProvider
	clock    func() time.Time
	expiry   time.Duration
	newID    func() string
}

type EngineOption func(*Engine)

func WithForecast(p ForecastProvider) EngineOption {
	return func(e *Engine) { e.forecast = p }
}

func WithExpiry(d time.Duration) EngineOption {
	return func(e *Engine) { e.expiry = d }
}

func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

func NewEngine(data *dataset.Cache, calc *metric.Calculator, rules RuleSource, store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		data:   data,
		calc:   calc,
		rules:  rules,
		store:  store,
		clock:  time.Now,
		expiry: DefaultExpiry,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate runs every active rule and then the resolution pass. It returns
// the number of alerts created.
func (e *Engine) Generate(ctx context.Context) (int, error) {
	rules, err := e.rules.Rules()
	if err != nil {
		return 0, fmt.Errorf("load alert rules: %w", err)
	}

	ds, err := e.data.Load()
	if err != nil {
		return 0, err
	}
	if ds.Len() == 0 {
		log.Warn().Msg("empty dataset, skipping alert generation")
		return 0, nil
	}

	generated := 0
	for _, rule := range rules {
		if !rule.Active || strings.TrimSpace(rule.Type) == "" {
			continue
		}
		n, err := e.runRule(ctx, &rule, ds)
		if err != nil {
			log.Error().Err(err).Int("rule", rule.ID).Str("type", rule.Type).Msg("rule evaluation failed")
			continue
		}
		generated += n
	}

	if _, err := e.resolveCleared(ctx, rules, ds); err != nil {
		log.Error().Err(err).Msg("resolution pass failed")
	}
	return generated, nil
}

func (e *Engine) runRule(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset) (int, error) {
	switch rule.Type {
	case RuleRepeatedContact:
		return e.runRepeatedContact(ctx, rule, ds)
	case RuleMunicipalityResponse:
		return e.runMunicipalityResponse(ctx, rule, ds)
	case RuleExternalCondition:
		return e.runExternalCondition(ctx, rule)
	case RuleInstitutionSupport:
		return e.runInstitutionSupport(ctx, rule, ds)
	case RuleVolumeThreshold:
		return e.runVolumeThreshold(ctx, rule, ds)
	case RuleResponseThreshold:
		return e.runResponseThreshold(ctx, rule, ds)
	default:
		return e.runGeneric(ctx, rule, ds)
	}
}

// periodWindow keeps the rows inside the rule's verification window.
func (e *Engine) periodWindow(rule *RuleConfig, ds *dataset.Dataset) *dataset.Dataset {
	return metric.Filter(ds, nil, rule.periodHours(), rule.FilterColumn, "", e.clock())
}

// fire persists one alert.
func (e *Engine) fire(ctx context.Context, rule *RuleConfig, origin, title, message string, det Detail) error {
	now := e.clock()
	priority := rule.Priority
	if priority == 0 {
		priority = 3
	}
	a := &Alert{
		ID:         e.newID(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Icon:       rule.icon(),
		Color:      rule.color(),
		Title:      title,
		Message:    message,
		Detail:     det,
		Priority:   priority,
		Origin:     origin,
		Status:     StatusActive,
		OccurredAt: now,
		CreatedAt:  now,
	}
	if err := e.store.Insert(ctx, a); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	obs.AlertsGenerated.Inc()
	log.Info().Int("rule", rule.ID).Str("title", title).Msg("alert generated")
	return nil
}

// dedupSet holds the dedup keys of a rule's active alerts: normalized
// identifier, check name, and the identifier+check pair.
type dedupSet struct {
	keys map[string]bool
	any  bool
}

func (d dedupSet) has(key string) bool { return d.keys[key] }

func (e *Engine) activeKeys(ctx context.Context, ruleID int) (dedupSet, error) {
	active, err := e.store.ActiveByRule(ctx, ruleID)
	if err != nil {
		return dedupSet{}, fmt.Errorf("load active alerts: %w", err)
	}
	set := dedupSet{keys: make(map[string]bool, len(active)), any: len(active) > 0}
	for _, a := range active {
		if id := NormalizeIdentifier(a.Detail.Identifier); id != "" {
			set.keys["id:"+id] = true
			if a.Detail.Check != "" {
				set.keys["id:"+id+"|check:"+a.Detail.Check] = true
			}
		}
		if a.Detail.Check != "" {
			set.keys["check:"+a.Detail.Check] = true
		}
	}
	return set, nil
}

func identifierKey(v string) string { return "id:" + NormalizeIdentifier(v) }
func checkKey(name string) string   { return "check:" + name }

func (e *Engine) runRepeatedContact(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset) (int, error) {
	column := rule.Params.PhoneColumn
	if column == "" {
		column = "phone"
	}
	minCount := rule.Params.MinCount
	if minCount <= 0 {
		minCount = 3
	}
	if !ds.HasColumn(column) {
		log.Warn().Str("column", column).Int("rule", rule.ID).Msg("phone column not found")
		return 0, nil
	}

	window := e.periodWindow(rule, ds)
	counts, order := valueCounts(window, column)
	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, phone := range order {
		n := counts[phone]
		if n < minCount || keys.has(identifierKey(phone)) {
			continue
		}
		det := Detail{
			Identifier:  NormalizeIdentifier(phone),
			Column:      column,
			Count:       n,
			PeriodHours: rule.periodHours(),
		}
		title := fmt.Sprintf("Repeated calls - %s", phone)
		msg := fmt.Sprintf("Number %s placed %d call(s) in the last %d hour(s).", phone, n, rule.periodHours())
		if err := e.fire(ctx, rule, OriginAutomatic, title, msg, det); err != nil {
			return generated, err
		}
		generated++
	}
	return generated, nil
}

func (e *Engine) runMunicipalityResponse(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	if len(p.Municipalities) == 0 || p.MunicipalityColumn == "" || !ds.HasColumn(p.MunicipalityColumn) {
		return 0, nil
	}
	maxMinutes := p.MaxMinutes
	if maxMinutes <= 0 {
		maxMinutes = 15
	}
	window := e.periodWindow(rule, ds)
	if !window.HasColumn(p.StartColumn) || !window.HasColumn(p.EndColumn) {
		return 0, nil
	}

	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, municipality := range p.Municipalities {
		if keys.has(identifierKey(municipality)) {
			continue
		}
		var exceeding []float64
		for i := 0; i < window.Len(); i++ {
			m, _ := window.Cell(i, p.MunicipalityColumn)
			if strings.TrimSpace(m) != municipality {
				continue
			}
			if d, ok := rowDeltaMinutes(window, i, p.StartColumn, p.EndColumn); ok && d > maxMinutes {
				exceeding = append(exceeding, d)
			}
		}
		if len(exceeding) == 0 {
			continue
		}
		avg := meanOf(exceeding)
		det := Detail{
			Identifier: municipality,
			Count:      len(exceeding),
			Computed:   &avg,
			Limit:      fmt.Sprintf("%g", maxMinutes),
			Unit:       "minutes",
		}
		title := fmt.Sprintf("Slow response - %s", municipality)
		msg := fmt.Sprintf("%d incident(s) in %s with response time above %g minutes (average %.1f min).",
			len(exceeding), municipality, maxMinutes, avg)
		if err := e.fire(ctx, rule, OriginAutomatic, title, msg, det); err != nil {
			return generated, err
		}
		generated++
	}
	return generated, nil
}

func (e *Engine) runExternalCondition(ctx context.Context, rule *RuleConfig) (int, error) {
	p := rule.Params
	if e.forecast == nil || p.City == "" || len(p.ForecastConditions) == 0 {
		return 0, nil
	}
	days, err := e.forecast.Forecast(ctx, p.City)
	if err != nil {
		return 0, fmt.Errorf("forecast for %s: %w", p.City, err)
	}
	if len(days) > 3 {
		days = days[:3]
	}

	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, day := range days {
		text := strings.ToLower(day.Text)
		for _, condition := range p.ForecastConditions {
			if !strings.Contains(text, strings.ToLower(condition)) {
				continue
			}
			if keys.has(identifierKey(condition)) {
				break
			}
			det := Detail{
				Identifier:   condition,
				City:         p.City,
				Condition:    condition,
				ForecastDate: day.Date,
			}
			title := fmt.Sprintf("Weather alert - %s", condition)
			msg := fmt.Sprintf("Forecast of %s for %s in %s.", condition, day.Date, p.City)
			if err := e.fire(ctx, rule, OriginExternal, title, msg, det); err != nil {
				return generated, err
			}
			keys.keys[identifierKey(condition)] = true
			generated++
			break
		}
	}
	return generated, nil
}

func (e *Engine) runInstitutionSupport(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	if len(p.Institutions) == 0 || p.SupportColumn == "" || !ds.HasColumn(p.SupportColumn) {
		return 0, nil
	}
	window := e.periodWindow(rule, ds)
	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, institution := range p.Institutions {
		if keys.has(identifierKey(institution)) {
			continue
		}
		needle := strings.ToLower(institution)
		count := 0
		for i := 0; i < window.Len(); i++ {
			v, _ := window.Cell(i, p.SupportColumn)
			if !dataset.IsNull(v) && strings.Contains(strings.ToLower(v), needle) {
				count++
			}
		}
		if count == 0 {
			continue
		}
		det := Detail{
			Identifier:  institution,
			Column:      p.SupportColumn,
			Count:       count,
			PeriodHours: rule.periodHours(),
		}
		title := fmt.Sprintf("Support request - %s", institution)
		msg := fmt.Sprintf("%d support request(s) from %s in the last %d hour(s).",
			count, institution, rule.periodHours())
		if err := e.fire(ctx, rule, OriginAutomatic, title, msg, det); err != nil {
			return generated, err
		}
		generated++
	}
	return generated, nil
}

func (e *Engine) runVolumeThreshold(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset) (int, error) {
	minCount := rule.Params.MinCount
	if minCount <= 0 {
		minCount = 50
	}
	window := e.periodWindow(rule, ds)
	if window.Len() < minCount {
		return 0, nil
	}

	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}
	if keys.any {
		return 0, nil
	}

	det := Detail{
		Count:       window.Len(),
		Limit:       fmt.Sprintf("%d", minCount),
		PeriodHours: rule.periodHours(),
	}
	msg := fmt.Sprintf("%d incident(s) recorded in the last %d hour(s).", window.Len(), rule.periodHours())
	if err := e.fire(ctx, rule, OriginAutomatic, "High incident volume", msg, det); err != nil {
		return 0, err
	}
	return 1, nil
}

func (e *Engine) runResponseThreshold(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	maxMinutes := p.MaxMinutes
	if maxMinutes <= 0 {
		maxMinutes = 20
	}
	window := e.periodWindow(rule, ds)
	if window.Len() == 0 || !window.HasColumn(p.StartColumn) || !window.HasColumn(p.EndColumn) {
		return 0, nil
	}

	var deltas []float64
	for i := 0; i < window.Len(); i++ {
		if d, ok := rowDeltaMinutes(window, i, p.StartColumn, p.EndColumn); ok {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return 0, nil
	}
	avg := meanOf(deltas)
	if avg <= maxMinutes {
		return 0, nil
	}

	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}
	if keys.any {
		return 0, nil
	}

	det := Detail{
		Computed:    &avg,
		Limit:       fmt.Sprintf("%g", maxMinutes),
		Count:       window.Len(),
		Unit:        "minutes",
		PeriodHours: rule.periodHours(),
	}
	msg := fmt.Sprintf("Average response time of %.1f minutes in the last %d hour(s) (%d incidents).",
		avg, rule.periodHours(), window.Len())
	if err := e.fire(ctx, rule, OriginAutomatic, "High average response time", msg, det); err != nil {
		return 0, err
	}
	return 1, nil
}

// valueCounts tallies non-null values of a column, preserving first-seen
// order so alert generation is deterministic.
func valueCounts(ds *dataset.Dataset, column string) (map[string]int, []string) {
	counts := make(map[string]int)
	var order []string
	for i := 0; i < ds.Len(); i++ {
		v, _ := ds.Cell(i, column)
		v = strings.TrimSpace(v)
		if dataset.IsNull(v) {
			continue
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	return counts, order
}

func rowDeltaMinutes(ds *dataset.Dataset, row int, startCol, endCol string) (float64, bool) {
	rawStart, _ := ds.Cell(row, startCol)
	rawEnd, _ := ds.Cell(row, endCol)
	start, ok1 := dataset.ParseTime(rawStart)
	end, ok2 := dataset.ParseTime(rawEnd)
	if !ok1 || !ok2 {
		return 0, false
	}
	return end.Sub(start).Minutes(), true
}

func meanOf(v []float64) float64 {
	s := 0.0
	for _, f := range v {
		s += f
	}
	return s / float64(len(v))
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
