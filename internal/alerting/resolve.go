package alerting

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vlourenco/dispatchboard/internal/dataset"
	"github.com/vlourenco/dispatchboard/internal/metric"
	"github.com/vlourenco/dispatchboard/internal/obs"
)

// resolveCleared closes active alerts whose condition no longer holds. Only
// rules flagged auto_resolve participate; everything else waits for an
// operator or the expiry sweep.
func (e *Engine) resolveCleared(ctx context.Context, rules []RuleConfig, ds *dataset.Dataset) (int, error) {
	resolved := 0
	for _, rule := range rules {
		if !rule.AutoResolve {
			continue
		}
		active, err := e.store.ActiveByRule(ctx, rule.ID)
		if err != nil {
			return resolved, err
		}
		if len(active) == 0 {
			continue
		}
		n, err := e.resolveRule(ctx, &rule, active, ds)
		if err != nil {
			log.Error().Err(err).Int("rule", rule.ID).Msg("auto-resolution failed")
			continue
		}
		resolved += n
	}
	return resolved, nil
}

func (e *Engine) resolveRule(ctx context.Context, rule *RuleConfig, active []*Alert, ds *dataset.Dataset) (int, error) {
	switch rule.Type {
	case RuleRepeatedContact:
		return e.resolveRepeatedContact(ctx, rule, active, ds)
	case RuleMunicipalityResponse:
		return e.resolveMunicipalityResponse(ctx, rule, active, ds)
	case RuleResponseThreshold:
		return e.resolveResponseThreshold(ctx, rule, active, ds)
	case RuleVolumeThreshold:
		return e.resolveVolumeThreshold(ctx, rule, active, ds)
	case RuleInstitutionSupport:
		return e.resolveInstitutionSupport(ctx, rule, active, ds)
	case RuleExternalCondition:
		// forecast conditions clear on their own timeline; expiry handles them
		return 0, nil
	default:
		return e.resolveGeneric(ctx, rule, active, ds)
	}
}

// resolve transitions one alert to resolved on behalf of the engine.
func (e *Engine) resolve(ctx context.Context, a *Alert, reason string) error {
	if err := e.store.Transition(ctx, a.ID, StatusResolved, SystemResolver, e.clock()); err != nil {
		return err
	}
	obs.AlertsResolved.Inc()
	log.Info().Str("alert", a.ID).Int("rule", a.RuleID).Str("reason", reason).Msg("alert auto-resolved")
	return nil
}

func (e *Engine) resolveRepeatedContact(ctx context.Context, rule *RuleConfig, active []*Alert, ds *dataset.Dataset) (int, error) {
	column := rule.Params.PhoneColumn
	if column == "" {
		column = "phone"
	}
	minCount := rule.Params.MinCount
	if minCount <= 0 {
		minCount = 3
	}
	window := e.periodWindow(rule, ds)
	counts, _ := valueCounts(window, column)

	resolved := 0
	for _, a := range active {
		phone := a.Detail.Identifier
		if phone == "" || counts[phone] >= minCount {
			continue
		}
		if err := e.resolve(ctx, a, "call volume dropped below threshold"); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// resolveMunicipalityResponse re-checks each municipality over the whole
// dataset rather than the generation window, so a quiet hour does not flap
// alerts for a municipality that is still slow overall.
func (e *Engine) resolveMunicipalityResponse(ctx context.Context, rule *RuleConfig, active []*Alert, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	maxMinutes := p.MaxMinutes
	if maxMinutes <= 0 {
		maxMinutes = 15
	}
	if p.MunicipalityColumn == "" || !ds.HasColumn(p.MunicipalityColumn) {
		return 0, nil
	}

	resolved := 0
	for _, a := range active {
		municipality := a.Detail.Identifier
		if municipality == "" {
			continue
		}
		var deltas []float64
		found := false
		for i := 0; i < ds.Len(); i++ {
			m, _ := ds.Cell(i, p.MunicipalityColumn)
			if strings.TrimSpace(m) != municipality {
				continue
			}
			found = true
			if d, ok := rowDeltaMinutes(ds, i, p.StartColumn, p.EndColumn); ok {
				deltas = append(deltas, d)
			}
		}
		clear := !found
		if found && len(deltas) > 0 {
			avg := meanOf(deltas)
			clear = math.IsNaN(avg) || avg <= maxMinutes
		}
		if !clear {
			continue
		}
		if err := e.resolve(ctx, a, "response time back under limit"); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (e *Engine) resolveResponseThreshold(ctx context.Context, rule *RuleConfig, active []*Alert, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	maxMinutes := p.MaxMinutes
	if maxMinutes <= 0 {
		maxMinutes = 20
	}
	window := e.periodWindow(rule, ds)

	var deltas []float64
	if window.HasColumn(p.StartColumn) && window.HasColumn(p.EndColumn) {
		for i := 0; i < window.Len(); i++ {
			if d, ok := rowDeltaMinutes(window, i, p.StartColumn, p.EndColumn); ok {
				deltas = append(deltas, d)
			}
		}
	}
	if len(deltas) > 0 && meanOf(deltas) > maxMinutes {
		return 0, nil
	}

	resolved := 0
	for _, a := range active {
		if err := e.resolve(ctx, a, "average response time back under limit"); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (e *Engine) resolveVolumeThreshold(ctx context.Context, rule *RuleConfig, active []*Alert, ds *dataset.Dataset) (int, error) {
	minCount := rule.Params.MinCount
	if minCount <= 0 {
		minCount = 50
	}
	if e.periodWindow(rule, ds).Len() >= minCount {
		return 0, nil
	}
	resolved := 0
	for _, a := range active {
		if err := e.resolve(ctx, a, "incident volume back under limit"); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (e *Engine) resolveInstitutionSupport(ctx context.Context, rule *RuleConfig, active []*Alert, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	if p.SupportColumn == "" || !ds.HasColumn(p.SupportColumn) {
		return 0, nil
	}
	window := e.periodWindow(rule, ds)

	resolved := 0
	for _, a := range active {
		institution := a.Detail.Identifier
		if institution == "" {
			continue
		}
		needle := strings.ToLower(institution)
		still := false
		for i := 0; i < window.Len(); i++ {
			v, _ := window.Cell(i, p.SupportColumn)
			if !dataset.IsNull(v) && strings.Contains(strings.ToLower(v), needle) {
				still = true
				break
			}
		}
		if still {
			continue
		}
		if err := e.resolve(ctx, a, "no pending support request"); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (e *Engine) resolveGeneric(ctx context.Context, rule *RuleConfig, active []*Alert, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	if p.CalcKind == metric.KindTimeSince {
		return e.resolveTimeSince(ctx, rule, active, ds)
	}
	if p.CalcKind != "" || p.DataColumn == "" || !ds.HasColumn(p.DataColumn) {
		return 0, nil
	}

	window := metric.Filter(ds, rule.Conditions, rule.periodHours(), rule.FilterColumn, "", e.clock())
	if p.CountBy == metric.CountByOccurrence && p.OccurrenceColumn != "" && window.HasColumn(p.OccurrenceColumn) {
		window = window.DropDuplicates(p.OccurrenceColumn)
	}
	counts, _ := valueCounts(window, p.DataColumn)

	resolved := 0
	for _, a := range active {
		clear := false
		switch a.Detail.Check {
		case CheckCountRepeated, CheckContains, CheckEqual, CheckNotEqual:
			id := a.Detail.Identifier
			if id == "" {
				continue
			}
			limit := 1.0
			if l, ok := dataset.ParseFloat(a.Detail.Limit); ok {
				limit = l
			}
			clear = float64(counts[id]) < limit
		case CheckCountUnique:
			limit, ok := dataset.ParseFloat(a.Detail.Limit)
			if !ok {
				continue
			}
			clear = float64(len(counts)) < limit
		case CheckCount:
			limit, ok := dataset.ParseFloat(a.Detail.Limit)
			if !ok {
				continue
			}
			clear = float64(window.Len()) < limit
		default:
			continue
		}
		if !clear {
			continue
		}
		if err := e.resolve(ctx, a, "check condition cleared"); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// resolveTimeSince recomputes the set of units still exceeding the age
// threshold and closes alerts for units that dropped out. An alert with no
// unit identifier clears when nothing exceeds anymore.
func (e *Engine) resolveTimeSince(ctx context.Context, rule *RuleConfig, active []*Alert, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	exceeding := map[string]bool{}
	anyExceeds := false
	if p.AlertValue != nil && ds.HasColumn(p.StartColumn) {
		window := metric.Filter(ds, rule.Conditions, rule.periodHours(), rule.FilterColumn, "", e.clock())
		now := e.clock()
		div := unitDivisor(p.Unit)
		for i := 0; i < window.Len(); i++ {
			raw, _ := window.Cell(i, p.StartColumn)
			t, ok := dataset.ParseTime(raw)
			if !ok {
				continue
			}
			if now.Sub(t).Seconds()/div < *p.AlertValue {
				continue
			}
			anyExceeds = true
			if p.DataColumn != "" && window.HasColumn(p.DataColumn) {
				if u, _ := window.Cell(i, p.DataColumn); !dataset.IsNull(u) {
					exceeding[NormalizeIdentifier(strings.TrimSpace(u))] = true
				}
			}
		}
	}

	resolved := 0
	for _, a := range active {
		id := NormalizeIdentifier(a.Detail.Identifier)
		if id != "" && exceeding[id] {
			continue
		}
		if id == "" && anyExceeds {
			continue
		}
		if err := e.resolve(ctx, a, "age back under threshold"); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// ExpireStale resolves active alerts older than the engine expiry. It is the
// safety net for rules that cannot auto-resolve; alerts under an auto_resolve
// rule are left to resolveCleared.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	active, err := e.store.List(ctx, ListFilter{Status: StatusActive})
	if err != nil {
		return 0, err
	}
	autoResolve := make(map[int]bool)
	if e.rules != nil {
		rules, err := e.rules.Rules()
		if err != nil {
			return 0, fmt.Errorf("load alert rules: %w", err)
		}
		for _, r := range rules {
			autoResolve[r.ID] = r.AutoResolve
		}
	}
	now := e.clock()
	expired := 0
	for _, a := range active {
		if autoResolve[a.RuleID] {
			continue
		}
		if now.Sub(a.CreatedAt) < e.expiry {
			continue
		}
		if err := e.store.Transition(ctx, a.ID, StatusResolved, SystemResolver, now); err != nil {
			return expired, err
		}
		obs.AlertsExpired.Inc()
		log.Info().Str("alert", a.ID).Int("rule", a.RuleID).Msg("alert expired")
		expired++
	}
	return expired, nil
}
