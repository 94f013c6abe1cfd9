package alerting

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vlourenco/dispatchboard/internal/dataset"
	"github.com/vlourenco/dispatchboard/internal/metric"
)

// runGeneric evaluates a custom rule. With CalcKind set the rule reuses the
// indicator calculator and fires on the computed value; otherwise each entry
// in Checks runs against the filtered window.
func (e *Engine) runGeneric(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	if p.CalcKind != "" {
		return e.runGenericCalc(ctx, rule, ds)
	}
	if p.DataColumn == "" || !ds.HasColumn(p.DataColumn) {
		log.Warn().Str("column", p.DataColumn).Int("rule", rule.ID).Msg("data column not found")
		return 0, nil
	}
	if len(p.Checks) == 0 {
		return 0, nil
	}

	window := metric.Filter(ds, rule.Conditions, rule.periodHours(), rule.FilterColumn, "", e.clock())
	// the pre-dedup window keeps every row so occurrence lists stay complete
	full := window
	if p.CountBy == metric.CountByOccurrence && p.OccurrenceColumn != "" && window.HasColumn(p.OccurrenceColumn) {
		window = window.DropDuplicates(p.OccurrenceColumn)
	}
	if window.Len() == 0 {
		return 0, nil
	}

	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, check := range sortedKeys(p.Checks) {
		n, err := e.runCheck(ctx, rule, check, p.Checks[check], window, full, &keys)
		if err != nil {
			log.Error().Err(err).Int("rule", rule.ID).Str("check", check).Msg("check failed")
			continue
		}
		generated += n
	}
	return generated, nil
}

func (e *Engine) runCheck(ctx context.Context, rule *RuleConfig, check, limit string, window, full *dataset.Dataset, keys *dedupSet) (int, error) {
	p := rule.Params
	column := p.DataColumn
	limitNum, hasLimit := dataset.ParseFloat(limit)

	switch check {
	case CheckCountRepeated:
		return e.firePerValue(ctx, rule, check, window, full, func(v string, n int) (bool, string) {
			if n <= 1 {
				return false, ""
			}
			if hasLimit && float64(n) < limitNum {
				return false, ""
			}
			return true, fmt.Sprintf("Value %q appears %d time(s) in column %q", v, n, column)
		}, keys)

	case CheckContains:
		if limit == "" {
			return 0, nil
		}
		return e.firePerMatch(ctx, rule, check, window, full, func(cell string) bool {
			return !dataset.IsNull(cell) && strings.Contains(strings.ToLower(cell), strings.ToLower(limit))
		}, func(v string, n int) string {
			return fmt.Sprintf("Value %q contains %q in column %q (%d occurrence(s))", v, limit, column, n)
		}, keys)

	case CheckNotEqual:
		if limit == "" {
			return 0, nil
		}
		return e.firePerMatch(ctx, rule, check, window, full, func(cell string) bool {
			return strings.TrimSpace(cell) != limit
		}, func(v string, n int) string {
			return fmt.Sprintf("Value %q differs from %q in column %q (%d occurrence(s))", v, limit, column, n)
		}, keys)

	case CheckEqual:
		return e.runEqualCheck(ctx, rule, limit, window, keys)
	}

	// scalar checks: one alert per check, deduplicated by check name
	computed, count, fired, summary := evaluateScalarCheck(check, limit, limitNum, hasLimit, column, window)
	if !fired {
		return 0, nil
	}
	if keys.has(checkKey(check)) {
		return 0, nil
	}

	det := Detail{
		Check:       check,
		Column:      column,
		Count:       count,
		Limit:       limit,
		TotalRows:   window.Len(),
		Occurrences: occurrenceList(window, p.OccurrenceColumn),
	}
	if computed != nil {
		det.Computed = computed
	}
	if first, ok := window.Cell(0, column); ok {
		det.Identifier = NormalizeIdentifier(first)
	}
	msg := fmt.Sprintf("%s on column %q. %s.", checkLabel(check), column, summary)
	if err := e.fire(ctx, rule, OriginAutomatic, rule.Name, msg, det); err != nil {
		return 0, err
	}
	keys.keys[checkKey(check)] = true
	return 1, nil
}

// evaluateScalarCheck computes the single-valued checks. It reports the
// computed value, the row count involved, whether the alert fires, and a
// message fragment.
func evaluateScalarCheck(check, limit string, limitNum float64, hasLimit bool, column string, window *dataset.Dataset) (*float64, int, bool, string) {
	switch check {
	case CheckCount:
		n := window.Len()
		fired := !hasLimit || float64(n) >= limitNum
		return fptr(float64(n)), n, fired, fmt.Sprintf("Total of %d row(s)", n)

	case CheckCountUnique:
		distinct := map[string]bool{}
		for i := 0; i < window.Len(); i++ {
			v, _ := window.Cell(i, column)
			if !dataset.IsNull(v) {
				distinct[strings.TrimSpace(v)] = true
			}
		}
		n := len(distinct)
		fired := !hasLimit || float64(n) >= limitNum
		return fptr(float64(n)), n, fired, fmt.Sprintf("%d unique value(s)", n)

	case CheckNotContains:
		if limit == "" {
			return nil, 0, false, ""
		}
		for i := 0; i < window.Len(); i++ {
			v, _ := window.Cell(i, column)
			if !dataset.IsNull(v) && strings.Contains(strings.ToLower(v), strings.ToLower(limit)) {
				return nil, 0, false, ""
			}
		}
		return nil, window.Len(), true, fmt.Sprintf("Value %q not found", limit)

	case CheckGreaterThan, CheckLessThan, CheckGreaterEqual, CheckLessEqual:
		if !hasLimit {
			return nil, 0, false, ""
		}
		nums := columnNumbers(window, column)
		if len(nums) == 0 {
			return nil, 0, false, ""
		}
		mn, mx := minMax(nums)
		switch check {
		case CheckGreaterThan:
			return fptr(mx), len(nums), mx > limitNum, fmt.Sprintf("Highest value %g (limit %s)", mx, limit)
		case CheckGreaterEqual:
			return fptr(mx), len(nums), mx >= limitNum, fmt.Sprintf("Highest value %g (limit %s)", mx, limit)
		case CheckLessThan:
			return fptr(mn), len(nums), mn < limitNum, fmt.Sprintf("Lowest value %g (limit %s)", mn, limit)
		default:
			return fptr(mn), len(nums), mn <= limitNum, fmt.Sprintf("Lowest value %g (limit %s)", mn, limit)
		}

	case CheckMean, CheckSum, CheckMax, CheckMin:
		nums := columnNumbers(window, column)
		if len(nums) == 0 {
			return nil, 0, false, ""
		}
		mn, mx := minMax(nums)
		var value float64
		switch check {
		case CheckMean:
			value = meanOf(nums)
		case CheckSum:
			value = sumOf(nums)
		case CheckMax:
			value = mx
		default:
			value = mn
		}
		fired := true
		if hasLimit {
			if check == CheckMin {
				fired = value <= limitNum
			} else {
				fired = value >= limitNum
			}
		}
		return fptr(value), len(nums), fired, fmt.Sprintf("%s: %.2f (limit %s)", checkLabel(check), value, limit)

	case CheckEmpty:
		nulls := 0
		for i := 0; i < window.Len(); i++ {
			v, _ := window.Cell(i, column)
			if dataset.IsNull(v) {
				nulls++
			}
		}
		return fptr(float64(nulls)), nulls, nulls > 0, fmt.Sprintf("%d empty value(s)", nulls)

	case CheckNotEmpty:
		filled := 0
		for i := 0; i < window.Len(); i++ {
			v, _ := window.Cell(i, column)
			if !dataset.IsNull(v) {
				filled++
			}
		}
		fired := filled > 0
		if hasLimit {
			fired = float64(filled) >= limitNum
		}
		return fptr(float64(filled)), filled, fired, fmt.Sprintf("%d filled value(s)", filled)
	}
	return nil, 0, false, ""
}

// firePerValue fires one alert per distinct column value accepted by the
// predicate, which receives the value and its count.
func (e *Engine) firePerValue(ctx context.Context, rule *RuleConfig, check string, window, full *dataset.Dataset, accept func(v string, n int) (bool, string), keys *dedupSet) (int, error) {
	counts, order := valueCounts(window, rule.Params.DataColumn)
	generated := 0
	for _, v := range order {
		ok, msg := accept(v, counts[v])
		if !ok || keys.has(identifierKey(v)) {
			continue
		}
		det := Detail{
			Check:       check,
			Column:      rule.Params.DataColumn,
			Identifier:  NormalizeIdentifier(v),
			Count:       counts[v],
			Limit:       rule.Params.Checks[check],
			TotalRows:   window.Len(),
			Occurrences: occurrencesForValue(full, rule.Params.DataColumn, v, rule.Params.OccurrenceColumn),
		}
		if err := e.fire(ctx, rule, OriginAutomatic, rule.Name, msg, det); err != nil {
			return generated, err
		}
		keys.keys[identifierKey(v)] = true
		generated++
	}
	return generated, nil
}

// firePerMatch fires one alert per distinct value among the rows matched by
// the cell predicate.
func (e *Engine) firePerMatch(ctx context.Context, rule *RuleConfig, check string, window, full *dataset.Dataset, match func(cell string) bool, message func(v string, n int) string, keys *dedupSet) (int, error) {
	column := rule.Params.DataColumn
	counts := map[string]int{}
	var order []string
	for i := 0; i < window.Len(); i++ {
		cell, _ := window.Cell(i, column)
		if !match(cell) {
			continue
		}
		v := strings.TrimSpace(cell)
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	generated := 0
	for _, v := range order {
		if keys.has(identifierKey(v)) {
			continue
		}
		det := Detail{
			Check:       check,
			Column:      column,
			Identifier:  NormalizeIdentifier(v),
			Sought:      rule.Params.Checks[check],
			Count:       counts[v],
			TotalRows:   window.Len(),
			Occurrences: occurrencesForValue(full, column, v, rule.Params.OccurrenceColumn),
		}
		if err := e.fire(ctx, rule, OriginAutomatic, rule.Name, message(v, counts[v]), det); err != nil {
			return generated, err
		}
		keys.keys[identifierKey(v)] = true
		generated++
	}
	return generated, nil
}

// runEqualCheck fires one alert per occurrence number whose rows match the
// value; without an occurrence column it degrades to a single alert.
func (e *Engine) runEqualCheck(ctx context.Context, rule *RuleConfig, limit string, window *dataset.Dataset, keys *dedupSet) (int, error) {
	if limit == "" {
		return 0, nil
	}
	column := rule.Params.DataColumn
	occCol := rule.Params.OccurrenceColumn
	if occCol == "" {
		occCol = "occurrence"
	}

	matched := 0
	seenOcc := map[string]bool{}
	var occOrder []string
	for i := 0; i < window.Len(); i++ {
		cell, _ := window.Cell(i, column)
		if strings.TrimSpace(cell) != limit {
			continue
		}
		matched++
		if window.HasColumn(occCol) {
			occ, _ := window.Cell(i, occCol)
			occ = strings.TrimSpace(occ)
			if occ != "" && !seenOcc[occ] {
				seenOcc[occ] = true
				occOrder = append(occOrder, occ)
			}
		}
	}
	if matched == 0 {
		return 0, nil
	}

	if !window.HasColumn(occCol) {
		if keys.has(checkKey(CheckEqual)) {
			return 0, nil
		}
		det := Detail{
			Check: CheckEqual, Column: column, Sought: limit,
			Count: matched, TotalRows: window.Len(),
		}
		msg := fmt.Sprintf("Value %q found %d time(s) in column %q", limit, matched, column)
		if err := e.fire(ctx, rule, OriginAutomatic, rule.Name, msg, det); err != nil {
			return 0, err
		}
		keys.keys[checkKey(CheckEqual)] = true
		return 1, nil
	}

	generated := 0
	for _, occ := range occOrder {
		key := identifierKey(occ) + "|" + checkKey(CheckEqual)
		if keys.has(key) {
			continue
		}
		det := Detail{
			Check: CheckEqual, Column: column, Sought: limit,
			Identifier: NormalizeIdentifier(occ), Occurrences: occ,
			TotalRows: window.Len(),
		}
		msg := fmt.Sprintf("Value %q found in column %q (occurrence %s)", limit, column, occ)
		if err := e.fire(ctx, rule, OriginAutomatic, rule.Name, msg, det); err != nil {
			return generated, err
		}
		keys.keys[key] = true
		generated++
	}
	return generated, nil
}

// runGenericCalc computes an indicator value and fires when the configured
// trigger matches. time_since rules with a data column fan out to one alert
// per exceeding unit.
func (e *Engine) runGenericCalc(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset) (int, error) {
	p := rule.Params
	cfg := &metric.IndicatorConfig{
		Name:             rule.Name,
		Kind:             p.CalcKind,
		Conditions:       rule.Conditions,
		StartColumn:      p.StartColumn,
		EndColumn:        p.EndColumn,
		ValueColumn:      p.DataColumn,
		Unit:             p.Unit,
		TrailingHours:    rule.periodHours(),
		FilterColumn:     rule.FilterColumn,
		CountBy:          p.CountBy,
		OccurrenceColumn: p.OccurrenceColumn,
		TargetValue:      p.TargetValue,
		TargetOperator:   p.TargetOperator,
	}
	res := e.calc.Compute(cfg, ds)
	if res.Err != "" {
		log.Warn().Int("rule", rule.ID).Str("reason", res.Err).Msg("calc rule produced no value")
		return 0, nil
	}
	if res.Value == nil {
		return 0, nil
	}
	value := *res.Value
	if !calcTriggers(p, value) {
		return 0, nil
	}

	unit := res.Unit
	if unit == "" {
		unit = p.Unit
	}

	if p.CalcKind == metric.KindTimeSince && p.AlertValue != nil && p.DataColumn != "" && ds.HasColumn(p.DataColumn) {
		return e.firePerUnit(ctx, rule, ds, unit)
	}

	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}
	if keys.any {
		return 0, nil
	}

	formatted := metric.FormatValue(value, unitOrMinutes(unit))
	var msg string
	if p.CalcKind == metric.KindTimeSince {
		msg = fmt.Sprintf("%s was %s ago.", startColumnLabel(p), formatted)
	} else {
		msg = fmt.Sprintf("Computed value: %s.", formatted)
	}
	det := Detail{
		CalcKind:     string(p.CalcKind),
		Computed:     fptr(value),
		ComputedText: formatted,
		Unit:         unit,
	}
	if err := e.fire(ctx, rule, OriginAutomatic, rule.Name, msg, det); err != nil {
		return 0, err
	}
	return 1, nil
}

// firePerUnit fires one alert per unit (data-column value) whose rows exceed
// the time-since threshold, reporting the worst age per unit.
func (e *Engine) firePerUnit(ctx context.Context, rule *RuleConfig, ds *dataset.Dataset, unit string) (int, error) {
	p := rule.Params
	window := metric.Filter(ds, rule.Conditions, rule.periodHours(), rule.FilterColumn, "", e.clock())
	if !window.HasColumn(p.StartColumn) {
		return 0, nil
	}

	now := e.clock()
	div := unitDivisor(unit)
	worst := map[string]float64{}
	occs := map[string][]string{}
	var order []string
	for i := 0; i < window.Len(); i++ {
		raw, _ := window.Cell(i, p.StartColumn)
		t, ok := dataset.ParseTime(raw)
		if !ok {
			continue
		}
		age := now.Sub(t).Seconds() / div
		if age < *p.AlertValue {
			continue
		}
		u, _ := window.Cell(i, p.DataColumn)
		u = strings.TrimSpace(u)
		if dataset.IsNull(u) {
			continue
		}
		if _, seen := worst[u]; !seen {
			order = append(order, u)
		}
		if age > worst[u] {
			worst[u] = age
		}
		if occCol := p.OccurrenceColumn; occCol != "" && window.HasColumn(occCol) {
			if occ, _ := window.Cell(i, occCol); !dataset.IsNull(occ) {
				occs[u] = append(occs[u], strings.TrimSpace(occ))
			}
		}
	}
	if len(order) == 0 {
		return 0, nil
	}

	keys, err := e.activeKeys(ctx, rule.ID)
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, u := range order {
		if keys.has(identifierKey(u)) {
			continue
		}
		formatted := metric.FormatValue(worst[u], unitOrMinutes(unit))
		det := Detail{
			CalcKind:     string(metric.KindTimeSince),
			Identifier:   NormalizeIdentifier(u),
			Column:       p.DataColumn,
			Computed:     fptr(worst[u]),
			ComputedText: formatted,
			Unit:         unit,
			Occurrences:  strings.Join(dedupStrings(occs[u]), ", "),
		}
		msg := fmt.Sprintf("%s was %s ago. %s: %s", startColumnLabel(p), formatted, p.DataColumn, u)
		if err := e.fire(ctx, rule, OriginAutomatic, rule.Name, msg, det); err != nil {
			return generated, err
		}
		keys.keys[identifierKey(u)] = true
		generated++
	}
	return generated, nil
}

// calcTriggers decides whether the computed value fires. The dedicated
// operator takes precedence over the legacy check thresholds.
func calcTriggers(p RuleParams, value float64) bool {
	if p.AlertOperator != "" && p.AlertValue != nil {
		limit := *p.AlertValue
		switch p.AlertOperator {
		case ">=":
			return value >= limit
		case "<=":
			return value <= limit
		case ">":
			return value > limit
		case "<":
			return value < limit
		case "==":
			return math.Abs(value-limit) < 1e-6
		}
		return false
	}
	for check, raw := range p.Checks {
		limit, ok := dataset.ParseFloat(raw)
		if !ok {
			continue
		}
		switch check {
		case CheckGreaterThan:
			if value > limit {
				return true
			}
		case CheckLessThan:
			if value < limit {
				return true
			}
		case CheckGreaterEqual:
			if value >= limit {
				return true
			}
		case CheckLessEqual:
			if value <= limit {
				return true
			}
		case CheckEqual:
			if math.Abs(value-limit) < 1e-6 {
				return true
			}
		case CheckCount, CheckMean, CheckSum, CheckMax, CheckMin:
			if value >= limit {
				return true
			}
		}
	}
	return false
}

func checkLabel(check string) string {
	label := strings.ReplaceAll(check, "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func startColumnLabel(p RuleParams) string {
	if p.StartColumn != "" {
		return p.StartColumn
	}
	return "Timestamp"
}

func unitOrMinutes(unit string) string {
	if unit == "" {
		return "minutes"
	}
	return unit
}

func unitDivisor(unit string) float64 {
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

func occurrenceList(ds *dataset.Dataset, occCol string) string {
	if occCol == "" || !ds.HasColumn(occCol) {
		return ""
	}
	var out []string
	for i := 0; i < ds.Len(); i++ {
		v, _ := ds.Cell(i, occCol)
		if !dataset.IsNull(v) {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return strings.Join(out, ", ")
}

func occurrencesForValue(ds *dataset.Dataset, column, value, occCol string) string {
	if occCol == "" || !ds.HasColumn(occCol) || !ds.HasColumn(column) {
		return ""
	}
	var out []string
	for i := 0; i < ds.Len(); i++ {
		v, _ := ds.Cell(i, column)
		if strings.TrimSpace(v) != value {
			continue
		}
		if occ, _ := ds.Cell(i, occCol); !dataset.IsNull(occ) {
			out = append(out, strings.TrimSpace(occ))
		}
	}
	return strings.Join(dedupStrings(out), ", ")
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func columnNumbers(ds *dataset.Dataset, column string) []float64 {
	var out []float64
	for i := 0; i < ds.Len(); i++ {
		v, _ := ds.Cell(i, column)
		if f, ok := dataset.ParseFloat(v); ok {
			out = append(out, f)
		}
	}
	return out
}

func minMax(v []float64) (mn, mx float64) {
	mn, mx = v[0], v[0]
	for _, f := range v[1:] {
		if f < mn {
			mn = f
		}
		if f > mx {
			mx = f
		}
	}
	return mn, mx
}

func sumOf(v []float64) float64 {
	s := 0.0
	for _, f := range v {
		s += f
	}
	return s
}

func fptr(f float64) *float64 { return &f }
