package metric

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vlourenco/dispatchboard/internal/dataset"
)

// Condition is one link of a declarative predicate chain. Connector says how
// the condition combines with the accumulated mask of the conditions before
// it ("and", "or" or "if"); the first condition's connector only seeds the
// accumulator. Values is used by set-membership operators.
type Condition struct {
	Column    string   `yaml:"column" json:"column"`
	Operator  string   `yaml:"operator" json:"operator"`
	Value     string   `yaml:"value,omitempty" json:"value,omitempty"`
	Values    []string `yaml:"values,omitempty" json:"values,omitempty"`
	Connector string   `yaml:"connector,omitempty" json:"connector,omitempty"`
}

func (c Condition) memberValues() []string {
	if len(c.Values) > 0 {
		return c.Values
	}
	return []string{c.Value}
}

// Evaluate applies one condition to every row and returns the row mask.
// Unknown columns yield an all-false mask; unknown operators fall back to
// equality. Both are warnings, not errors.
func Evaluate(ds *dataset.Dataset, cond Condition) []bool {
	mask := make([]bool, ds.Len())
	if !ds.HasColumn(cond.Column) {
		log.Warn().Str("column", cond.Column).Msg("filter column not found")
		return mask
	}

	op := cond.Operator
	switch op {
	case "==", "!=", ">", "<", ">=", "<=", "in", "not in",
		"contains", "not contains", "startswith", "endswith",
		"is null", "is not null":
	default:
		log.Warn().Str("operator", op).Msg("unknown filter operator, using equality")
		op = "=="
	}

	want := strings.TrimSpace(cond.Value)
	wantNum, wantNumOK := dataset.ParseFloat(cond.Value)
	members := cond.memberValues()

	for i := 0; i < ds.Len(); i++ {
		raw, _ := ds.Cell(i, cond.Column)
		cell := strings.TrimSpace(raw)
		switch op {
		case "==":
			mask[i] = cell == want
		case "!=":
			mask[i] = cell != want
		case ">", "<", ">=", "<=":
			// non-numeric cells coerce to null and never satisfy
			f, ok := dataset.ParseFloat(cell)
			if !ok || !wantNumOK {
				continue
			}
			switch op {
			case ">":
				mask[i] = f > wantNum
			case "<":
				mask[i] = f < wantNum
			case ">=":
				mask[i] = f >= wantNum
			case "<=":
				mask[i] = f <= wantNum
			}
		case "in", "not in":
			found := false
			for _, m := range members {
				if cell == strings.TrimSpace(m) {
					found = true
					break
				}
			}
			mask[i] = found == (op == "in")
		case "contains", "not contains":
			if dataset.IsNull(cell) {
				mask[i] = false
				continue
			}
			has := strings.Contains(strings.ToLower(cell), strings.ToLower(want))
			mask[i] = has == (op == "contains")
		case "startswith":
			mask[i] = !dataset.IsNull(cell) && strings.HasPrefix(cell, want)
		case "endswith":
			mask[i] = !dataset.IsNull(cell) && strings.HasSuffix(cell, want)
		case "is null":
			mask[i] = dataset.IsNull(cell)
		case "is not null":
			mask[i] = !dataset.IsNull(cell)
		}
	}
	return mask
}

// Filter applies the optional trailing-window prefilter and then the
// condition chain, returning a new snapshot.
//
// When any condition carries an explicit connector the chain is evaluated as
// a left-to-right fold: the first mask seeds the accumulator and each later
// condition combines per its own connector. "if" gates: rows failing the
// gate pass regardless, rows matching it must also satisfy the accumulator.
// This is deliberately not an operator-precedence parse; reordering a mixed
// chain changes the result.
//
// Without explicit connectors, legacyConnector applies uniformly: "and"
// intersects all masks, "or" unions them, "if" uses the first condition as
// the gate over the AND of the rest.
func Filter(ds *dataset.Dataset, conds []Condition, trailingHours int, filterColumn, legacyConnector string, now time.Time) *dataset.Dataset {
	out := ds
	if trailingHours > 0 && filterColumn != "" {
		out = trailingWindow(out, filterColumn, trailingHours, now)
	}

	valid := make([]Condition, 0, len(conds))
	explicit := false
	for _, c := range conds {
		if c.Column == "" {
			continue
		}
		if c.Operator == "" {
			c.Operator = "=="
		}
		if c.Connector != "" {
			explicit = true
			c.Connector = strings.ToLower(c.Connector)
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return out
	}

	if explicit {
		acc := Evaluate(out, valid[0])
		for _, c := range valid[1:] {
			mask := Evaluate(out, c)
			conn := c.Connector
			if conn != "or" && conn != "if" {
				conn = "and"
			}
			for i := range acc {
				switch conn {
				case "or":
					acc[i] = acc[i] || mask[i]
				case "if":
					acc[i] = !mask[i] || (mask[i] && acc[i])
				default:
					acc[i] = acc[i] && mask[i]
				}
			}
		}
		return out.Select(acc)
	}

	switch strings.ToLower(legacyConnector) {
	case "or":
		acc := make([]bool, out.Len())
		for _, c := range valid {
			mask := Evaluate(out, c)
			for i := range acc {
				acc[i] = acc[i] || mask[i]
			}
		}
		return out.Select(acc)
	case "if":
		gate := Evaluate(out, valid[0])
		rest := make([]bool, out.Len())
		for i := range rest {
			rest[i] = true
		}
		for _, c := range valid[1:] {
			mask := Evaluate(out, c)
			for i := range rest {
				rest[i] = rest[i] && mask[i]
			}
		}
		final := make([]bool, out.Len())
		for i := range final {
			final[i] = !gate[i] || (gate[i] && rest[i])
		}
		return out.Select(final)
	default:
		for _, c := range valid {
			out = out.Select(Evaluate(out, c))
		}
		return out
	}
}

// trailingWindow keeps rows whose column timestamp is >= now - hours.
// A missing column skips the filter, matching the permissive upstream
// behavior for misconfigured indicators.
func trailingWindow(ds *dataset.Dataset, column string, hours int, now time.Time) *dataset.Dataset {
	if !ds.HasColumn(column) {
		log.Warn().Str("column", column).Msg("trailing filter column not found")
		return ds
	}
	limit := now.Add(-time.Duration(hours) * time.Hour)
	mask := make([]bool, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		raw, _ := ds.Cell(i, column)
		t, ok := dataset.ParseTime(raw)
		mask[i] = ok && !t.Before(limit)
	}
	return ds.Select(mask)
}

// betweenWindow keeps rows whose column timestamp is inside [from, to],
// boundaries inclusive. Rows with unparseable timestamps are dropped.
func betweenWindow(ds *dataset.Dataset, column string, from, to time.Time) *dataset.Dataset {
	if !ds.HasColumn(column) {
		return ds
	}
	mask := make([]bool, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		raw, _ := ds.Cell(i, column)
		t, ok := dataset.ParseTime(raw)
		mask[i] = ok && !t.Before(from) && !t.After(to)
	}
	return ds.Select(mask)
}
