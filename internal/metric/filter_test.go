package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlourenco/dispatchboard/internal/dataset"
)

func testSnapshot() *dataset.Dataset {
	return dataset.New(
		[]string{"status", "priority", "city", "phone"},
		[][]string{
			{"open", "1", "Springfield", "555"},
			{"closed", "2", "Shelbyville", "556"},
			{"open", "3", "Springfield", ""},
			{"pending", "10", "Capital City", "555"},
		},
	)
}

func TestEvaluateEquality(t *testing.T) {
	ds := testSnapshot()
	mask := Evaluate(ds, Condition{Column: "status", Operator: "==", Value: "open"})
	assert.Equal(t, []bool{true, false, true, false}, mask)

	mask = Evaluate(ds, Condition{Column: "status", Operator: "!=", Value: "open"})
	assert.Equal(t, []bool{false, true, false, true}, mask)
}

func TestEvaluateNumericComparison(t *testing.T) {
	ds := testSnapshot()
	mask := Evaluate(ds, Condition{Column: "priority", Operator: ">=", Value: "2"})
	assert.Equal(t, []bool{false, true, true, true}, mask)

	// numeric, not lexicographic: "10" > "3"
	mask = Evaluate(ds, Condition{Column: "priority", Operator: ">", Value: "3"})
	assert.Equal(t, []bool{false, false, false, true}, mask)
}

func TestEvaluateNumericSkipsUnparseable(t *testing.T) {
	ds := dataset.New([]string{"n"}, [][]string{{"5"}, {"abc"}, {""}})
	mask := Evaluate(ds, Condition{Column: "n", Operator: ">", Value: "1"})
	assert.Equal(t, []bool{true, false, false}, mask)
}

func TestEvaluateMembership(t *testing.T) {
	ds := testSnapshot()
	cond := Condition{Column: "status", Operator: "in", Values: []string{"open", "pending"}}
	assert.Equal(t, []bool{true, false, true, true}, Evaluate(ds, cond))

	cond.Operator = "not in"
	assert.Equal(t, []bool{false, true, false, false}, Evaluate(ds, cond))
}

func TestEvaluateContainsAndNull(t *testing.T) {
	ds := testSnapshot()
	mask := Evaluate(ds, Condition{Column: "city", Operator: "contains", Value: "spring"})
	assert.Equal(t, []bool{true, false, true, false}, mask)

	mask = Evaluate(ds, Condition{Column: "phone", Operator: "is null"})
	assert.Equal(t, []bool{false, false, true, false}, mask)

	mask = Evaluate(ds, Condition{Column: "phone", Operator: "is not null"})
	assert.Equal(t, []bool{true, true, false, true}, mask)
}

func TestEvaluateUnknownColumnAllFalse(t *testing.T) {
	ds := testSnapshot()
	mask := Evaluate(ds, Condition{Column: "nope", Operator: "==", Value: "x"})
	assert.Equal(t, []bool{false, false, false, false}, mask)
}

func TestEvaluateUnknownOperatorFallsBackToEquality(t *testing.T) {
	ds := testSnapshot()
	mask := Evaluate(ds, Condition{Column: "status", Operator: "~=", Value: "open"})
	assert.Equal(t, []bool{true, false, true, false}, mask)
}

func TestFilterExplicitConnectors(t *testing.T) {
	ds := testSnapshot()
	now := time.Now()

	// open AND Springfield
	out := Filter(ds, []Condition{
		{Column: "status", Operator: "==", Value: "open"},
		{Column: "city", Operator: "==", Value: "Springfield", Connector: "and"},
	}, 0, "", "", now)
	assert.Equal(t, 2, out.Len())

	// open OR pending
	out = Filter(ds, []Condition{
		{Column: "status", Operator: "==", Value: "open"},
		{Column: "status", Operator: "==", Value: "pending", Connector: "or"},
	}, 0, "", "", now)
	assert.Equal(t, 3, out.Len())
}

func TestFilterIfConnectorGates(t *testing.T) {
	ds := testSnapshot()
	now := time.Now()

	// open rows must be Springfield; non-open rows pass untouched
	out := Filter(ds, []Condition{
		{Column: "city", Operator: "==", Value: "Springfield"},
		{Column: "status", Operator: "==", Value: "open", Connector: "if"},
	}, 0, "", "", now)
	require.Equal(t, 4, out.Len())
}

func TestFilterLegacyConnectors(t *testing.T) {
	ds := testSnapshot()
	now := time.Now()
	conds := []Condition{
		{Column: "status", Operator: "==", Value: "open"},
		{Column: "status", Operator: "==", Value: "pending"},
	}

	assert.Equal(t, 0, Filter(ds, conds, 0, "", "and", now).Len())
	assert.Equal(t, 3, Filter(ds, conds, 0, "", "or", now).Len())

	// legacy if: gate = first condition over the AND of the rest
	gated := Filter(ds, []Condition{
		{Column: "status", Operator: "==", Value: "open"},
		{Column: "city", Operator: "==", Value: "Springfield"},
	}, 0, "", "if", now)
	// both open rows are Springfield, everything else passes
	assert.Equal(t, 4, gated.Len())
}

func TestFilterSkipsEmptyColumnConditions(t *testing.T) {
	ds := testSnapshot()
	out := Filter(ds, []Condition{{Column: "", Operator: "==", Value: "x"}}, 0, "", "", time.Now())
	assert.Equal(t, ds.Len(), out.Len())
}

func TestTrailingWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	ds := dataset.New([]string{"opened_at"}, [][]string{
		{"2026-03-10 11:30:00"},
		{"2026-03-10 10:00:00"},
		{"2026-03-09 12:00:00"},
		{"garbage"},
	})
	out := Filter(ds, nil, 2, "opened_at", "", now)
	assert.Equal(t, 2, out.Len())
}

func TestTrailingWindowMissingColumnIsNoop(t *testing.T) {
	ds := testSnapshot()
	out := Filter(ds, nil, 2, "opened_at", "", time.Now())
	assert.Equal(t, ds.Len(), out.Len())
}
