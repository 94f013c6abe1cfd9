package metric

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlourenco/dispatchboard/internal/dataset"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)

func testCalculator() *Calculator {
	return NewCalculator(WithClock(func() time.Time { return testNow }))
}

func TestComputeTimeBetween(t *testing.T) {
	ds := dataset.New([]string{"opened_at", "closed_at"}, [][]string{
		{"2026-03-10 10:00:00", "2026-03-10 10:10:00"},
		{"2026-03-10 11:00:00", "2026-03-10 11:30:00"},
		{"2026-03-10 12:00:00", "garbage"},
	})
	cfg := &IndicatorConfig{
		Name: "response time", Kind: KindTimeBetween,
		StartColumn: "opened_at", EndColumn: "closed_at", Unit: "minutes",
	}

	res := testCalculator().Compute(cfg, ds)
	require.Empty(t, res.Err)
	require.NotNil(t, res.Value)
	assert.Equal(t, 20.0, *res.Value)
	assert.Equal(t, 10.0, *res.Min)
	assert.Equal(t, 30.0, *res.Max)
	assert.Equal(t, 20.0, *res.Median)
	assert.Equal(t, "minutes", res.Unit)
}

func TestComputeTimeSinceUsesWorstCase(t *testing.T) {
	ds := dataset.New([]string{"last_contact"}, [][]string{
		{"2026-03-10 13:00:00"},
		{"2026-03-10 12:00:00"},
	})
	cfg := &IndicatorConfig{
		Name: "oldest waiting", Kind: KindTimeSince,
		StartColumn: "last_contact", Unit: "minutes",
	}

	res := testCalculator().Compute(cfg, ds)
	require.Empty(t, res.Err)
	require.NotNil(t, res.Value)
	assert.Equal(t, 120.0, *res.Value)
	assert.Equal(t, 60.0, *res.Min)
}

func TestComputeCountWithOccurrenceDedup(t *testing.T) {
	ds := dataset.New([]string{"occurrence", "status"}, [][]string{
		{"A1", "open"},
		{"A1", "open"},
		{"A2", "open"},
		{"A3", "closed"},
	})
	cfg := &IndicatorConfig{
		Name: "open incidents", Kind: KindCount,
		CountBy: CountByOccurrence, OccurrenceColumn: "occurrence",
		Conditions: []Condition{{Column: "status", Operator: "==", Value: "open"}},
	}

	res := testCalculator().Compute(cfg, ds)
	require.Empty(t, res.Err)
	require.NotNil(t, res.Value)
	assert.Equal(t, 2.0, *res.Value)
	assert.Equal(t, 2, res.FilteredRows)
	assert.Equal(t, 4, res.TotalRows)
}

func TestComputeSumAndMean(t *testing.T) {
	ds := dataset.New([]string{"victims"}, [][]string{
		{"2"}, {"3"}, {"not a number"}, {"5"},
	})

	sumRes := testCalculator().Compute(&IndicatorConfig{
		Name: "victims total", Kind: KindSum, ValueColumn: "victims",
	}, ds)
	require.Empty(t, sumRes.Err)
	assert.Equal(t, 10.0, *sumRes.Value)

	meanRes := testCalculator().Compute(&IndicatorConfig{
		Name: "victims mean", Kind: KindMean, ValueColumn: "victims",
	}, ds)
	require.Empty(t, meanRes.Err)
	assert.InDelta(t, 3.333, *meanRes.Value, 0.001)
}

func TestComputePercentTarget(t *testing.T) {
	rows := make([][]string, 0, 20)
	for i := 0; i < 20; i++ {
		end := "2026-03-10 10:10:00"
		if i >= 14 {
			end = "2026-03-10 10:40:00"
		}
		rows = append(rows, []string{"2026-03-10 10:00:00", end})
	}
	target := 15.0
	cfg := &IndicatorConfig{
		Name: "within target", Kind: KindPercentTarget,
		StartColumn: "start", EndColumn: "end", TargetValue: &target,
	}

	res := testCalculator().Compute(cfg, dataset.New([]string{"start", "end"}, rows))
	require.Empty(t, res.Err)
	require.NotNil(t, res.Value)
	assert.Equal(t, 70.0, *res.Value)
	assert.Equal(t, "%", res.Unit)
}

func TestComputeEmptyAfterFilters(t *testing.T) {
	ds := dataset.New([]string{"status"}, [][]string{{"open"}})
	cfg := &IndicatorConfig{
		Name: "none", Kind: KindCount,
		Conditions: []Condition{{Column: "status", Operator: "==", Value: "closed"}},
	}

	res := testCalculator().Compute(cfg, ds)
	assert.Equal(t, errNoRows, res.Err)
	assert.Nil(t, res.Value)
}

func TestComputeUnknownKind(t *testing.T) {
	ds := dataset.New([]string{"a"}, [][]string{{"1"}})
	res := testCalculator().Compute(&IndicatorConfig{Name: "bad", Kind: "mystery"}, ds)
	assert.Equal(t, errUnknownKind, res.Err)
}

func TestComputeMissingColumnsReported(t *testing.T) {
	ds := dataset.New([]string{"a"}, [][]string{{"1"}})
	res := testCalculator().Compute(&IndicatorConfig{Name: "bad", Kind: KindTimeBetween}, ds)
	assert.Equal(t, errMissingField, res.Err)
}

func TestComputeIsIdempotent(t *testing.T) {
	ds := dataset.New([]string{"opened_at", "closed_at"}, [][]string{
		{"2026-03-10 10:00:00", "2026-03-10 10:30:00"},
	})
	cfg := &IndicatorConfig{
		Name: "idem", Kind: KindTimeBetween,
		StartColumn: "opened_at", EndColumn: "closed_at",
	}

	c := testCalculator()
	first := c.Compute(cfg, ds)
	second := c.Compute(cfg, ds)
	assert.Equal(t, fmt.Sprintf("%+v", first), fmt.Sprintf("%+v", second))
	assert.Equal(t, ds.Len(), 1)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "1h 16min", FormatValue(76, "minutes"))
	assert.Equal(t, "45min", FormatValue(45.2, "minutes"))
	assert.Equal(t, "2h", FormatValue(120, "minutes"))
	assert.Equal(t, "30s", FormatValue(30, "seconds"))
	assert.Equal(t, "1h 30min", FormatValue(5400, "seconds"))
	assert.Equal(t, "70.0%", FormatValue(70, "%"))
	assert.Equal(t, "42", FormatValue(42, ""))
}
