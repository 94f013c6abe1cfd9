package dataset

import (
	"sort"
	"strings"
)

// Summary describes a snapshot for inspection endpoints and logs.
type Summary struct {
	Rows    int        `json:"rows"`
	Columns int        `json:"columns"`
	Names   []string   `json:"names"`
	Sample  [][]string `json:"sample"`
}

// Summarize returns row/column counts and up to ten sample rows.
func (d *Dataset) Summarize() Summary {
	n := len(d.rows)
	if n > 10 {
		n = 10
	}
	return Summary{
		Rows:    len(d.rows),
		Columns: len(d.columns),
		Names:   d.columns,
		Sample:  d.rows[:n],
	}
}

// ColumnStats carries per-column statistics. Numeric fields are nil when the
// column has no parseable numbers.
type ColumnStats struct {
	Name     string         `json:"name"`
	Total    int            `json:"total"`
	Nulls    int            `json:"nulls"`
	Distinct int            `json:"distinct"`
	Mean     *float64       `json:"mean,omitempty"`
	Median   *float64       `json:"median,omitempty"`
	Min      *float64       `json:"min,omitempty"`
	Max      *float64       `json:"max,omitempty"`
	Top      map[string]int `json:"top,omitempty"`
}

// Stats computes statistics for one column; nil for unknown columns.
func (d *Dataset) Stats(column string) *ColumnStats {
	if !d.HasColumn(column) {
		return nil
	}
	st := &ColumnStats{Name: column, Total: d.Len()}

	distinct := map[string]int{}
	var nums []float64
	for i := 0; i < d.Len(); i++ {
		v, _ := d.Cell(i, column)
		if IsNull(v) {
			st.Nulls++
			continue
		}
		distinct[strings.TrimSpace(v)]++
		if f, ok := ParseFloat(v); ok {
			nums = append(nums, f)
		}
	}
	st.Distinct = len(distinct)

	if len(nums) > 0 {
		sort.Float64s(nums)
		mean := 0.0
		for _, f := range nums {
			mean += f
		}
		mean /= float64(len(nums))
		median := nums[len(nums)/2]
		if len(nums)%2 == 0 {
			median = (nums[len(nums)/2-1] + nums[len(nums)/2]) / 2
		}
		mn, mx := nums[0], nums[len(nums)-1]
		st.Mean, st.Median, st.Min, st.Max = &mean, &median, &mn, &mx
	}

	// top 10 most frequent values
	type kv struct {
		k string
		n int
	}
	all := make([]kv, 0, len(distinct))
	for k, n := range distinct {
		all = append(all, kv{k, n})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].n != all[j].n {
			return all[i].n > all[j].n
		}
		return all[i].k < all[j].k
	})
	if len(all) > 10 {
		all = all[:10]
	}
	st.Top = make(map[string]int, len(all))
	for _, e := range all {
		st.Top[e.k] = e.n
	}
	return st
}
