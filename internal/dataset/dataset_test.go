package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Dataset {
	return New(
		[]string{"created_at", "phone", "minutes"},
		[][]string{
			{"2026-03-10 13:00:00", "555", "10"},
			{"2026-03-10 13:10:00", "555", "20"},
			{"2026-03-10 13:20:00", "777", ""},
			{"2026-03-10 13:30:00", "888", "30,5"},
		},
	)
}

func TestDatasetAccess(t *testing.T) {
	ds := sample()
	assert.Equal(t, 4, ds.Len())
	assert.True(t, ds.HasColumn("phone"))
	assert.False(t, ds.HasColumn("missing"))

	v, ok := ds.Cell(0, "phone")
	require.True(t, ok)
	assert.Equal(t, "555", v)

	_, ok = ds.Cell(0, "missing")
	assert.False(t, ok)
	_, ok = ds.Cell(99, "phone")
	assert.False(t, ok)
}

func TestSelectAndDropDuplicates(t *testing.T) {
	ds := sample()

	sel := ds.Select([]bool{true, false, true, false})
	assert.Equal(t, 2, sel.Len())
	v, _ := sel.Cell(1, "phone")
	assert.Equal(t, "777", v)

	dedup := ds.DropDuplicates("phone")
	assert.Equal(t, 3, dedup.Len())

	// unknown column leaves the snapshot alone
	assert.Equal(t, 4, ds.DropDuplicates("missing").Len())
}

func TestParseFloat(t *testing.T) {
	f, ok := ParseFloat("30,5")
	require.True(t, ok)
	assert.Equal(t, 30.5, f)

	f, ok = ParseFloat(" 42 ")
	require.True(t, ok)
	assert.Equal(t, 42.0, f)

	_, ok = ParseFloat("")
	assert.False(t, ok)
	_, ok = ParseFloat("abc")
	assert.False(t, ok)
}

func TestParseTimeLayouts(t *testing.T) {
	want := time.Date(2026, 3, 10, 13, 0, 0, 0, time.Local)
	for _, in := range []string{
		"2026-03-10 13:00:00",
		"2026-03-10T13:00:00",
		"10/03/2026 13:00:00",
		"10/03/2026 13:00",
	} {
		got, ok := ParseTime(in)
		require.True(t, ok, "input %q", in)
		assert.True(t, got.Equal(want), "input %q", in)
	}

	_, ok := ParseTime("not a date")
	assert.False(t, ok)
}

func TestSummarizeAndStats(t *testing.T) {
	ds := sample()

	sum := ds.Summarize()
	assert.Equal(t, 4, sum.Rows)
	assert.Equal(t, 3, sum.Columns)
	assert.Len(t, sum.Sample, 4)

	st := ds.Stats("minutes")
	require.NotNil(t, st)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, st.Nulls)
	assert.Equal(t, 3, st.Distinct)
	require.NotNil(t, st.Mean)
	assert.InDelta(t, (10+20+30.5)/3, *st.Mean, 0.001)
	require.NotNil(t, st.Min)
	assert.Equal(t, 10.0, *st.Min)
	require.NotNil(t, st.Max)
	assert.Equal(t, 30.5, *st.Max)

	phone := ds.Stats("phone")
	require.NotNil(t, phone)
	assert.Equal(t, 2, phone.Top["555"])

	assert.Nil(t, ds.Stats("missing"))
}

func TestCacheMemoizesByMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	version := int64(1)
	c := NewCache(path, WithStat(func(string) int64 { return version }))

	first, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, int64(1), first.Version)

	// same version: the memoized snapshot comes back even if the file grew
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n3,4\n"), 0o644))
	again, err := c.Load()
	require.NoError(t, err)
	assert.Same(t, first, again)

	version = 2
	fresh, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Len())
	assert.Equal(t, int64(2), fresh.Version)
}

func TestCacheInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n1\n"), 0o644))

	c := NewCache(path, WithStat(func(string) int64 { return 7 }))
	first, err := c.Load()
	require.NoError(t, err)

	c.Invalidate()
	second, err := c.Load()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Len(), second.Len())
}

func TestCacheMissingFile(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "absent.csv"))
	_, err := c.Load()
	assert.ErrorIs(t, err, ErrNoData)
}
