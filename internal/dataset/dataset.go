package dataset

import (
	"strconv"
	"strings"
	"time"
)

// Dataset is an immutable snapshot of named columns over rows. Cells are kept
// as raw strings; an empty (or whitespace-only) cell is the null sentinel.
// Snapshots are replaced wholesale on refresh and never mutated in place, so
// callers may share one instance across goroutines.
type Dataset struct {
	columns []string
	index   map[string]int
	rows    [][]string

	// Version identifies the source snapshot (mtime in unix nanoseconds).
	Version int64
}

func New(columns []string, rows [][]string) *Dataset {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return &Dataset{columns: columns, index: idx, rows: rows}
}

func (d *Dataset) Columns() []string { return d.columns }

func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Cell returns the raw cell value. ok is false when the column is unknown.
func (d *Dataset) Cell(row int, column string) (string, bool) {
	i, ok := d.index[column]
	if !ok || row < 0 || row >= len(d.rows) {
		return "", false
	}
	r := d.rows[row]
	if i >= len(r) {
		return "", true
	}
	return r[i], true
}

// Select returns a new Dataset with the rows where mask is true. Row slices
// are shared with the receiver; the new snapshot keeps the same Version.
func (d *Dataset) Select(mask []bool) *Dataset {
	rows := make([][]string, 0, len(d.rows))
	for i, r := range d.rows {
		if i < len(mask) && mask[i] {
			rows = append(rows, r)
		}
	}
	out := New(d.columns, rows)
	out.Version = d.Version
	return out
}

// DropDuplicates keeps the first row for each distinct value of column.
// Unknown columns return the receiver unchanged.
func (d *Dataset) DropDuplicates(column string) *Dataset {
	if !d.HasColumn(column) {
		return d
	}
	seen := make(map[string]struct{}, len(d.rows))
	rows := make([][]string, 0, len(d.rows))
	for i := range d.rows {
		v, _ := d.Cell(i, column)
		key := strings.TrimSpace(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, d.rows[i])
	}
	out := New(d.columns, rows)
	out.Version = d.Version
	return out
}

// IsNull reports whether a raw cell value is the null sentinel.
func IsNull(s string) bool { return strings.TrimSpace(s) == "" }

// ParseFloat coerces a cell to a number. Comma decimal separators are
// accepted because the upstream export uses them intermittently.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02",
	"02/01/2006",
}

// ParseTime coerces a cell to a timestamp. Day-first layouts are tried after
// ISO ones, matching the upstream export formats.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
