package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoData indicates the snapshot file does not exist yet.
var ErrNoData = errors.New("dataset file not found")

// StatFunc reports the source mtime in unix nanoseconds, or 0 when the
// source is absent.
type StatFunc func(path string) int64

func fileMtime(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.ModTime().UnixNano()
}

// Cache memoizes the loaded snapshot by source mtime. A hit requires an
// identical mtime; Invalidate drops the memo unconditionally and must be
// called after every successful external refresh.
type Cache struct {
	path string
	stat StatFunc

	mu     sync.Mutex
	cached *Dataset
	mtime  int64
}

type CacheOption func(*Cache)

// WithStat injects the mtime source, for deterministic tests.
func WithStat(stat StatFunc) CacheOption {
	return func(c *Cache) { c.stat = stat }
}

func NewCache(path string, opts ...CacheOption) *Cache {
	c := &Cache{path: path, stat: fileMtime}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Version returns the current source mtime without loading.
func (c *Cache) Version() int64 { return c.stat(c.path) }

// Load returns the cached snapshot when the source mtime is unchanged,
// otherwise reads the file. The returned Dataset is read-only for callers.
func (c *Cache) Load() (*Dataset, error) {
	mtime := c.stat(c.path)
	if mtime == 0 {
		return nil, ErrNoData
	}

	c.mu.Lock()
	if c.cached != nil && c.mtime == mtime {
		ds := c.cached
		c.mu.Unlock()
		return ds, nil
	}
	c.mu.Unlock()

	ds, err := load(c.path)
	if err != nil {
		return nil, err
	}
	ds.Version = mtime

	c.mu.Lock()
	c.cached = ds
	c.mtime = mtime
	c.mu.Unlock()

	log.Info().Int("rows", ds.Len()).Str("path", c.path).Msg("dataset loaded")
	return ds, nil
}

// Invalidate clears the memo unconditionally.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mtime = 0
	c.mu.Unlock()
	log.Info().Msg("dataset cache invalidated")
}

func load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	if len(records) == 0 {
		return New(nil, nil), nil
	}
	return New(records[0], records[1:]), nil
}
