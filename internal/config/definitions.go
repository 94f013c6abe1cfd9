package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vlourenco/dispatchboard/internal/alerting"
	"github.com/vlourenco/dispatchboard/internal/cache"
	"github.com/vlourenco/dispatchboard/internal/metric"
)

// Definitions is the YAML definitions document: the dashboards with their
// indicators, and the alert rules.
type Definitions struct {
	Dashboards []cache.DashboardConfig `yaml:"dashboards"`
	Rules      []alerting.RuleConfig   `yaml:"rules"`
}

// DefinitionStore serves definitions from a YAML file, rereading it when the
// file changes so edits apply without a restart. It satisfies both the
// dashboard DefinitionSource and the alerting RuleSource.
type DefinitionStore struct {
	path string

	mu    sync.Mutex
	defs  *Definitions
	mtime int64
}

func NewDefinitionStore(path string) *DefinitionStore {
	return &DefinitionStore{path: path}
}

func (s *DefinitionStore) load() (*Definitions, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat definitions %s: %w", s.path, err)
	}
	mtime := fi.ModTime().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defs != nil && s.mtime == mtime {
		return s.defs, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read definitions %s: %w", s.path, err)
	}
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse definitions %s: %w", s.path, err)
	}
	s.defs = &defs
	s.mtime = mtime
	return s.defs, nil
}

func (s *DefinitionStore) Dashboard(id int) (*cache.DashboardConfig, error) {
	defs, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range defs.Dashboards {
		if defs.Dashboards[i].ID == id {
			return &defs.Dashboards[i], nil
		}
	}
	return nil, fmt.Errorf("dashboard %d not defined", id)
}

// Dashboards lists every defined dashboard.
func (s *DefinitionStore) Dashboards() ([]cache.DashboardConfig, error) {
	defs, err := s.load()
	if err != nil {
		return nil, err
	}
	return defs.Dashboards, nil
}

func (s *DefinitionStore) Indicator(id int) (*metric.IndicatorConfig, error) {
	defs, err := s.load()
	if err != nil {
		return nil, err
	}
	for di := range defs.Dashboards {
		for ii := range defs.Dashboards[di].Indicators {
			if defs.Dashboards[di].Indicators[ii].ID == id {
				return &defs.Dashboards[di].Indicators[ii], nil
			}
		}
	}
	return nil, fmt.Errorf("indicator %d not defined", id)
}

func (s *DefinitionStore) Rules() ([]alerting.RuleConfig, error) {
	defs, err := s.load()
	if err != nil {
		return nil, err
	}
	return defs.Rules, nil
}
