package cache

import (
	"context"
	"fmt"
	"sync"
)

// Store holds computed entries. Implementations must be safe for concurrent
// use; a miss is (nil, nil).
type Store interface {
	GetDashboard(ctx context.Context, dashboardID int, mode string) (*DashboardEntry, error)
	PutDashboard(ctx context.Context, dashboardID int, mode string, entry *DashboardEntry) error
	GetChart(ctx context.Context, indicatorID int) (*ChartEntry, error)
	PutChart(ctx context.Context, indicatorID int, entry *ChartEntry) error
	Flush(ctx context.Context) error
}

type memoryStore struct {
	mu         sync.Mutex
	dashboards map[string]*DashboardEntry
	charts     map[int]*ChartEntry
}

// NewMemoryStore returns the in-process Store used by single-node deploys.
func NewMemoryStore() Store {
	return &memoryStore{
		dashboards: make(map[string]*DashboardEntry),
		charts:     make(map[int]*ChartEntry),
	}
}

func dashboardKey(dashboardID int, mode string) string {
	return fmt.Sprintf("%d:%s", dashboardID, mode)
}

func (s *memoryStore) GetDashboard(_ context.Context, dashboardID int, mode string) (*DashboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dashboards[dashboardKey(dashboardID, mode)], nil
}

func (s *memoryStore) PutDashboard(_ context.Context, dashboardID int, mode string, entry *DashboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboards[dashboardKey(dashboardID, mode)] = entry
	return nil
}

func (s *memoryStore) GetChart(_ context.Context, indicatorID int) (*ChartEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.charts[indicatorID], nil
}

func (s *memoryStore) PutChart(_ context.Context, indicatorID int, entry *ChartEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charts[indicatorID] = entry
	return nil
}

func (s *memoryStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboards = make(map[string]*DashboardEntry)
	s.charts = make(map[int]*ChartEntry)
	return nil
}
