package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned for any state change other than
	// active to resolved or active to archived.
	ErrInvalidTransition = errors.New("invalid alert state transition")
)

// ListFilter narrows List results. Zero values mean no constraint.
type ListFilter struct {
	Status string
	RuleID int
	Limit  int
}

// Store persists alerts.
type Store interface {
	Insert(ctx context.Context, alert *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, filter ListFilter) ([]*Alert, error)
	ActiveByRule(ctx context.Context, ruleID int) ([]*Alert, error)
	Transition(ctx context.Context, id, status, by string, at time.Time) error
}

// MemoryStore is the in-process Store used by tests and single-node runs.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]*Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*Alert)}
}

func (s *MemoryStore) Insert(_ context.Context, alert *Alert) error {
	if alert.ID == "" {
		return errors.New("alert id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; ok {
		return fmt.Errorf("alert %s already exists", alert.ID)
	}
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Alert
	for _, a := range s.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.RuleID != 0 && a.RuleID != filter.RuleID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ActiveByRule(ctx context.Context, ruleID int) ([]*Alert, error) {
	return s.List(ctx, ListFilter{Status: StatusActive, RuleID: ruleID})
}

func (s *MemoryStore) Transition(_ context.Context, id, status, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	if a.Status != StatusActive || (status != StatusResolved && status != StatusArchived) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, status)
	}
	a.Status = status
	switch status {
	case StatusResolved:
		a.ResolvedAt = &at
		a.ResolvedBy = by
	case StatusArchived:
		a.ArchivedAt = &at
	}
	return nil
}
