package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	a := &Alert{ID: "a1", RuleID: 1, Title: "t", Message: "m", Status: StatusActive, CreatedAt: now}
	require.NoError(t, store.Insert(ctx, a))

	// duplicate ids are rejected
	assert.Error(t, store.Insert(ctx, a))

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	require.NoError(t, store.Transition(ctx, "a1", StatusResolved, "operator", now.Add(time.Minute)))
	got, err = store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, "operator", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)

	// resolved is terminal
	err = store.Transition(ctx, "a1", StatusArchived, "operator", now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryStoreTransitionValidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	assert.ErrorIs(t, store.Transition(ctx, "missing", StatusResolved, "x", now), ErrAlertNotFound)

	a := &Alert{ID: "a2", Title: "t", Message: "m", Status: StatusActive, CreatedAt: now}
	require.NoError(t, store.Insert(ctx, a))
	assert.ErrorIs(t, store.Transition(ctx, "a2", StatusActive, "x", now), ErrInvalidTransition)
	assert.ErrorIs(t, store.Transition(ctx, "a2", "nonsense", "x", now), ErrInvalidTransition)
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	for i, a := range []*Alert{
		{ID: "x1", RuleID: 1, Title: "t", Message: "m", Status: StatusActive},
		{ID: "x2", RuleID: 1, Title: "t", Message: "m", Status: StatusActive},
		{ID: "x3", RuleID: 2, Title: "t", Message: "m", Status: StatusActive},
	} {
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Insert(ctx, a))
	}
	require.NoError(t, store.Transition(ctx, "x2", StatusResolved, "op", base.Add(time.Hour)))

	active, err := store.List(ctx, ListFilter{Status: StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)
	// newest first
	assert.Equal(t, "x3", active[0].ID)

	byRule, err := store.ActiveByRule(ctx, 1)
	require.NoError(t, err)
	require.Len(t, byRule, 1)
	assert.Equal(t, "x1", byRule[0].ID)

	limited, err := store.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
