package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
)

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	results := []domain.CheckResult{
		{ResponseTime: 120, Success: true},
		{ResponseTime: 30000, Success: false},
		{ResponseTime: 60, Success: true},
		{ResponseTime: 20, Success: false},
	}
	s, ok := Summarize(3, "svc-a", results, now)
	require.True(t, ok)
	assert.Equal(t, domain.EndpointID(3), s.EndpointID)
	assert.Equal(t, "svc-a", s.EndpointName)
	assert.Equal(t, 4, s.TotalRequests)
	assert.Equal(t, 2, s.SuccessfulRequests)
	assert.Equal(t, 2, s.FailedRequests)
	assert.Equal(t, 50.0, s.SuccessRate)
	assert.Equal(t, 20.0, s.MinResponseTime)
	assert.Equal(t, 30000.0, s.MaxResponseTime)
	assert.InDelta(t, 7550.0, s.AvgResponseTime, 1e-9)
	assert.Equal(t, now, s.LastUpdated)

	_, ok = Summarize(3, "svc-a", nil, now)
	assert.False(t, ok)
}

func TestEngine_RecomputeScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := &domain.Endpoint{Name: "svc-a", URL: "https://x", ExpectedStatus: 200, CheckInterval: 30, IsActive: true}
	require.NoError(t, store.CreateEndpoint(ctx, e))

	now := time.Now().UTC()
	eng := NewEngine(store, store, 0)
	eng.Now = func() time.Time { return now }

	status := 200
	require.NoError(t, store.AppendResult(ctx, &domain.CheckResult{
		EndpointID: e.ID, ResponseTime: 120, StatusCode: &status, Success: true, Timestamp: now.Add(-time.Second),
	}))
	s, err := eng.Recompute(ctx, e.ID, e.Name)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, s.TotalRequests)
	assert.Equal(t, 1, s.SuccessfulRequests)
	assert.Equal(t, 100.0, s.SuccessRate)

	require.NoError(t, store.AppendResult(ctx, &domain.CheckResult{
		EndpointID: e.ID, ResponseTime: 30000, Success: false, Error: domain.MsgTimeout, Timestamp: now,
	}))
	s, err = eng.Recompute(ctx, e.ID, e.Name)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalRequests)
	assert.Equal(t, 1, s.SuccessfulRequests)
	assert.Equal(t, 1, s.FailedRequests)
	assert.Equal(t, 50.0, s.SuccessRate)

	stored, err := store.GetSummary(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, *s, *stored)
}

func TestEngine_EmptyWindowLeavesSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := &domain.Endpoint{Name: "stale", URL: "https://x"}
	require.NoError(t, store.CreateEndpoint(ctx, e))

	now := time.Now().UTC()
	old := &domain.PerformanceSummary{EndpointID: e.ID, EndpointName: e.Name, TotalRequests: 9, SuccessRate: 77, LastUpdated: now.Add(-48 * time.Hour)}
	require.NoError(t, store.UpsertSummary(ctx, old))
	// outside the window
	require.NoError(t, store.AppendResult(ctx, &domain.CheckResult{EndpointID: e.ID, ResponseTime: 5, Success: true, Timestamp: now.Add(-25 * time.Hour)}))

	eng := NewEngine(store, store, 24*time.Hour)
	eng.Now = func() time.Time { return now }
	s, err := eng.Recompute(ctx, e.ID, e.Name)
	require.NoError(t, err)
	assert.Nil(t, s)

	got, err := store.GetSummary(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.TotalRequests)
	assert.Equal(t, 77.0, got.SuccessRate)
}

func TestEngine_WindowIsInclusive(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := &domain.Endpoint{Name: "edge", URL: "https://x"}
	require.NoError(t, store.CreateEndpoint(ctx, e))

	now := time.Now().UTC()
	require.NoError(t, store.AppendResult(ctx, &domain.CheckResult{EndpointID: e.ID, ResponseTime: 1, Success: true, Timestamp: now.Add(-24 * time.Hour)}))

	eng := NewEngine(store, store, 24*time.Hour)
	eng.Now = func() time.Time { return now }
	s, err := eng.Recompute(ctx, e.ID, e.Name)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, s.TotalRequests)
}

type failingResults struct{ memory.Store }

func (*failingResults) ResultsSince(context.Context, domain.EndpointID, time.Time) ([]domain.CheckResult, error) {
	return nil, errors.New("disk on fire")
}

func TestEngine_PropagatesStoreError(t *testing.T) {
	store := memory.New()
	eng := NewEngine(&failingResults{}, store, 0)
	_, err := eng.Recompute(context.Background(), 1, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}
