// Package repotest holds behaviour checks shared by every repo.Store adapter.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// Run exercises s against the store contract. Names are suffixed so the
// suite can run against a shared database.
func Run(t *testing.T, s repo.Store) {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())

	t.Run("DuplicateName", func(t *testing.T) { duplicateName(t, s, suffix) })
	t.Run("ActiveListing", func(t *testing.T) { activeListing(t, s, suffix) })
	t.Run("ResultOrdering", func(t *testing.T) { resultOrdering(t, s, suffix) })
	t.Run("ConcurrentAppend", func(t *testing.T) { concurrentAppend(t, s, suffix) })
	t.Run("SummaryUpsert", func(t *testing.T) { summaryUpsert(t, s, suffix) })
	t.Run("DeleteCascades", func(t *testing.T) { deleteCascades(t, s, suffix) })
	t.Run("Prune", func(t *testing.T) { prune(t, s, suffix) })
}

func newEndpoint(name string) *domain.Endpoint {
	body := `{"ping":true}`
	return &domain.Endpoint{
		Name:           name,
		URL:            "https://example.com/" + name,
		Method:         "POST",
		Headers:        map[string]string{"X-Trace": "1"},
		Body:           &body,
		ExpectedStatus: 201,
		CheckInterval:  30,
		IsActive:       true,
	}
}

func create(t *testing.T, s repo.Store, name string) *domain.Endpoint {
	t.Helper()
	e := newEndpoint(name)
	require.NoError(t, s.CreateEndpoint(context.Background(), e))
	require.NotZero(t, e.ID)
	return e
}

func result(id domain.EndpointID, at time.Time, ms float64, ok bool) *domain.CheckResult {
	status := 200
	r := &domain.CheckResult{
		EndpointID:   id,
		ResponseTime: ms,
		StatusCode:   &status,
		Success:      ok,
		ResponseSize: 42,
		Outcome:      domain.OutcomeOK,
		Timestamp:    at,
	}
	if !ok {
		r.StatusCode = nil
		r.Error = domain.MsgTimeout
		r.ResponseSize = 0
		r.Outcome = domain.OutcomeTimeout
	}
	return r
}

func duplicateName(t *testing.T, s repo.Store, suffix string) {
	ctx := context.Background()
	e := create(t, s, "dup-"+suffix)

	err := s.CreateEndpoint(ctx, newEndpoint("dup-"+suffix))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateName), "got %v", err)

	got, err := s.GetEndpointByName(ctx, "dup-"+suffix)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, map[string]string{"X-Trace": "1"}, got.Headers)
	require.NotNil(t, got.Body)
	assert.Equal(t, `{"ping":true}`, *got.Body)
	assert.Equal(t, 201, got.ExpectedStatus)
	assert.Equal(t, 30, got.CheckInterval)

	_, err = s.GetEndpoint(ctx, e.ID+100000)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func activeListing(t *testing.T, s repo.Store, suffix string) {
	ctx := context.Background()
	a := create(t, s, "active-a-"+suffix)
	b := create(t, s, "active-b-"+suffix)
	require.NoError(t, s.SetEndpointActive(ctx, b.ID, false))

	active, err := s.ListActiveEndpoints(ctx)
	require.NoError(t, err)
	ids := map[domain.EndpointID]bool{}
	for _, e := range active {
		ids[e.ID] = true
	}
	assert.True(t, ids[a.ID])
	assert.False(t, ids[b.ID])

	all, err := s.ListEndpoints(ctx)
	require.NoError(t, err)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Name, all[i].Name)
	}

	err = s.SetEndpointActive(ctx, b.ID+100000, true)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func resultOrdering(t *testing.T, s repo.Store, suffix string) {
	ctx := context.Background()
	e := create(t, s, "order-"+suffix)
	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)

	for i, ms := range []float64{10, 20, 30} {
		require.NoError(t, s.AppendResult(ctx, result(e.ID, base.Add(time.Duration(i)*time.Minute), ms, true)))
	}

	since, err := s.ResultsSince(ctx, e.ID, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, since, 2, "lower bound is inclusive")
	assert.Equal(t, 30.0, since[0].ResponseTime)
	assert.Equal(t, 20.0, since[1].ResponseTime)
	require.NotNil(t, since[0].StatusCode)
	assert.Equal(t, 200, *since[0].StatusCode)
	assert.Equal(t, int64(42), since[0].ResponseSize)
	assert.True(t, since[0].Timestamp.Equal(base.Add(2*time.Minute)))

	between, err := s.ResultsBetween(ctx, e.ID, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, 10.0, between[0].ResponseTime)
	assert.Equal(t, 20.0, between[1].ResponseTime)
}

func concurrentAppend(t *testing.T, s repo.Store, suffix string) {
	ctx := context.Background()
	a := create(t, s, "conc-a-"+suffix)
	b := create(t, s, "conc-b-"+suffix)
	start := time.Now().UTC().Add(-time.Minute)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for _, id := range []domain.EndpointID{a.ID, b.ID} {
			wg.Add(1)
			go func(id domain.EndpointID, i int) {
				defer wg.Done()
				assert.NoError(t, s.AppendResult(ctx, result(id, start.Add(time.Duration(i)*time.Millisecond), float64(i), i%2 == 0)))
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range []domain.EndpointID{a.ID, b.ID} {
		rs, err := s.ResultsSince(ctx, id, start)
		require.NoError(t, err)
		assert.Len(t, rs, n)
	}
}

func summaryUpsert(t *testing.T, s repo.Store, suffix string) {
	ctx := context.Background()
	e := create(t, s, "sum-"+suffix)
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := &domain.PerformanceSummary{EndpointID: e.ID, EndpointName: e.Name, AvgResponseTime: 10,
		MinResponseTime: 10, MaxResponseTime: 10, SuccessRate: 100, TotalRequests: 1, SuccessfulRequests: 1, LastUpdated: now}
	require.NoError(t, s.UpsertSummary(ctx, first))

	second := *first
	second.TotalRequests = 2
	second.FailedRequests = 1
	second.SuccessRate = 50
	require.NoError(t, s.UpsertSummary(ctx, &second))

	got, err := s.GetSummary(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalRequests)
	assert.Equal(t, 50.0, got.SuccessRate)

	all, err := s.ListSummaries(ctx)
	require.NoError(t, err)
	count := 0
	for _, x := range all {
		if x.EndpointID == e.ID {
			count++
		}
	}
	assert.Equal(t, 1, count, "one row per endpoint")
}

func deleteCascades(t *testing.T, s repo.Store, suffix string) {
	ctx := context.Background()
	e := create(t, s, "del-"+suffix)
	now := time.Now().UTC()
	require.NoError(t, s.AppendResult(ctx, result(e.ID, now, 5, true)))
	require.NoError(t, s.UpsertSummary(ctx, &domain.PerformanceSummary{EndpointID: e.ID, EndpointName: e.Name, LastUpdated: now}))

	require.NoError(t, s.DeleteEndpoint(ctx, e.ID))
	require.NoError(t, s.DeleteEndpoint(ctx, e.ID), "deleting twice is fine")

	rs, err := s.ResultsSince(ctx, e.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rs)

	_, err = s.GetSummary(ctx, e.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = s.GetEndpoint(ctx, e.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	// name is free again
	create(t, s, "del-"+suffix)
}

func prune(t *testing.T, s repo.Store, suffix string) {
	ctx := context.Background()
	e := create(t, s, "prune-"+suffix)
	now := time.Now().UTC()
	require.NoError(t, s.AppendResult(ctx, result(e.ID, now.Add(-72*time.Hour), 1, true)))
	require.NoError(t, s.AppendResult(ctx, result(e.ID, now, 2, true)))

	n, err := s.PruneResults(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	rs, err := s.ResultsSince(ctx, e.ID, now.Add(-100*time.Hour))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, 2.0, rs[0].ResponseTime)

	require.NoError(t, s.DeleteResults(ctx, e.ID))
	rs, err = s.ResultsSince(ctx, e.ID, now.Add(-100*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rs)
}
