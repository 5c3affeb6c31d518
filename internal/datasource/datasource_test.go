package datasource

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
)

type fixture struct {
	store *memory.Store
	a     *Adapter
	base  time.Time
	svc   *domain.Endpoint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	f := &fixture{store: store, a: New(store, store, store, nil), base: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	for _, n := range []string{"svc-b", "svc-a"} {
		e := &domain.Endpoint{Name: n, URL: "https://" + n, IsActive: true}
		require.NoError(t, store.CreateEndpoint(ctx, e))
		if n == "svc-a" {
			f.svc = e
		}
	}
	// appended out of order on purpose
	for _, off := range []int{90, 0, 30, 200} {
		require.NoError(t, store.AppendResult(ctx, &domain.CheckResult{
			EndpointID: f.svc.ID, ResponseTime: float64(100 + off), Success: true,
			Timestamp: f.base.Add(time.Duration(off) * time.Second),
		}))
	}
	return f
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	got, err := f.a.Search(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"svc-a.response_time", "svc-a.success_rate", "svc-a.request_count",
		"svc-b.response_time", "svc-b.success_rate", "svc-b.request_count",
	}, got)

	got, err = f.a.Search(context.Background(), "SVC-B.RESP")
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-b.response_time"}, got)
}

func TestQuery_ResponseTimeAscendingWithinRange(t *testing.T) {
	f := newFixture(t)
	series, err := f.a.Query(context.Background(), QueryRequest{
		Targets: []Target{{Target: "svc-a.response_time"}},
		Range:   Range{From: f.base, To: f.base.Add(90 * time.Second)},
	})
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "svc-a.response_time", series[0].Target)
	assert.Equal(t, []Datapoint{
		{100, float64(f.base.UnixMilli())},
		{130, float64(f.base.Add(30 * time.Second).UnixMilli())},
		{190, float64(f.base.Add(90 * time.Second).UnixMilli())},
	}, series[0].Datapoints)
}

func TestQuery_SkipsHiddenAndMalformed(t *testing.T) {
	f := newFixture(t)
	series, err := f.a.Query(context.Background(), QueryRequest{
		Targets: []Target{
			{Target: "svc-a.response_time", Hide: true},
			{Target: "svc-a"},
			{Target: "svc-a.response_time.extra"},
			{Target: "svc-a.latency_p99"},
			{Target: "nobody.response_time"},
			{Target: "svc-b.response_time"},
		},
		Range: Range{From: f.base.Add(-time.Hour), To: f.base.Add(time.Hour)},
	})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "nobody.response_time", series[0].Target)
	assert.Empty(t, series[0].Datapoints)
	assert.Equal(t, "svc-b.response_time", series[1].Target)
	assert.Empty(t, series[1].Datapoints)

	raw, err := json.Marshal(series[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"nobody.response_time","datapoints":[]}`, string(raw))
}

func TestQuery_SuccessRateFromSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := Range{From: f.base, To: f.base.Add(time.Hour)}
	req := QueryRequest{Targets: []Target{{Target: "svc-a.success_rate"}}, Range: r}

	series, err := f.a.Query(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, series[0].Datapoints, "no summary yet")

	require.NoError(t, f.store.UpsertSummary(ctx, &domain.PerformanceSummary{EndpointID: f.svc.ID, EndpointName: "svc-a", SuccessRate: 75}))
	series, err = f.a.Query(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []Datapoint{
		{75, float64(r.From.UnixMilli())},
		{75, float64(r.To.UnixMilli())},
	}, series[0].Datapoints)
}

func TestQuery_RequestCountBuckets(t *testing.T) {
	f := newFixture(t)
	series, err := f.a.Query(context.Background(), QueryRequest{
		Targets:    []Target{{Target: "svc-a.request_count"}},
		Range:      Range{From: f.base, To: f.base.Add(10 * time.Minute)},
		IntervalMs: 60_000,
	})
	require.NoError(t, err)
	// results at +0s, +30s, +90s, +200s
	assert.Equal(t, []Datapoint{
		{2, float64(f.base.UnixMilli())},
		{1, float64(f.base.Add(time.Minute).UnixMilli())},
		{1, float64(f.base.Add(3 * time.Minute).UnixMilli())},
	}, series[0].Datapoints)
}

func TestQueryRequest_DecodesGrafanaPayload(t *testing.T) {
	payload := `{
	  "range": {"from": "2024-05-01T12:00:00.000Z", "to": "2024-05-01T13:00:00.000Z", "raw": {"from": "now-1h", "to": "now"}},
	  "intervalMs": 30000,
	  "targets": [{"target": "svc-a.response_time", "refId": "A", "type": "timeserie"}],
	  "maxDataPoints": 550
	}`
	var req QueryRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), req.Range.From.UTC())
	assert.Equal(t, int64(30000), req.IntervalMs)
	require.Len(t, req.Targets, 1)
	assert.Equal(t, "A", req.Targets[0].RefID)
}

func TestSplitTarget(t *testing.T) {
	n, m, ok := SplitTarget("a.b")
	assert.True(t, ok)
	assert.Equal(t, "a", n)
	assert.Equal(t, "b", m)

	for _, bad := range []string{"", "a", "a.b.c"} {
		_, _, ok := SplitTarget(bad)
		assert.False(t, ok, bad)
	}
}
