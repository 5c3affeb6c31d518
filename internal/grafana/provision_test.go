package grafana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGrafana records what the client sends to the datasource and dashboard
// endpoints.
type fakeGrafana struct {
	datasourceStatus int
	gotDatasource    datasourceModel
	gotDashboard     map[string]any
	healthFailures   int32
	user, pass       string
}

func (f *fakeGrafana) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&f.healthFailures, -1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"database":"ok"}`))
	})
	mux.HandleFunc("POST /api/datasources", func(w http.ResponseWriter, r *http.Request) {
		f.user, f.pass, _ = r.BasicAuth()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.gotDatasource))
		if f.datasourceStatus == http.StatusConflict {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"data source with the same name already exists"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":7,"message":"Datasource added","datasource":{"uid":"new-uid"}}`))
	})
	mux.HandleFunc("GET /api/datasources/name/{name}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DatasourceName, r.PathValue("name"))
		_, _ = w.Write([]byte(`{"uid":"old-uid","name":"API Monitor","url":"http://old/grafana"}`))
	})
	mux.HandleFunc("POST /api/dashboards/db", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.gotDashboard))
		_, _ = w.Write([]byte(`{"id":3,"uid":"api-monitor","url":"/d/api-monitor/api-performance-monitor","status":"success"}`))
	})
	return mux
}

func setup(t *testing.T, f *fakeGrafana) *Client {
	t.Helper()
	ts := httptest.NewServer(f.handler(t))
	t.Cleanup(ts.Close)
	return New(ts.URL+"/", "admin", "secret", zap.NewNop())
}

func TestEnsureDatasource_Creates(t *testing.T) {
	f := &fakeGrafana{}
	c := setup(t, f)

	uid, created, err := c.EnsureDatasource(context.Background(), "http://monitor:8080/", "pub_key")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "new-uid", uid)

	assert.Equal(t, "admin", f.user)
	assert.Equal(t, "secret", f.pass)
	assert.Equal(t, DatasourceName, f.gotDatasource.Name)
	assert.Equal(t, PluginType, f.gotDatasource.Type)
	assert.Equal(t, "http://monitor:8080/grafana", f.gotDatasource.URL)
	assert.Equal(t, "proxy", f.gotDatasource.Access)
	assert.Equal(t, "X-API-Key", f.gotDatasource.JSONData["httpHeaderName1"])
	assert.Equal(t, "pub_key", f.gotDatasource.SecureJSONData["httpHeaderValue1"])
}

func TestEnsureDatasource_ReusesExisting(t *testing.T) {
	f := &fakeGrafana{datasourceStatus: http.StatusConflict}
	c := setup(t, f)

	uid, created, err := c.EnsureDatasource(context.Background(), "http://monitor:8080", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "old-uid", uid)
	assert.Nil(t, f.gotDatasource.SecureJSONData)
}

func TestEnsureDatasource_ReportsAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid username or password"}`))
	}))
	defer ts.Close()

	_, _, err := New(ts.URL, "admin", "wrong", nil).EnsureDatasource(context.Background(), "http://x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid username or password")
}

func TestUpsertDashboard_OneTargetPerEndpoint(t *testing.T) {
	f := &fakeGrafana{}
	c := setup(t, f)

	u, err := c.UpsertDashboard(context.Background(), "ds-1", []string{"billing", "search"})
	require.NoError(t, err)
	assert.Equal(t, c.BaseURL+"/d/api-monitor/api-performance-monitor", u)

	assert.Equal(t, true, f.gotDashboard["overwrite"])
	dash := f.gotDashboard["dashboard"].(map[string]any)
	assert.Equal(t, DashboardTitle, dash["title"])
	assert.Equal(t, "30s", dash["refresh"])

	panels := dash["panels"].([]any)
	require.Len(t, panels, 3)
	var got []string
	for _, p := range panels {
		for _, tg := range p.(map[string]any)["targets"].([]any) {
			m := tg.(map[string]any)
			got = append(got, m["target"].(string)+"/"+m["refId"].(string))
			assert.Equal(t, "ds-1", m["datasource"].(map[string]any)["uid"])
		}
	}
	assert.Equal(t, []string{
		"billing.response_time/A", "search.response_time/B",
		"billing.success_rate/A", "search.success_rate/B",
		"billing.request_count/A", "search.request_count/B",
	}, got)
}

func TestWaitReady(t *testing.T) {
	f := &fakeGrafana{healthFailures: 2}
	c := setup(t, f)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx, 10*time.Millisecond))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, New(down.URL, "", "", nil).WaitReady(ctx2, 10*time.Millisecond), ErrNotReady)
}

func TestRefID(t *testing.T) {
	assert.Equal(t, "A", refID(0))
	assert.Equal(t, "Z", refID(25))
	assert.Equal(t, "AA", refID(26))
	assert.Equal(t, "AB", refID(27))
}
