// Package grafana provisions the monitor's simple-JSON datasource and its
// dashboard through the Grafana HTTP API.
package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/datasource"
)

const (
	DatasourceName = "API Monitor"
	PluginType     = "simpod-json-datasource"
	DashboardTitle = "API Performance Monitor"
)

var ErrNotReady = errors.New("grafana not ready")

// Client talks to one Grafana instance. Token, when set, is sent as a
// bearer token instead of basic auth.
type Client struct {
	BaseURL  string
	User     string
	Password string
	Token    string
	HTTP     *http.Client
	Log      *zap.Logger
}

func New(baseURL, user, password string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		User:     user,
		Password: password,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		Log:      log,
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("grafana: status %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("grafana payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("grafana request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("grafana %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var m struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &m) != nil || m.Message == "" {
			m.Message = strings.TrimSpace(string(raw))
		}
		return &apiError{Status: resp.StatusCode, Message: m.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// WaitReady polls /api/health until Grafana answers or ctx ends.
func (c *Client) WaitReady(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		err := c.do(ctx, http.MethodGet, "/api/health", nil, nil)
		if err == nil {
			return nil
		}
		c.Log.Debug("grafana_not_ready", zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		case <-t.C:
		}
	}
}

type datasourceModel struct {
	UID            string            `json:"uid,omitempty"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	URL            string            `json:"url"`
	Access         string            `json:"access"`
	IsDefault      bool              `json:"isDefault"`
	JSONData       map[string]any    `json:"jsonData"`
	SecureJSONData map[string]string `json:"secureJsonData,omitempty"`
}

// EnsureDatasource creates the simple-JSON datasource pointing at
// appURL/grafana and returns its uid. An existing datasource with the same
// name is reused. apiKey, when set, is attached as X-API-Key on every
// Grafana query.
func (c *Client) EnsureDatasource(ctx context.Context, appURL, apiKey string) (uid string, created bool, err error) {
	ds := datasourceModel{
		Name:      DatasourceName,
		Type:      PluginType,
		URL:       strings.TrimRight(appURL, "/") + "/grafana",
		Access:    "proxy",
		IsDefault: true,
		JSONData:  map[string]any{},
	}
	if apiKey != "" {
		ds.JSONData["httpHeaderName1"] = "X-API-Key"
		ds.SecureJSONData = map[string]string{"httpHeaderValue1": apiKey}
	}

	var out struct {
		Datasource struct {
			UID string `json:"uid"`
		} `json:"datasource"`
	}
	err = c.do(ctx, http.MethodPost, "/api/datasources", ds, &out)
	var ae *apiError
	switch {
	case err == nil:
		c.Log.Info("grafana_datasource_created", zap.String("uid", out.Datasource.UID), zap.String("url", ds.URL))
		return out.Datasource.UID, true, nil
	case errors.As(err, &ae) && ae.Status == http.StatusConflict:
		var existing datasourceModel
		if err := c.do(ctx, http.MethodGet, "/api/datasources/name/"+url.PathEscape(DatasourceName), nil, &existing); err != nil {
			return "", false, err
		}
		c.Log.Info("grafana_datasource_exists", zap.String("uid", existing.UID), zap.String("url", existing.URL))
		return existing.UID, false, nil
	default:
		return "", false, err
	}
}

type panelTarget struct {
	Target string         `json:"target"`
	RefID  string         `json:"refId"`
	Type   string         `json:"type"`
	DS     map[string]any `json:"datasource"`
}

type panel struct {
	ID         int            `json:"id"`
	Title      string         `json:"title"`
	Type       string         `json:"type"`
	Datasource map[string]any `json:"datasource"`
	Targets    []panelTarget  `json:"targets"`
	GridPos    map[string]int `json:"gridPos"`
	FieldCfg   map[string]any `json:"fieldConfig,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

// Dashboard builds the response time, success rate and request volume
// panels with one target per endpoint.
func Dashboard(datasourceUID string, endpoints []string) map[string]any {
	ref := map[string]any{"type": PluginType, "uid": datasourceUID}
	targets := func(metric string) []panelTarget {
		out := make([]panelTarget, 0, len(endpoints))
		for i, name := range endpoints {
			out = append(out, panelTarget{
				Target: name + "." + metric,
				RefID:  refID(i),
				Type:   "timeserie",
				DS:     ref,
			})
		}
		return out
	}
	panels := []panel{
		{
			ID: 1, Title: "Response Time Trends", Type: "timeseries", Datasource: ref,
			Targets:  targets(datasource.MetricResponseTime),
			GridPos:  map[string]int{"h": 8, "w": 12, "x": 0, "y": 0},
			FieldCfg: map[string]any{"defaults": map[string]any{"unit": "ms"}},
		},
		{
			ID: 2, Title: "Success Rate", Type: "stat", Datasource: ref,
			Targets:  targets(datasource.MetricSuccessRate),
			GridPos:  map[string]int{"h": 8, "w": 12, "x": 12, "y": 0},
			FieldCfg: map[string]any{"defaults": map[string]any{"unit": "percent", "min": 0, "max": 100}},
			Options: map[string]any{
				"colorMode":   "background",
				"graphMode":   "area",
				"justifyMode": "auto",
				"orientation": "horizontal",
			},
		},
		{
			ID: 3, Title: "Request Volume", Type: "timeseries", Datasource: ref,
			Targets: targets(datasource.MetricRequestCount),
			GridPos: map[string]int{"h": 8, "w": 24, "x": 0, "y": 8},
		},
	}
	return map[string]any{
		"id":       nil,
		"uid":      "api-monitor",
		"title":    DashboardTitle,
		"tags":     []string{"api", "monitoring", "performance"},
		"timezone": "browser",
		"panels":   panels,
		"time":     map[string]string{"from": "now-6h", "to": "now"},
		"refresh":  "30s",
	}
}

// refID yields A..Z, then AA, AB, ...
func refID(i int) string {
	s := ""
	for i >= 0 {
		s = string(rune('A'+i%26)) + s
		i = i/26 - 1
	}
	return s
}

// UpsertDashboard saves the dashboard, overwriting an earlier version, and
// returns its absolute URL.
func (c *Client) UpsertDashboard(ctx context.Context, datasourceUID string, endpoints []string) (string, error) {
	payload := map[string]any{
		"dashboard": Dashboard(datasourceUID, endpoints),
		"overwrite": true,
		"message":   "provisioned by api monitor",
	}
	var out struct {
		UID string `json:"uid"`
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/dashboards/db", payload, &out); err != nil {
		return "", err
	}
	c.Log.Info("grafana_dashboard_saved", zap.String("uid", out.UID), zap.Int("endpoints", len(endpoints)))
	return c.BaseURL + out.URL, nil
}
