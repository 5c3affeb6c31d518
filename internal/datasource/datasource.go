// Package datasource answers Grafana simple-JSON datasource requests from the
// stored check results and summaries.
package datasource

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// Metric names exposed per endpoint as "<endpoint>.<metric>".
const (
	MetricResponseTime = "response_time"
	MetricSuccessRate  = "success_rate"
	MetricRequestCount = "request_count"
)

var Metrics = []string{MetricResponseTime, MetricSuccessRate, MetricRequestCount}

const defaultBucket = time.Minute

type Target struct {
	Target string `json:"target"`
	RefID  string `json:"refId,omitempty"`
	Type   string `json:"type,omitempty"`
	Hide   bool   `json:"hide,omitempty"`
}

type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type QueryRequest struct {
	Targets       []Target `json:"targets"`
	Range         Range    `json:"range"`
	IntervalMs    int64    `json:"intervalMs,omitempty"`
	MaxDataPoints int      `json:"maxDataPoints,omitempty"`
}

// Datapoint is [value, epoch milliseconds].
type Datapoint [2]float64

type Series struct {
	Target     string      `json:"target"`
	Datapoints []Datapoint `json:"datapoints"`
}

type Adapter struct {
	endpoints repo.EndpointStore
	results   repo.ResultStore
	summaries repo.SummaryStore
	log       *zap.Logger
}

func New(endpoints repo.EndpointStore, results repo.ResultStore, summaries repo.SummaryStore, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{endpoints: endpoints, results: results, summaries: summaries, log: log}
}

// Search lists every "<endpoint>.<metric>" target, optionally filtered by a
// case-insensitive substring.
func (a *Adapter) Search(ctx context.Context, filter string) ([]string, error) {
	eps, err := a.endpoints.ListEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make([]string, 0, len(eps)*len(Metrics))
	for _, e := range eps {
		for _, m := range Metrics {
			t := e.Name + "." + m
			if filter != "" && !strings.Contains(strings.ToLower(t), filter) {
				continue
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// SplitTarget splits "<endpoint>.<metric>". ok is false unless there are
// exactly two parts.
func SplitTarget(target string) (endpoint, metric string, ok bool) {
	parts := strings.Split(target, ".")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func knownMetric(m string) bool {
	for _, x := range Metrics {
		if x == m {
			return true
		}
	}
	return false
}

// Query builds one series per usable target. Hidden, malformed and
// unknown-metric targets are left out; an unknown endpoint yields an empty
// series. Storage errors fail the whole request.
func (a *Adapter) Query(ctx context.Context, req QueryRequest) ([]Series, error) {
	out := make([]Series, 0, len(req.Targets))
	for _, t := range req.Targets {
		if t.Hide {
			continue
		}
		name, metric, ok := SplitTarget(t.Target)
		if !ok || !knownMetric(metric) {
			a.log.Debug("grafana_target_skipped", zap.String("target", t.Target))
			continue
		}

		s := Series{Target: t.Target, Datapoints: []Datapoint{}}
		e, err := a.endpoints.GetEndpointByName(ctx, name)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			out = append(out, s)
			continue
		case err != nil:
			return nil, err
		}

		switch metric {
		case MetricResponseTime:
			s.Datapoints, err = a.responseTime(ctx, e.ID, req.Range)
		case MetricSuccessRate:
			s.Datapoints, err = a.successRate(ctx, e.ID, req.Range)
		case MetricRequestCount:
			s.Datapoints, err = a.requestCount(ctx, e.ID, req.Range, time.Duration(req.IntervalMs)*time.Millisecond)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func epochMillis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (a *Adapter) responseTime(ctx context.Context, id domain.EndpointID, r Range) ([]Datapoint, error) {
	rs, err := a.results.ResultsBetween(ctx, id, r.From, r.To)
	if err != nil {
		return nil, err
	}
	dps := make([]Datapoint, 0, len(rs))
	for _, x := range rs {
		dps = append(dps, Datapoint{x.ResponseTime, epochMillis(x.Timestamp)})
	}
	return dps, nil
}

// successRate repeats the current rolling summary value at both range edges.
func (a *Adapter) successRate(ctx context.Context, id domain.EndpointID, r Range) ([]Datapoint, error) {
	s, err := a.summaries.GetSummary(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return []Datapoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	if r.From.Equal(r.To) {
		return []Datapoint{{s.SuccessRate, epochMillis(r.From)}}, nil
	}
	return []Datapoint{
		{s.SuccessRate, epochMillis(r.From)},
		{s.SuccessRate, epochMillis(r.To)},
	}, nil
}

// requestCount counts results per bucket aligned to the range start. Empty
// buckets are omitted.
func (a *Adapter) requestCount(ctx context.Context, id domain.EndpointID, r Range, bucket time.Duration) ([]Datapoint, error) {
	if bucket <= 0 {
		bucket = defaultBucket
	}
	rs, err := a.results.ResultsBetween(ctx, id, r.From, r.To)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int)
	for _, x := range rs {
		counts[int64(x.Timestamp.Sub(r.From)/bucket)]++
	}
	idx := make([]int64, 0, len(counts))
	for i := range counts {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })

	dps := make([]Datapoint, 0, len(idx))
	for _, i := range idx {
		start := r.From.Add(time.Duration(i) * bucket)
		dps = append(dps, Datapoint{float64(counts[i]), epochMillis(start)})
	}
	return dps, nil
}
