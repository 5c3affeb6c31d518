// Package aggregate maintains the rolling performance summary per endpoint.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

const DefaultWindow = domain.SummaryWindow

// Summarize folds results into a summary. ok is false when results is empty.
func Summarize(id domain.EndpointID, name string, results []domain.CheckResult, now time.Time) (s *domain.PerformanceSummary, ok bool) {
	if len(results) == 0 {
		return nil, false
	}
	s = &domain.PerformanceSummary{
		EndpointID:      id,
		EndpointName:    name,
		MinResponseTime: results[0].ResponseTime,
		MaxResponseTime: results[0].ResponseTime,
		TotalRequests:   len(results),
		LastUpdated:     now.UTC(),
	}
	var sum float64
	for _, r := range results {
		sum += r.ResponseTime
		if r.ResponseTime < s.MinResponseTime {
			s.MinResponseTime = r.ResponseTime
		}
		if r.ResponseTime > s.MaxResponseTime {
			s.MaxResponseTime = r.ResponseTime
		}
		if r.Success {
			s.SuccessfulRequests++
		} else {
			s.FailedRequests++
		}
	}
	s.AvgResponseTime = sum / float64(s.TotalRequests)
	s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100
	return s, true
}

type Engine struct {
	Results   repo.ResultStore
	Summaries repo.SummaryStore
	Window    time.Duration
	Now       func() time.Time
}

func NewEngine(results repo.ResultStore, summaries repo.SummaryStore, window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{Results: results, Summaries: summaries, Window: window, Now: time.Now}
}

// Recompute rebuilds the summary from the raw results inside the window and
// replaces the stored one. An empty window returns nil and leaves any
// previous summary in place.
func (e *Engine) Recompute(ctx context.Context, id domain.EndpointID, name string) (*domain.PerformanceSummary, error) {
	now := e.Now()
	results, err := e.Results.ResultsSince(ctx, id, now.Add(-e.Window))
	if err != nil {
		return nil, fmt.Errorf("recompute %d: %w", id, err)
	}
	s, ok := Summarize(id, name, results, now)
	if !ok {
		return nil, nil
	}
	if err := e.Summaries.UpsertSummary(ctx, s); err != nil {
		return nil, fmt.Errorf("recompute %d: %w", id, err)
	}
	return s, nil
}
