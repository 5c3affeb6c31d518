package repo

import (
	"context"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
)

// Ports (interfaces). The memory, sqlite and postgres adapters implement all three.
type EndpointStore interface {
	// CreateEndpoint assigns ID and CreatedAt. Returns domain.ErrDuplicateName
	// when the name is taken.
	CreateEndpoint(ctx context.Context, e *domain.Endpoint) error
	GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error)
	GetEndpointByName(ctx context.Context, name string) (*domain.Endpoint, error)
	// ListEndpoints returns every endpoint ordered by name.
	ListEndpoints(ctx context.Context) ([]domain.Endpoint, error)
	ListActiveEndpoints(ctx context.Context) ([]domain.Endpoint, error)
	SetEndpointActive(ctx context.Context, id domain.EndpointID, active bool) error
	// DeleteEndpoint removes the endpoint with its results and summary.
	// Deleting a missing id is not an error.
	DeleteEndpoint(ctx context.Context, id domain.EndpointID) error
}

type ResultStore interface {
	AppendResult(ctx context.Context, r *domain.CheckResult) error
	// ResultsSince returns results with Timestamp >= since, newest first.
	ResultsSince(ctx context.Context, id domain.EndpointID, since time.Time) ([]domain.CheckResult, error)
	// ResultsBetween returns results within [from, to], oldest first.
	ResultsBetween(ctx context.Context, id domain.EndpointID, from, to time.Time) ([]domain.CheckResult, error)
	DeleteResults(ctx context.Context, id domain.EndpointID) error
	// PruneResults deletes results older than before and reports how many went.
	PruneResults(ctx context.Context, before time.Time) (int64, error)
}

type SummaryStore interface {
	UpsertSummary(ctx context.Context, s *domain.PerformanceSummary) error
	GetSummary(ctx context.Context, id domain.EndpointID) (*domain.PerformanceSummary, error)
	// ListSummaries returns summaries ordered by endpoint name.
	ListSummaries(ctx context.Context) ([]domain.PerformanceSummary, error)
	DeleteSummary(ctx context.Context, id domain.EndpointID) error
}

type Store interface {
	EndpointStore
	ResultStore
	SummaryStore
	Close() error
}
