package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	mu        sync.RWMutex
	nextID    domain.EndpointID
	nextRes   int64
	endpoints map[domain.EndpointID]*domain.Endpoint
	results   map[domain.EndpointID][]domain.CheckResult
	summaries map[domain.EndpointID]domain.PerformanceSummary
}

func New() *Store {
	return &Store{
		endpoints: make(map[domain.EndpointID]*domain.Endpoint),
		results:   make(map[domain.EndpointID][]domain.CheckResult),
		summaries: make(map[domain.EndpointID]domain.PerformanceSummary),
	}
}

func (m *Store) Close() error { return nil }

// ---- EndpointStore ----

func (m *Store) CreateEndpoint(ctx context.Context, e *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.endpoints {
		if cur.Name == e.Name {
			return domain.ErrDuplicateName
		}
	}
	m.nextID++
	e.ID = m.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := cloneEndpoint(*e)
	m.endpoints[e.ID] = &cp
	return nil
}

func (m *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.endpoints[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := cloneEndpoint(*e)
	return &cp, nil
}

func (m *Store) GetEndpointByName(ctx context.Context, name string) (*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.endpoints {
		if e.Name == name {
			cp := cloneEndpoint(*e)
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *Store) ListEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	return m.list(false), nil
}

func (m *Store) ListActiveEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	return m.list(true), nil
}

func (m *Store) list(activeOnly bool) []domain.Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Endpoint, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, cloneEndpoint(*e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Store) SetEndpointActive(ctx context.Context, id domain.EndpointID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.IsActive = active
	return nil
}

func (m *Store) DeleteEndpoint(ctx context.Context, id domain.EndpointID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, id)
	delete(m.results, id)
	delete(m.summaries, id)
	return nil
}

// ---- ResultStore ----

func (m *Store) AppendResult(ctx context.Context, r *domain.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[r.EndpointID]; !ok {
		return domain.ErrNotFound
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	m.nextRes++
	r.ID = m.nextRes
	m.results[r.EndpointID] = append(m.results[r.EndpointID], *r)
	return nil
}

func (m *Store) ResultsSince(ctx context.Context, id domain.EndpointID, since time.Time) ([]domain.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CheckResult
	for _, r := range m.results[id] {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *Store) ResultsBetween(ctx context.Context, id domain.EndpointID, from, to time.Time) ([]domain.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CheckResult
	for _, r := range m.results[id] {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Store) DeleteResults(ctx context.Context, id domain.EndpointID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, id)
	return nil
}

func (m *Store) PruneResults(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rs := range m.results {
		kept := rs[:0]
		for _, r := range rs {
			if r.Timestamp.Before(before) {
				n++
				continue
			}
			kept = append(kept, r)
		}
		m.results[id] = kept
	}
	return n, nil
}

// ---- SummaryStore ----

func (m *Store) UpsertSummary(ctx context.Context, s *domain.PerformanceSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[s.EndpointID]; !ok {
		return domain.ErrNotFound
	}
	m.summaries[s.EndpointID] = *s
	return nil
}

func (m *Store) GetSummary(ctx context.Context, id domain.EndpointID) (*domain.PerformanceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *Store) ListSummaries(ctx context.Context) ([]domain.PerformanceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PerformanceSummary, 0, len(m.summaries))
	for _, s := range m.summaries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndpointName < out[j].EndpointName })
	return out, nil
}

func (m *Store) DeleteSummary(ctx context.Context, id domain.EndpointID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaries, id)
	return nil
}

func cloneEndpoint(e domain.Endpoint) domain.Endpoint {
	if e.Headers != nil {
		h := make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			h[k] = v
		}
		e.Headers = h
	}
	if e.Body != nil {
		b := *e.Body
		e.Body = &b
	}
	return e
}
