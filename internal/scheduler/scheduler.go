// Package scheduler runs one monitor task per active endpoint.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/probe"
)

type EndpointSource interface {
	ListActiveEndpoints(ctx context.Context) ([]domain.Endpoint, error)
}

type ResultAppender interface {
	AppendResult(ctx context.Context, r *domain.CheckResult) error
}

type Recomputer interface {
	Recompute(ctx context.Context, id domain.EndpointID, name string) (*domain.PerformanceSummary, error)
}

// Observer sees every persisted result.
type Observer interface {
	Observe(ctx context.Context, e domain.Endpoint, r domain.CheckResult)
}

type Diagnoser interface {
	Diagnose(ctx context.Context, host string) probe.DNSStatus
}

type Deps struct {
	Logger     *zap.Logger
	Endpoints  EndpointSource
	Checker    probe.Checker
	Results    ResultAppender
	Aggregator Recomputer
	Observers  []Observer
	Diagnoser  Diagnoser // optional
}

type task struct {
	endpoint domain.Endpoint
	cancel   context.CancelFunc
	done     chan struct{}
}

type Scheduler struct {
	log        *zap.Logger
	endpoints  EndpointSource
	checker    probe.Checker
	results    ResultAppender
	aggregator Recomputer
	observers  []Observer
	diagnoser  Diagnoser
	intervalOf func(domain.Endpoint) time.Duration

	mu       sync.Mutex
	active   bool
	tasks    map[domain.EndpointID]*task
	removing map[domain.EndpointID]int // ids being deleted; starts are refused
}

func New(d Deps) *Scheduler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		log:        log,
		endpoints:  d.Endpoints,
		checker:    d.Checker,
		results:    d.Results,
		aggregator: d.Aggregator,
		observers:  d.Observers,
		diagnoser:  d.Diagnoser,
		intervalOf: defaultInterval,
		tasks:      make(map[domain.EndpointID]*task),
		removing:   make(map[domain.EndpointID]int),
	}
}

func defaultInterval(e domain.Endpoint) time.Duration {
	if e.CheckInterval <= 0 {
		return domain.DefaultCheckInterval * time.Second
	}
	return e.Interval()
}

type StartReport struct {
	Started       int  `json:"started"`
	AlreadyActive bool `json:"already_active"`
}

// StartAll launches a task for every active endpoint. It is a no-op that
// reports AlreadyActive when monitoring is running.
func (s *Scheduler) StartAll(ctx context.Context) (StartReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return StartReport{AlreadyActive: true}, nil
	}
	eps, err := s.endpoints.ListActiveEndpoints(ctx)
	if err != nil {
		return StartReport{}, fmt.Errorf("load active endpoints: %w", err)
	}
	n := 0
	for _, e := range eps {
		if s.startLocked(e) {
			n++
		}
	}
	s.active = true
	s.log.Info("monitoring_started", zap.Int("tasks", n))
	return StartReport{Started: n}, nil
}

// StopAll cancels every task and waits for them to exit or ctx to end.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	s.active = false
	tasks := s.tasks
	s.tasks = make(map[domain.EndpointID]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return fmt.Errorf("stop monitoring: %w", ctx.Err())
		}
	}
	s.log.Info("monitoring_stopped", zap.Int("tasks", len(tasks)))
	return nil
}

// StopOne cancels the task for id, if any, and waits for it to exit.
func (s *Scheduler) StopOne(ctx context.Context, id domain.EndpointID) (bool, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	t.cancel()
	select {
	case <-t.done:
		return true, nil
	case <-ctx.Done():
		return true, fmt.Errorf("stop monitor %d: %w", id, ctx.Err())
	}
}

// Remove stops the task for id and then runs drop. Until drop returns no
// task can be started for id, so a concurrent StartAll or Ensure cannot
// bring back a monitor for an endpoint that is being deleted.
func (s *Scheduler) Remove(ctx context.Context, id domain.EndpointID, drop func(context.Context) error) error {
	s.mu.Lock()
	s.removing[id]++
	t, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.removing[id]--; s.removing[id] <= 0 {
			delete(s.removing, id)
		}
		s.mu.Unlock()
	}()

	if ok {
		t.cancel()
		select {
		case <-t.done:
		case <-ctx.Done():
			return fmt.Errorf("stop monitor %d: %w", id, ctx.Err())
		}
	}
	return drop(ctx)
}

// Ensure starts a task for e when monitoring is active and e is active.
func (s *Scheduler) Ensure(e domain.Endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || !e.IsActive {
		return false
	}
	return s.startLocked(e)
}

func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Running lists the endpoint ids with a live task, ascending.
func (s *Scheduler) Running() []domain.EndpointID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.EndpointID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// forget drops t from the task map unless it was already replaced.
func (s *Scheduler) forget(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[t.endpoint.ID]; ok && cur == t {
		delete(s.tasks, t.endpoint.ID)
	}
}

func (s *Scheduler) startLocked(e domain.Endpoint) bool {
	if _, ok := s.tasks[e.ID]; ok {
		return false
	}
	if s.removing[e.ID] > 0 {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{endpoint: e, cancel: cancel, done: make(chan struct{})}
	s.tasks[e.ID] = t
	go s.run(ctx, t)
	return true
}
