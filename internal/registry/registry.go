// Package registry validates and manages monitored endpoints, keeping the
// scheduler in step with activation changes and deletions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// Monitor is the part of the scheduler the registry drives.
type Monitor interface {
	Ensure(e domain.Endpoint) bool
	StopOne(ctx context.Context, id domain.EndpointID) (bool, error)
	Remove(ctx context.Context, id domain.EndpointID, drop func(context.Context) error) error
}

// Registration is the caller-facing input. Nil fields take defaults.
type Registration struct {
	Name           string            `json:"name" yaml:"name"`
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method,omitempty" yaml:"method"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers"`
	Body           *string           `json:"body,omitempty" yaml:"body"`
	ExpectedStatus *int              `json:"expected_status,omitempty" yaml:"expected_status"`
	CheckInterval  *int              `json:"check_interval,omitempty" yaml:"check_interval"`
}

var methods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

type Registry struct {
	store           repo.EndpointStore
	monitor         Monitor
	log             *zap.Logger
	defaultInterval int
}

func New(store repo.EndpointStore, monitor Monitor, log *zap.Logger, defaultInterval int) *Registry {
	if defaultInterval <= 0 {
		defaultInterval = domain.DefaultCheckInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, monitor: monitor, log: log, defaultInterval: defaultInterval}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidEndpoint, fmt.Sprintf(format, args...))
}

// Build validates reg and returns the endpoint it describes, defaults applied.
func (r *Registry) Build(reg Registration) (*domain.Endpoint, error) {
	name := strings.TrimSpace(reg.Name)
	rawURL := strings.TrimSpace(reg.URL)
	if name == "" || rawURL == "" {
		return nil, invalid("name and url are required")
	}
	if strings.Contains(name, ".") {
		return nil, invalid("name %q must not contain '.'", name)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalid("url %q must be an absolute http(s) URL", rawURL)
	}

	e := &domain.Endpoint{
		Name:           name,
		URL:            rawURL,
		Method:         domain.DefaultMethod,
		Body:           reg.Body,
		ExpectedStatus: domain.DefaultExpectedStatus,
		CheckInterval:  r.defaultInterval,
		IsActive:       true,
	}
	if m := strings.ToUpper(strings.TrimSpace(reg.Method)); m != "" {
		if !methods[m] {
			return nil, invalid("unsupported method %q", reg.Method)
		}
		e.Method = m
	}
	if reg.ExpectedStatus != nil {
		if *reg.ExpectedStatus < 100 || *reg.ExpectedStatus > 599 {
			return nil, invalid("expected_status %d out of range", *reg.ExpectedStatus)
		}
		e.ExpectedStatus = *reg.ExpectedStatus
	}
	if reg.CheckInterval != nil {
		if *reg.CheckInterval <= 0 {
			return nil, invalid("check_interval must be positive")
		}
		e.CheckInterval = *reg.CheckInterval
	}
	if len(reg.Headers) > 0 {
		e.Headers = make(map[string]string, len(reg.Headers))
		for k, v := range reg.Headers {
			if !httpguts.ValidHeaderFieldName(k) {
				return nil, invalid("invalid header name %q", k)
			}
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, invalid("invalid value for header %q", k)
			}
			e.Headers[k] = v
		}
	}
	return e, nil
}

// Register validates and stores a new endpoint. When monitoring is running
// the endpoint starts being checked right away.
func (r *Registry) Register(ctx context.Context, reg Registration) (*domain.Endpoint, error) {
	e, err := r.Build(reg)
	if err != nil {
		return nil, err
	}
	if err := r.store.CreateEndpoint(ctx, e); err != nil {
		return nil, err
	}
	r.log.Info("endpoint_registered",
		zap.Int64("endpoint_id", int64(e.ID)),
		zap.String("name", e.Name),
		zap.String("method", e.Method),
		zap.String("url", e.URL),
	)
	if r.monitor != nil && r.monitor.Ensure(*e) {
		r.log.Info("monitor_attached", zap.Int64("endpoint_id", int64(e.ID)))
	}
	return e, nil
}

func (r *Registry) List(ctx context.Context) ([]domain.Endpoint, error) {
	return r.store.ListEndpoints(ctx)
}

func (r *Registry) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	return r.store.ListActiveEndpoints(ctx)
}

func (r *Registry) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	return r.store.GetEndpoint(ctx, id)
}

// SetActive toggles an endpoint. Deactivating stops its task; activating
// starts one if monitoring is running.
func (r *Registry) SetActive(ctx context.Context, id domain.EndpointID, active bool) (*domain.Endpoint, error) {
	if err := r.store.SetEndpointActive(ctx, id, active); err != nil {
		return nil, err
	}
	e, err := r.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.monitor != nil {
		if active {
			r.monitor.Ensure(*e)
		} else if _, err := r.monitor.StopOne(ctx, id); err != nil {
			return nil, err
		}
	}
	r.log.Info("endpoint_active_changed", zap.Int64("endpoint_id", int64(id)), zap.Bool("active", active))
	return e, nil
}

// Delete stops the endpoint's task, waits for it to exit, then removes the
// endpoint with its results and summary. The monitor refuses to restart the
// id until the rows are gone.
func (r *Registry) Delete(ctx context.Context, id domain.EndpointID) error {
	var err error
	if r.monitor != nil {
		err = r.monitor.Remove(ctx, id, func(ctx context.Context) error {
			return r.store.DeleteEndpoint(ctx, id)
		})
	} else {
		err = r.store.DeleteEndpoint(ctx, id)
	}
	if err != nil {
		return err
	}
	r.log.Info("endpoint_deleted", zap.Int64("endpoint_id", int64(id)))
	return nil
}

// Seed registers regs when no endpoints exist yet. Invalid or duplicate
// seeds are logged and skipped.
func (r *Registry) Seed(ctx context.Context, regs []Registration) (int, error) {
	existing, err := r.store.ListEndpoints(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	n := 0
	for _, reg := range regs {
		if _, err := r.Register(ctx, reg); err != nil {
			if errors.Is(err, domain.ErrInvalidEndpoint) || errors.Is(err, domain.ErrDuplicateName) {
				r.log.Warn("seed_skipped", zap.String("name", reg.Name), zap.Error(err))
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
