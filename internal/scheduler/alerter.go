package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/notify"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
}

type alertRecord struct {
	up         bool
	lastDownAt time.Time // last DOWN notification, drives the cooldown
}

// Alerter notifies on up/down transitions. It keeps the last known state per
// endpoint in memory; a restart treats the next result as the first one.
type Alerter struct {
	notifier notify.Notifier
	cfg      AlerterConfig
	log      *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	state map[domain.EndpointID]alertRecord
}

func NewAlerter(notifier notify.Notifier, cfg AlerterConfig, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		state:    make(map[domain.EndpointID]alertRecord),
	}
}

func (a *Alerter) Observe(ctx context.Context, e domain.Endpoint, r domain.CheckResult) {
	now := a.now()

	a.mu.Lock()
	rec, seen := a.state[e.ID]
	stateChanged := !seen || rec.up != r.Success

	// Cooldown only matters for DOWN alerts.
	cooled := rec.lastDownAt.IsZero() || now.Sub(rec.lastDownAt) >= a.cfg.Cooldown

	downAlert := stateChanged && !r.Success && cooled
	// A first healthy result is not a recovery.
	recoveryAlert := stateChanged && seen && r.Success && a.cfg.AlertOnRecovery

	switch {
	case downAlert:
		a.state[e.ID] = alertRecord{up: false, lastDownAt: now}
	case stateChanged:
		a.state[e.ID] = alertRecord{up: r.Success, lastDownAt: rec.lastDownAt}
	}
	a.mu.Unlock()

	if !downAlert && !recoveryAlert {
		return
	}

	title := "🔴 Endpoint DOWN"
	if r.Success {
		title = "🟢 Endpoint RECOVERED"
	}
	httpTxt := "n/a"
	if r.StatusCode != nil {
		httpTxt = fmt.Sprintf("%d", *r.StatusCode)
	}
	reason := r.Error
	if reason == "" {
		reason = string(r.Outcome)
	}
	text := fmt.Sprintf(
		"Endpoint: %s\nURL: %s %s\nHTTP: %s\nLatency: %.0f ms\nReason: %s\nChecked: %s",
		e.Name, e.Method, e.URL, httpTxt, r.ResponseTime, reason, r.Timestamp.Format(time.RFC3339),
	)

	if err := a.notifier.Send(ctx, title, text); err != nil {
		a.log.Warn("alert_send_error", zap.Int64("endpoint_id", int64(e.ID)), zap.Error(err))
		return
	}
	a.log.Info("alert_sent", zap.Int64("endpoint_id", int64(e.ID)), zap.Bool("up", r.Success))
}

// Forget drops the state kept for id.
func (a *Alerter) Forget(id domain.EndpointID) {
	a.mu.Lock()
	delete(a.state, id)
	a.mu.Unlock()
}
