package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/probe"
)

// run loops check -> persist -> aggregate, then sleeps. Cancellation is only
// observed while sleeping.
func (s *Scheduler) run(ctx context.Context, t *task) {
	defer close(t.done)
	e := t.endpoint
	interval := s.intervalOf(e)

	s.log.Info("monitor_started",
		zap.Int64("endpoint_id", int64(e.ID)),
		zap.String("name", e.Name),
		zap.Duration("interval", interval),
	)

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		if gone := s.tick(context.WithoutCancel(ctx), e); gone {
			s.forget(t)
			s.log.Info("monitor_endpoint_gone", zap.Int64("endpoint_id", int64(e.ID)), zap.String("name", e.Name))
			return
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			s.log.Info("monitor_stopped", zap.Int64("endpoint_id", int64(e.ID)), zap.String("name", e.Name))
			return
		case <-timer.C:
		}
	}
}

// tick runs one check. gone reports that the endpoint no longer exists in
// the store, which ends the task.
func (s *Scheduler) tick(ctx context.Context, e domain.Endpoint) (gone bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("monitor_tick_panic",
				zap.Int64("endpoint_id", int64(e.ID)),
				zap.Any("panic", r),
			)
		}
	}()

	res := s.checker.Execute(ctx, e)
	if res.Outcome == domain.OutcomeConnectionError && s.diagnoser != nil {
		ds := s.diagnoser.Diagnose(ctx, probe.HostOf(e.URL))
		s.log.Info("dns_check",
			zap.String("domain", ds.Domain),
			zap.String("class", ds.Class),
			zap.Strings("ips", ds.IPs),
			zap.Strings("nameservers", ds.Nameservers),
			zap.String("cname", ds.CNAME),
			zap.String("resolver_error", ds.ResolverError),
		)
	}

	if err := s.results.AppendResult(ctx, &res); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true
		}
		s.log.Warn("monitor_append_error",
			zap.Int64("endpoint_id", int64(e.ID)),
			zap.String("url", e.URL),
			zap.Error(err),
		)
		return
	}
	status := 0
	if res.StatusCode != nil {
		status = *res.StatusCode
	}
	s.log.Debug("monitor_checked",
		zap.Int64("endpoint_id", int64(e.ID)),
		zap.String("url", e.URL),
		zap.Int("status", status),
		zap.Bool("success", res.Success),
		zap.Float64("response_time_ms", res.ResponseTime),
		zap.String("outcome", string(res.Outcome)),
		zap.String("error", res.Error),
	)

	if _, err := s.aggregator.Recompute(ctx, e.ID, e.Name); err != nil {
		s.log.Warn("monitor_recompute_error",
			zap.Int64("endpoint_id", int64(e.ID)),
			zap.Error(err),
		)
	}
	for _, o := range s.observers {
		o.Observe(ctx, e, res)
	}
	return false
}
