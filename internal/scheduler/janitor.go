package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Pruner interface {
	PruneResults(ctx context.Context, before time.Time) (int64, error)
}

// Janitor deletes raw check results older than the retention period on a
// cron schedule. Summaries are untouched.
type Janitor struct {
	log       *zap.Logger
	pruner    Pruner
	retention time.Duration
	cron      *cron.Cron
	entryID   cron.EntryID
	now       func() time.Time
}

func NewJanitor(log *zap.Logger, pruner Pruner, retention time.Duration, schedule string) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("janitor: retention must be positive")
	}
	j := &Janitor{
		log:       log,
		pruner:    pruner,
		retention: retention,
		cron:      cron.New(),
		now:       time.Now,
	}
	id, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.PruneOnce(context.Background()); err != nil {
			j.log.Warn("retention_prune_error", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("janitor: schedule %q: %w", schedule, err)
	}
	j.entryID = id
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
	j.log.Info("retention_started",
		zap.Duration("retention", j.retention),
		zap.Time("next_run", j.cron.Entry(j.entryID).Next),
	)
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.PruneResults(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	j.log.Info("retention_pruned", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
