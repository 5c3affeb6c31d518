package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
)

func TestJanitor_PruneOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := &domain.Endpoint{Name: "j", URL: "https://j"}
	require.NoError(t, store.CreateEndpoint(ctx, e))

	now := time.Now().UTC()
	require.NoError(t, store.AppendResult(ctx, &domain.CheckResult{EndpointID: e.ID, Timestamp: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, store.AppendResult(ctx, &domain.CheckResult{EndpointID: e.ID, Timestamp: now.Add(-time.Hour)}))

	j, err := NewJanitor(zap.NewNop(), store, 7*24*time.Hour, "@every 1h")
	require.NoError(t, err)
	j.now = func() time.Time { return now }

	n, err := j.PruneOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rs, err := store.ResultsSince(ctx, e.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, rs, 1)

	j.Start()
	j.Stop()
}

func TestJanitor_RejectsBadInput(t *testing.T) {
	_, err := NewJanitor(zap.NewNop(), memory.New(), 0, "@every 1h")
	assert.Error(t, err)

	_, err = NewJanitor(zap.NewNop(), memory.New(), time.Hour, "not a schedule")
	assert.Error(t, err)
}
