package probe

import (
	"context"

	"github.com/hamed0406/apimonitor/internal/domain"
)

// LimitChecker caps how many checks run at once across all monitors.
// Callers queue until a slot frees up.
type LimitChecker struct {
	Inner Checker
	sem   chan struct{}
}

func NewLimitChecker(inner Checker, max int) *LimitChecker {
	if max < 1 {
		max = 1
	}
	return &LimitChecker{Inner: inner, sem: make(chan struct{}, max)}
}

func (l *LimitChecker) Execute(ctx context.Context, e domain.Endpoint) domain.CheckResult {
	l.sem <- struct{}{}
	defer func() { <-l.sem }()
	return l.Inner.Execute(ctx, e)
}
