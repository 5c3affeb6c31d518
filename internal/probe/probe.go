// Package probe runs single checks against registered endpoints.
package probe

import (
	"context"

	"github.com/hamed0406/apimonitor/internal/domain"
)

// Checker performs exactly one check for an endpoint. Failures are reported
// in the returned result, never as an error.
type Checker interface {
	Execute(ctx context.Context, e domain.Endpoint) domain.CheckResult
}
