package guard

import (
	"context"

	"github.com/pkg/errors"
)

// ErrAlreadyRunning means another live instance holds the lock. Startup
// must abort: two engines would double-trade the same account.
var ErrAlreadyRunning = errors.New("another instance is already running")

// InstanceGuard serializes engine instances per account.
type InstanceGuard interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}
