// Package lock provides owner-scoped leases used to keep two schedulers
// from processing the same tenant at the same time.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotHeld is returned by Renew when the lease expired or belongs to
	// another owner.
	ErrNotHeld = errors.New("lease not held")

	errInvalidTTL = errors.New("ttl must be > 0")
)

// Locker grants time-limited, re-entrant leases on string keys.
type Locker interface {
	// TryAcquire takes the lease for owner, or refreshes it when owner
	// already holds it. It returns false when another owner holds it.
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Renew extends a lease held by owner.
	Renew(ctx context.Context, key, owner string, ttl time.Duration) error

	// Release drops the lease if owner holds it. Releasing a missing lease
	// is not an error.
	Release(ctx context.Context, key, owner string) error
}
