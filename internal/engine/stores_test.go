package engine

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/tickflow/internal/persistence"
	"github.com/petrijr/tickflow/pkg/api"
)

var errStoreDown = errors.New("store unavailable")

// inMemoryStates exposes only the StateStore methods so tests can override
// individual ones.
type inMemoryStates struct {
	*persistence.InMemoryStore
}

var _ persistence.StateStore = (*inMemoryStates)(nil)

func (f *failingDueStore) ListDueStates(ctx context.Context, tenantID string, now time.Time, limit int) ([]*api.ExecutionState, error) {
	if tenantID == f.failTenant {
		return nil, errStoreDown
	}
	return f.inMemoryStates.ListDueStates(ctx, tenantID, now, limit)
}

type brokenTenants struct {
	*inMemoryStates
}

func (b *brokenTenants) ListTenants(ctx context.Context) ([]string, error) {
	return nil, errStoreDown
}
