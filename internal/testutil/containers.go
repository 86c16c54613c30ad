// Package testutil starts throwaway backend containers for integration
// tests. Containers are shared by every test in a package binary and
// terminated by Terminate, which packages call from TestMain.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

var (
	cleanupMu  sync.Mutex
	containers []testcontainers.Container
)

func registerCleanup(c testcontainers.Container) {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	containers = append(containers, c)
}

func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
	if os.Getenv("TICKFLOW_SKIP_CONTAINERS") != "" {
		t.Skip("TICKFLOW_SKIP_CONTAINERS is set")
	}
}

// Terminate stops every container started by this package. It is safe to
// call when none were started.
func Terminate() {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	for _, c := range containers {
		_ = c.Terminate(context.Background()) // best-effort cleanup
	}
	containers = nil
}
