package engine

import (
	"sync"

	"github.com/petrijr/tickflow/pkg/api"
)

// actionRegistry maps action types to the handlers that perform them.
type actionRegistry struct {
	mu     sync.RWMutex
	byType map[api.ActionType]api.ActionHandler
}

func newActionRegistry() *actionRegistry {
	return &actionRegistry{
		byType: make(map[api.ActionType]api.ActionHandler),
	}
}

// Register replaces any handler previously registered for typ.
func (r *actionRegistry) Register(typ api.ActionType, h api.ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[typ] = h
}

func (r *actionRegistry) Get(typ api.ActionType) (api.ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byType[typ]
	return h, ok
}
