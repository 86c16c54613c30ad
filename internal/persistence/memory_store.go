package persistence

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/tickflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of every store
// interface backed by maps. Values are copied on the way in and out so
// callers never share memory with the store.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*api.WorkflowDefinition
	states    map[string]*api.ExecutionState
	runLogs   []api.RunLog
	entities  map[string]*api.Entity
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows: make(map[string]*api.WorkflowDefinition),
		states:    make(map[string]*api.ExecutionState),
		entities:  make(map[string]*api.Entity),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ WorkflowStore    = (*InMemoryStore)(nil)
	_ StateStore       = (*InMemoryStore)(nil)
	_ RunLogStore      = (*InMemoryStore)(nil)
	_ api.EntityReader = (*InMemoryStore)(nil)
)

// Persistence returns a bundle that uses s for every store.
func (s *InMemoryStore) Persistence() Persistence {
	return Persistence{Workflows: s, States: s, RunLogs: s, Entities: s}
}

func scopedKey(tenantID, id string) string {
	return tenantID + "\x00" + id
}

func cloneWorkflow(def *api.WorkflowDefinition) *api.WorkflowDefinition {
	out := *def
	out.Graph = def.Graph.Clone()
	if def.Stats.LastRunAt != nil {
		t := *def.Stats.LastRunAt
		out.Stats.LastRunAt = &t
	}
	return &out
}

func (s *InMemoryStore) SaveWorkflow(ctx context.Context, def *api.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopedKey(def.TenantID, def.ID)
	stored := cloneWorkflow(def)
	if prev, ok := s.workflows[key]; ok {
		stored.Stats = prev.Stats
		stored.CreatedAt = prev.CreatedAt
	}
	s.workflows[key] = stored
	return nil
}

func (s *InMemoryStore) GetWorkflow(ctx context.Context, tenantID, id string) (*api.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.workflows[scopedKey(tenantID, id)]
	if !ok {
		return nil, api.ErrWorkflowNotFound
	}
	return cloneWorkflow(def), nil
}

func (s *InMemoryStore) ListActiveWorkflows(ctx context.Context, tenantID string) ([]*api.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.WorkflowDefinition
	for _, def := range s.workflows {
		if def.TenantID == tenantID && def.IsActive {
			out = append(out, cloneWorkflow(def))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SetWorkflowActive(ctx context.Context, tenantID, id string, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.workflows[scopedKey(tenantID, id)]
	if !ok {
		return api.ErrWorkflowNotFound
	}
	def.IsActive = active
	def.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) RecordRun(ctx context.Context, tenantID, id string, success bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.workflows[scopedKey(tenantID, id)]
	if !ok {
		return api.ErrWorkflowNotFound
	}
	def.Stats.TotalRuns++
	if success {
		def.Stats.SuccessfulRuns++
	} else {
		def.Stats.FailedRuns++
	}
	t := at
	def.Stats.LastRunAt = &t
	return nil
}

func (s *InMemoryStore) liveFor(tenantID, workflowID, entityID string) *api.ExecutionState {
	for _, st := range s.states {
		if st.TenantID == tenantID && st.WorkflowID == workflowID && st.EntityID == entityID && st.Status.IsLive() {
			return st
		}
	}
	return nil
}

func (s *InMemoryStore) CreateState(ctx context.Context, st *api.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Status.IsLive() && s.liveFor(st.TenantID, st.WorkflowID, st.EntityID) != nil {
		return api.ErrDuplicateLiveState
	}
	s.states[st.ID] = st.Clone()
	return nil
}

func (s *InMemoryStore) UpdateState(ctx context.Context, st *api.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.states[st.ID]
	if !ok || cur.TenantID != st.TenantID {
		return api.ErrStateNotFound
	}
	if cur.Version != st.Version {
		return api.ErrStateConflict
	}
	if st.Status.IsLive() && !cur.Status.IsLive() {
		if other := s.liveFor(st.TenantID, st.WorkflowID, st.EntityID); other != nil && other.ID != st.ID {
			return api.ErrDuplicateLiveState
		}
	}
	st.Version++
	s.states[st.ID] = st.Clone()
	return nil
}

func (s *InMemoryStore) GetState(ctx context.Context, tenantID, id string) (*api.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok || st.TenantID != tenantID {
		return nil, api.ErrStateNotFound
	}
	return st.Clone(), nil
}

func (s *InMemoryStore) FindLiveState(ctx context.Context, tenantID, workflowID, entityID string) (*api.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st := s.liveFor(tenantID, workflowID, entityID); st != nil {
		return st.Clone(), nil
	}
	return nil, api.ErrStateNotFound
}

func (s *InMemoryStore) ListDueStates(ctx context.Context, tenantID string, now time.Time, limit int) ([]*api.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*api.ExecutionState
	for _, st := range s.states {
		if st.TenantID == tenantID && st.Status.IsLive() && !st.NextExecutionTime.After(now) {
			due = append(due, st.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextExecutionTime.Equal(due[j].NextExecutionTime) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextExecutionTime.Before(due[j].NextExecutionTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) ListLiveStates(ctx context.Context, tenantID, workflowID string) ([]*api.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.ExecutionState
	for _, st := range s.states {
		if st.TenantID == tenantID && st.WorkflowID == workflowID && st.Status.IsLive() {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) ListTenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, st := range s.states {
		if st.Status.IsLive() && !seen[st.TenantID] {
			seen[st.TenantID] = true
			out = append(out, st.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) AppendRunLog(ctx context.Context, log api.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runLogs = append(s.runLogs, log)
	return nil
}

func (s *InMemoryStore) ListRunLogs(ctx context.Context, tenantID, stateID string) ([]api.RunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.RunLog
	for _, l := range s.runLogs {
		if l.TenantID == tenantID && l.StateID == stateID {
			out = append(out, l)
		}
	}
	return out, nil
}

// PutEntity stores the entity returned by GetEntity.
func (s *InMemoryStore) PutEntity(e api.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[scopedKey(e.TenantID, string(e.Type)+":"+e.ID)] = cloneEntity(&e)
}

func cloneEntity(e *api.Entity) *api.Entity {
	out := *e
	out.Tags = slices.Clone(e.Tags)
	out.Fields = maps.Clone(e.Fields)
	out.OpenedMessages = slices.Clone(e.OpenedMessages)
	out.ClickedMessages = slices.Clone(e.ClickedMessages)
	return &out
}

func (s *InMemoryStore) GetEntity(ctx context.Context, tenantID string, typ api.EntityType, id string) (*api.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[scopedKey(tenantID, string(typ)+":"+id)]
	if !ok {
		return nil, api.ErrEntityNotFound
	}
	return cloneEntity(e), nil
}
