package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/tickflow/pkg/api"
)

// DefaultMongoDatabase is used when NewMongoStore receives an empty name.
const DefaultMongoDatabase = "tickflow"

// MongoStore stores workflows, states and run logs in MongoDB.
//
// Live states carry a live_key field covered by a sparse unique index, so at
// most one active or waiting state exists per (tenant, workflow, entity).
// Times are stored with millisecond precision.
type MongoStore struct {
	db        *mongo.Database
	workflows *mongo.Collection
	states    *mongo.Collection
	runLogs   *mongo.Collection
}

var (
	_ WorkflowStore = (*MongoStore)(nil)
	_ StateStore    = (*MongoStore)(nil)
	_ RunLogStore   = (*MongoStore)(nil)
)

// NewMongoStore creates a Mongo-backed store and ensures its indexes.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}
	db := client.Database(dbName)
	s := &MongoStore{
		db:        db,
		workflows: db.Collection("workflows"),
		states:    db.Collection("execution_states"),
		runLogs:   db.Collection("run_logs"),
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the indexes the store relies on. It is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.workflows.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "is_active", Value: 1}},
	}); err != nil {
		return err
	}
	if _, err := s.states.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "live_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "status", Value: 1},
				{Key: "next_execution_time", Value: 1},
			},
		},
	}); err != nil {
		return err
	}
	_, err := s.runLogs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "state_id", Value: 1}, {Key: "ts", Value: 1}},
	})
	return err
}

// Persistence returns a bundle that uses s for every store and reads
// entities from the contacts and deals collections of the same database.
func (s *MongoStore) Persistence() Persistence {
	return Persistence{Workflows: s, States: s, RunLogs: s, Entities: NewMongoEntityReader(s.db)}
}

type mongoWorkflowDoc struct {
	Key         string           `bson:"_id"`
	ID          string           `bson:"id"`
	TenantID    string           `bson:"tenant_id"`
	Name        string           `bson:"name"`
	Description string           `bson:"description,omitempty"`
	IsActive    bool             `bson:"is_active"`
	Nodes       []api.Node       `bson:"nodes"`
	Connections []api.Connection `bson:"connections"`
	Stats       api.RunStats     `bson:"stats"`
	CreatedAt   time.Time        `bson:"created_at"`
	UpdatedAt   time.Time        `bson:"updated_at"`
}

func (d *mongoWorkflowDoc) toAPI() *api.WorkflowDefinition {
	return &api.WorkflowDefinition{
		ID:          d.ID,
		TenantID:    d.TenantID,
		Name:        d.Name,
		Description: d.Description,
		IsActive:    d.IsActive,
		Graph:       api.Graph{Nodes: d.Nodes, Connections: d.Connections},
		Stats:       d.Stats,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func (s *MongoStore) SaveWorkflow(ctx context.Context, def *api.WorkflowDefinition) error {
	update := bson.M{
		"$set": bson.M{
			"id":          def.ID,
			"tenant_id":   def.TenantID,
			"name":        def.Name,
			"description": def.Description,
			"is_active":   def.IsActive,
			"nodes":       def.Nodes,
			"connections": def.Connections,
			"updated_at":  def.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"stats":      api.RunStats{},
			"created_at": def.CreatedAt,
		},
	}
	_, err := s.workflows.UpdateByID(ctx, scopedKey(def.TenantID, def.ID), update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) GetWorkflow(ctx context.Context, tenantID, id string) (*api.WorkflowDefinition, error) {
	var doc mongoWorkflowDoc
	err := s.workflows.FindOne(ctx, bson.M{"_id": scopedKey(tenantID, id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, api.ErrWorkflowNotFound
		}
		return nil, err
	}
	return doc.toAPI(), nil
}

func (s *MongoStore) ListActiveWorkflows(ctx context.Context, tenantID string) ([]*api.WorkflowDefinition, error) {
	cur, err := s.workflows.Find(ctx,
		bson.M{"tenant_id": tenantID, "is_active": true},
		options.Find().SetSort(bson.D{{Key: "id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*api.WorkflowDefinition
	for cur.Next(ctx) {
		var doc mongoWorkflowDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAPI())
	}
	return out, cur.Err()
}

func (s *MongoStore) SetWorkflowActive(ctx context.Context, tenantID, id string, active bool, at time.Time) error {
	res, err := s.workflows.UpdateByID(ctx, scopedKey(tenantID, id), bson.M{
		"$set": bson.M{"is_active": active, "updated_at": at},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return api.ErrWorkflowNotFound
	}
	return nil
}

func (s *MongoStore) RecordRun(ctx context.Context, tenantID, id string, success bool, at time.Time) error {
	ok, failed := 1, 0
	if !success {
		ok, failed = 0, 1
	}
	res, err := s.workflows.UpdateByID(ctx, scopedKey(tenantID, id), bson.M{
		"$inc": bson.M{
			"stats.total_runs":      1,
			"stats.successful_runs": ok,
			"stats.failed_runs":     failed,
		},
		"$set": bson.M{"stats.last_run_at": at},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return api.ErrWorkflowNotFound
	}
	return nil
}

type mongoStateDoc struct {
	ID                string         `bson:"_id"`
	TenantID          string         `bson:"tenant_id"`
	WorkflowID        string         `bson:"workflow_id"`
	EntityType        string         `bson:"entity_type"`
	EntityID          string         `bson:"entity_id"`
	EntityEmail       string         `bson:"entity_email,omitempty"`
	CurrentNodeID     string         `bson:"current_node_id"`
	Status            string         `bson:"status"`
	NextExecutionTime time.Time      `bson:"next_execution_time"`
	NodesExecuted     []string       `bson:"nodes_executed"`
	Context           map[string]any `bson:"context,omitempty"`
	LastError         string         `bson:"last_error,omitempty"`
	Snapshot          *api.Graph     `bson:"snapshot,omitempty"`
	Version           int64          `bson:"version"`
	CreatedAt         time.Time      `bson:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at"`
	CompletedAt       *time.Time     `bson:"completed_at,omitempty"`

	// LiveKey is only present while the state is active or waiting.
	LiveKey string `bson:"live_key,omitempty"`
}

func liveKey(tenantID, workflowID, entityID string) string {
	return tenantID + ":" + workflowID + ":" + entityID
}

func toStateDoc(st *api.ExecutionState, version int64) mongoStateDoc {
	doc := mongoStateDoc{
		ID:                st.ID,
		TenantID:          st.TenantID,
		WorkflowID:        st.WorkflowID,
		EntityType:        string(st.EntityType),
		EntityID:          st.EntityID,
		EntityEmail:       st.EntityEmail,
		CurrentNodeID:     st.CurrentNodeID,
		Status:            string(st.Status),
		NextExecutionTime: st.NextExecutionTime,
		NodesExecuted:     st.NodesExecuted,
		Context:           st.Context,
		LastError:         st.LastError,
		Snapshot:          st.Snapshot,
		Version:           version,
		CreatedAt:         st.CreatedAt,
		UpdatedAt:         st.UpdatedAt,
		CompletedAt:       st.CompletedAt,
	}
	if st.Status.IsLive() {
		doc.LiveKey = liveKey(st.TenantID, st.WorkflowID, st.EntityID)
	}
	return doc
}

func (d *mongoStateDoc) toAPI() *api.ExecutionState {
	var stateCtx map[string]any
	if d.Context != nil {
		stateCtx, _ = normalizeBSON(d.Context).(map[string]any)
	}
	return &api.ExecutionState{
		ID:                d.ID,
		WorkflowID:        d.WorkflowID,
		TenantID:          d.TenantID,
		EntityType:        api.EntityType(d.EntityType),
		EntityID:          d.EntityID,
		EntityEmail:       d.EntityEmail,
		CurrentNodeID:     d.CurrentNodeID,
		Status:            api.Status(d.Status),
		NextExecutionTime: d.NextExecutionTime,
		NodesExecuted:     d.NodesExecuted,
		Context:           stateCtx,
		LastError:         d.LastError,
		Snapshot:          d.Snapshot,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		CompletedAt:       d.CompletedAt,
	}
}

// normalizeBSON converts the driver's generic document types into plain
// maps and slices so decoded contexts look like their JSON counterparts.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeBSON(e.Value)
		}
		return m
	case primitive.M:
		return normalizeBSON(map[string]any(t))
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeBSON(val)
		}
		return m
	case primitive.A:
		return normalizeBSON([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}

func (s *MongoStore) CreateState(ctx context.Context, st *api.ExecutionState) error {
	_, err := s.states.InsertOne(ctx, toStateDoc(st, st.Version))
	if mongo.IsDuplicateKeyError(err) {
		return api.ErrDuplicateLiveState
	}
	return err
}

func (s *MongoStore) UpdateState(ctx context.Context, st *api.ExecutionState) error {
	filter := bson.M{"_id": st.ID, "tenant_id": st.TenantID, "version": st.Version}
	res, err := s.states.ReplaceOne(ctx, filter, toStateDoc(st, st.Version+1))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return api.ErrDuplicateLiveState
		}
		return err
	}
	if res.MatchedCount == 0 {
		n, err := s.states.CountDocuments(ctx, bson.M{"_id": st.ID, "tenant_id": st.TenantID})
		if err != nil {
			return err
		}
		if n == 0 {
			return api.ErrStateNotFound
		}
		return api.ErrStateConflict
	}
	st.Version++
	return nil
}

func (s *MongoStore) findState(ctx context.Context, filter bson.M) (*api.ExecutionState, error) {
	var doc mongoStateDoc
	if err := s.states.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, api.ErrStateNotFound
		}
		return nil, err
	}
	return doc.toAPI(), nil
}

func (s *MongoStore) GetState(ctx context.Context, tenantID, id string) (*api.ExecutionState, error) {
	return s.findState(ctx, bson.M{"_id": id, "tenant_id": tenantID})
}

func (s *MongoStore) FindLiveState(ctx context.Context, tenantID, workflowID, entityID string) (*api.ExecutionState, error) {
	return s.findState(ctx, bson.M{"live_key": liveKey(tenantID, workflowID, entityID)})
}

func liveStatusFilter() bson.M {
	return bson.M{"$in": bson.A{string(api.StatusActive), string(api.StatusWaiting)}}
}

func (s *MongoStore) ListDueStates(ctx context.Context, tenantID string, now time.Time, limit int) ([]*api.ExecutionState, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "next_execution_time", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findStates(ctx, bson.M{
		"tenant_id":           tenantID,
		"status":              liveStatusFilter(),
		"next_execution_time": bson.M{"$lte": now},
	}, opts)
}

func (s *MongoStore) ListLiveStates(ctx context.Context, tenantID, workflowID string) ([]*api.ExecutionState, error) {
	return s.findStates(ctx, bson.M{
		"tenant_id":   tenantID,
		"workflow_id": workflowID,
		"status":      liveStatusFilter(),
	}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *MongoStore) findStates(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*api.ExecutionState, error) {
	cur, err := s.states.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*api.ExecutionState
	for cur.Next(ctx) {
		var doc mongoStateDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAPI())
	}
	return out, cur.Err()
}

func (s *MongoStore) ListTenants(ctx context.Context) ([]string, error) {
	vals, err := s.states.Distinct(ctx, "tenant_id", bson.M{"status": liveStatusFilter()})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if t, ok := v.(string); ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out, nil
}

type mongoRunLogDoc struct {
	ID         string    `bson:"_id"`
	TenantID   string    `bson:"tenant_id"`
	WorkflowID string    `bson:"workflow_id"`
	StateID    string    `bson:"state_id"`
	NodeID     string    `bson:"node_id"`
	NodeName   string    `bson:"node_name"`
	NodeType   string    `bson:"node_type"`
	Outcome    string    `bson:"outcome"`
	Message    string    `bson:"message,omitempty"`
	Error      string    `bson:"error,omitempty"`
	DurationNS int64     `bson:"duration_ns"`
	Timestamp  time.Time `bson:"ts"`
}

func (s *MongoStore) AppendRunLog(ctx context.Context, l api.RunLog) error {
	_, err := s.runLogs.InsertOne(ctx, mongoRunLogDoc{
		ID:         l.ID,
		TenantID:   l.TenantID,
		WorkflowID: l.WorkflowID,
		StateID:    l.StateID,
		NodeID:     l.NodeID,
		NodeName:   l.NodeName,
		NodeType:   string(l.NodeType),
		Outcome:    string(l.Outcome),
		Message:    l.Message,
		Error:      l.Error,
		DurationNS: int64(l.Duration),
		Timestamp:  l.Timestamp,
	})
	return err
}

func (s *MongoStore) ListRunLogs(ctx context.Context, tenantID, stateID string) ([]api.RunLog, error) {
	cur, err := s.runLogs.Find(ctx,
		bson.M{"tenant_id": tenantID, "state_id": stateID},
		options.Find().SetSort(bson.D{{Key: "ts", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.RunLog
	for cur.Next(ctx) {
		var doc mongoRunLogDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, api.RunLog{
			ID:         doc.ID,
			TenantID:   doc.TenantID,
			WorkflowID: doc.WorkflowID,
			StateID:    doc.StateID,
			NodeID:     doc.NodeID,
			NodeName:   doc.NodeName,
			NodeType:   api.NodeType(doc.NodeType),
			Outcome:    api.Outcome(doc.Outcome),
			Message:    doc.Message,
			Error:      doc.Error,
			Duration:   time.Duration(doc.DurationNS),
			Timestamp:  doc.Timestamp,
		})
	}
	return out, cur.Err()
}
