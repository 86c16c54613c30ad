package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/tickflow/pkg/api"
)

// sqlDialect captures what differs between the SQL backends.
type sqlDialect struct {
	name              string
	rebind            func(query string) string
	isUniqueViolation func(err error) bool
}

// questionMarks leaves queries untouched (SQLite).
func questionMarks(q string) string { return q }

// dollarPlaceholders rewrites ? placeholders to $1, $2, ... (PostgreSQL).
func dollarPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		tenant_id       TEXT NOT NULL,
		id              TEXT NOT NULL,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		is_active       BOOLEAN NOT NULL,
		nodes           TEXT NOT NULL,
		connections     TEXT NOT NULL,
		total_runs      BIGINT NOT NULL DEFAULT 0,
		successful_runs BIGINT NOT NULL DEFAULT 0,
		failed_runs     BIGINT NOT NULL DEFAULT 0,
		last_run_at     BIGINT NOT NULL DEFAULT 0,
		created_at      BIGINT NOT NULL,
		updated_at      BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS execution_states (
		id                  TEXT PRIMARY KEY,
		tenant_id           TEXT NOT NULL,
		workflow_id         TEXT NOT NULL,
		entity_type         TEXT NOT NULL,
		entity_id           TEXT NOT NULL,
		entity_email        TEXT NOT NULL DEFAULT '',
		current_node_id     TEXT NOT NULL,
		status              TEXT NOT NULL,
		next_execution_time BIGINT NOT NULL,
		nodes_executed      TEXT NOT NULL,
		context             TEXT NOT NULL,
		last_error          TEXT NOT NULL DEFAULT '',
		snapshot            TEXT NOT NULL DEFAULT '',
		version             BIGINT NOT NULL DEFAULT 0,
		created_at          BIGINT NOT NULL,
		updated_at          BIGINT NOT NULL,
		completed_at        BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS execution_states_due
		ON execution_states (tenant_id, status, next_execution_time)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS execution_states_live
		ON execution_states (tenant_id, workflow_id, entity_id)
		WHERE status IN ('active', 'waiting')`,
	`CREATE TABLE IF NOT EXISTS run_logs (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		state_id    TEXT NOT NULL,
		node_id     TEXT NOT NULL,
		node_name   TEXT NOT NULL,
		node_type   TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		duration    BIGINT NOT NULL DEFAULT 0,
		ts          BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS run_logs_state ON run_logs (tenant_id, state_id, ts)`,
}

// sqlStore implements every store interface on top of database/sql.
type sqlStore struct {
	db *sql.DB
	d  sqlDialect
}

var (
	_ WorkflowStore = (*sqlStore)(nil)
	_ StateStore    = (*sqlStore)(nil)
	_ RunLogStore   = (*sqlStore)(nil)
)

func newSQLStore(ctx context.Context, db *sql.DB, d sqlDialect) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s schema: %w", d.name, err)
		}
	}
	return s, nil
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(q), args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const workflowColumns = `tenant_id, id, name, description, is_active, nodes, connections,
	total_runs, successful_runs, failed_runs, last_run_at, created_at, updated_at`

func scanWorkflow(row rowScanner) (*api.WorkflowDefinition, error) {
	var (
		def                       api.WorkflowDefinition
		nodes, conns              string
		lastRun, created, updated int64
	)
	if err := row.Scan(&def.TenantID, &def.ID, &def.Name, &def.Description, &def.IsActive, &nodes, &conns,
		&def.Stats.TotalRuns, &def.Stats.SuccessfulRuns, &def.Stats.FailedRuns, &lastRun, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if def.Nodes, err = DecodeJSON[[]api.Node](nodes); err != nil {
		return nil, fmt.Errorf("decode nodes of workflow %s: %w", def.ID, err)
	}
	if def.Connections, err = DecodeJSON[[]api.Connection](conns); err != nil {
		return nil, fmt.Errorf("decode connections of workflow %s: %w", def.ID, err)
	}
	def.Stats.LastRunAt = optionalFromUnixNano(lastRun)
	def.CreatedAt = fromUnixNano(created)
	def.UpdatedAt = fromUnixNano(updated)
	return &def, nil
}

func (s *sqlStore) SaveWorkflow(ctx context.Context, def *api.WorkflowDefinition) error {
	nodes, err := EncodeJSON(def.Nodes)
	if err != nil {
		return err
	}
	conns, err := EncodeJSON(def.Connections)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO workflows (tenant_id, id, name, description, is_active, nodes, connections, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name        = excluded.name,
			description = excluded.description,
			is_active   = excluded.is_active,
			nodes       = excluded.nodes,
			connections = excluded.connections,
			updated_at  = excluded.updated_at`,
		def.TenantID, def.ID, def.Name, def.Description, def.IsActive, nodes, conns,
		unixNano(def.CreatedAt), unixNano(def.UpdatedAt),
	)
	return err
}

func (s *sqlStore) GetWorkflow(ctx context.Context, tenantID, id string) (*api.WorkflowDefinition, error) {
	row := s.queryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE tenant_id = ? AND id = ?`, tenantID, id)
	def, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrWorkflowNotFound
	}
	return def, err
}

func (s *sqlStore) ListActiveWorkflows(ctx context.Context, tenantID string) ([]*api.WorkflowDefinition, error) {
	rows, err := s.query(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE tenant_id = ? AND is_active = ? ORDER BY id`, tenantID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.WorkflowDefinition
	for rows.Next() {
		def, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetWorkflowActive(ctx context.Context, tenantID, id string, active bool, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE workflows SET is_active = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		active, unixNano(at), tenantID, id)
	if err != nil {
		return err
	}
	return requireAffected(res, api.ErrWorkflowNotFound)
}

func (s *sqlStore) RecordRun(ctx context.Context, tenantID, id string, success bool, at time.Time) error {
	var ok, failed int64 = 1, 0
	if !success {
		ok, failed = 0, 1
	}
	res, err := s.exec(ctx, `
		UPDATE workflows
		SET total_runs      = total_runs + 1,
		    successful_runs = successful_runs + ?,
		    failed_runs     = failed_runs + ?,
		    last_run_at     = ?
		WHERE tenant_id = ? AND id = ?`,
		ok, failed, unixNano(at), tenantID, id)
	if err != nil {
		return err
	}
	return requireAffected(res, api.ErrWorkflowNotFound)
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

const stateColumns = `id, tenant_id, workflow_id, entity_type, entity_id, entity_email, current_node_id, status,
	next_execution_time, nodes_executed, context, last_error, snapshot, version, created_at, updated_at, completed_at`

type encodedState struct {
	nodes, context, snapshot string
}

func encodeState(st *api.ExecutionState) (encodedState, error) {
	var (
		e   encodedState
		err error
	)
	if e.nodes, err = EncodeJSON(st.NodesExecuted); err != nil {
		return e, err
	}
	if e.context, err = EncodeJSON(st.Context); err != nil {
		return e, err
	}
	if st.Snapshot != nil {
		if e.snapshot, err = EncodeJSON(st.Snapshot); err != nil {
			return e, err
		}
	}
	return e, nil
}

func scanState(row rowScanner) (*api.ExecutionState, error) {
	var (
		st                                api.ExecutionState
		entityType, status                string
		next, created, updated, completed int64
		nodes, stateCtx, snapshot         string
	)
	if err := row.Scan(&st.ID, &st.TenantID, &st.WorkflowID, &entityType, &st.EntityID, &st.EntityEmail,
		&st.CurrentNodeID, &status, &next, &nodes, &stateCtx, &st.LastError, &snapshot, &st.Version,
		&created, &updated, &completed); err != nil {
		return nil, err
	}
	st.EntityType = api.EntityType(entityType)
	st.Status = api.Status(status)
	st.NextExecutionTime = fromUnixNano(next)
	st.CreatedAt = fromUnixNano(created)
	st.UpdatedAt = fromUnixNano(updated)
	st.CompletedAt = optionalFromUnixNano(completed)

	var err error
	if st.NodesExecuted, err = DecodeJSON[[]string](nodes); err != nil {
		return nil, fmt.Errorf("decode nodes_executed of state %s: %w", st.ID, err)
	}
	if st.Context, err = DecodeJSON[map[string]any](stateCtx); err != nil {
		return nil, fmt.Errorf("decode context of state %s: %w", st.ID, err)
	}
	if st.Snapshot, err = DecodeJSON[*api.Graph](snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot of state %s: %w", st.ID, err)
	}
	return &st, nil
}

func (s *sqlStore) CreateState(ctx context.Context, st *api.ExecutionState) error {
	enc, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO execution_states (`+stateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.TenantID, st.WorkflowID, string(st.EntityType), st.EntityID, st.EntityEmail,
		st.CurrentNodeID, string(st.Status), unixNano(st.NextExecutionTime), enc.nodes, enc.context,
		st.LastError, enc.snapshot, st.Version, unixNano(st.CreatedAt), unixNano(st.UpdatedAt),
		optionalUnixNano(st.CompletedAt),
	)
	if err != nil && s.d.isUniqueViolation(err) {
		return api.ErrDuplicateLiveState
	}
	return err
}

func (s *sqlStore) UpdateState(ctx context.Context, st *api.ExecutionState) error {
	enc, err := encodeState(st)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		UPDATE execution_states
		SET workflow_id         = ?,
		    entity_type         = ?,
		    entity_id           = ?,
		    entity_email        = ?,
		    current_node_id     = ?,
		    status              = ?,
		    next_execution_time = ?,
		    nodes_executed      = ?,
		    context             = ?,
		    last_error          = ?,
		    snapshot            = ?,
		    version             = version + 1,
		    updated_at          = ?,
		    completed_at        = ?
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		st.WorkflowID, string(st.EntityType), st.EntityID, st.EntityEmail, st.CurrentNodeID,
		string(st.Status), unixNano(st.NextExecutionTime), enc.nodes, enc.context, st.LastError,
		enc.snapshot, unixNano(st.UpdatedAt), optionalUnixNano(st.CompletedAt),
		st.TenantID, st.ID, st.Version,
	)
	if err != nil {
		if s.d.isUniqueViolation(err) {
			return api.ErrDuplicateLiveState
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := s.queryRow(ctx, `SELECT 1 FROM execution_states WHERE tenant_id = ? AND id = ?`, st.TenantID, st.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return api.ErrStateNotFound
		}
		if err != nil {
			return err
		}
		return api.ErrStateConflict
	}
	st.Version++
	return nil
}

func (s *sqlStore) GetState(ctx context.Context, tenantID, id string) (*api.ExecutionState, error) {
	st, err := scanState(s.queryRow(ctx, `SELECT `+stateColumns+` FROM execution_states WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrStateNotFound
	}
	return st, err
}

func (s *sqlStore) FindLiveState(ctx context.Context, tenantID, workflowID, entityID string) (*api.ExecutionState, error) {
	st, err := scanState(s.queryRow(ctx, `SELECT `+stateColumns+` FROM execution_states
		WHERE tenant_id = ? AND workflow_id = ? AND entity_id = ? AND status IN (?, ?)
		LIMIT 1`,
		tenantID, workflowID, entityID, string(api.StatusActive), string(api.StatusWaiting)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrStateNotFound
	}
	return st, err
}

func (s *sqlStore) ListDueStates(ctx context.Context, tenantID string, now time.Time, limit int) ([]*api.ExecutionState, error) {
	q := `SELECT ` + stateColumns + ` FROM execution_states
		WHERE tenant_id = ? AND status IN (?, ?) AND next_execution_time <= ?
		ORDER BY next_execution_time, id`
	args := []any{tenantID, string(api.StatusActive), string(api.StatusWaiting), unixNano(now)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryStates(ctx, q, args...)
}

func (s *sqlStore) ListLiveStates(ctx context.Context, tenantID, workflowID string) ([]*api.ExecutionState, error) {
	return s.queryStates(ctx, `SELECT `+stateColumns+` FROM execution_states
		WHERE tenant_id = ? AND workflow_id = ? AND status IN (?, ?)
		ORDER BY id`,
		tenantID, workflowID, string(api.StatusActive), string(api.StatusWaiting))
}

func (s *sqlStore) queryStates(ctx context.Context, q string, args ...any) ([]*api.ExecutionState, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.ExecutionState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT tenant_id FROM execution_states WHERE status IN (?, ?) ORDER BY tenant_id`,
		string(api.StatusActive), string(api.StatusWaiting))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) AppendRunLog(ctx context.Context, l api.RunLog) error {
	_, err := s.exec(ctx, `
		INSERT INTO run_logs (id, tenant_id, workflow_id, state_id, node_id, node_name, node_type, outcome, message, error, duration, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.WorkflowID, l.StateID, l.NodeID, l.NodeName, string(l.NodeType),
		string(l.Outcome), l.Message, l.Error, int64(l.Duration), unixNano(l.Timestamp),
	)
	return err
}

func (s *sqlStore) ListRunLogs(ctx context.Context, tenantID, stateID string) ([]api.RunLog, error) {
	rows, err := s.query(ctx, `
		SELECT id, tenant_id, workflow_id, state_id, node_id, node_name, node_type, outcome, message, error, duration, ts
		FROM run_logs WHERE tenant_id = ? AND state_id = ? ORDER BY ts, id`, tenantID, stateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.RunLog
	for rows.Next() {
		var (
			l                 api.RunLog
			nodeType, outcome string
			duration, ts      int64
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &l.WorkflowID, &l.StateID, &l.NodeID, &l.NodeName,
			&nodeType, &outcome, &l.Message, &l.Error, &duration, &ts); err != nil {
			return nil, err
		}
		l.NodeType = api.NodeType(nodeType)
		l.Outcome = api.Outcome(outcome)
		l.Duration = time.Duration(duration)
		l.Timestamp = fromUnixNano(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}
