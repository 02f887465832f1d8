package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/strandlabs/strand/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/strand.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, def *schema.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, tenant_id, name, version, status, steps, timeout_seconds, max_retries, retry_strategy, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.TenantID, def.Name, def.Version, string(def.Status), string(steps),
		def.TimeoutSeconds, def.MaxRetries, string(def.RetryStrategy),
		time.Now().UTC(), time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, tenantID, id string) (*schema.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, version, status, steps, timeout_seconds, max_retries, retry_strategy
		 FROM workflows WHERE id = ? AND tenant_id = ?`, id, tenantID)
	def, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, notFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, tenantID string) ([]*schema.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, version, status, steps, timeout_seconds, max_retries, retry_strategy
		 FROM workflows WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) UpdateWorkflowStatus(ctx context.Context, tenantID, id string, status schema.WorkflowStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND tenant_id = ?`,
		string(status), id, tenantID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var status, strategy, stepsJSON string
	if err := row.Scan(&def.ID, &def.TenantID, &def.Name, &def.Version, &status,
		&stepsJSON, &def.TimeoutSeconds, &def.MaxRetries, &strategy); err != nil {
		return nil, err
	}
	def.Status = schema.WorkflowStatus(status)
	def.RetryStrategy = schema.RetryStrategy(strategy)
	if err := json.Unmarshal([]byte(stepsJSON), &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return def, nil
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, ex *Execution) error {
	input, err := marshalMapOrDefault(ex.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	execCtx, err := marshalMapOrDefault(ex.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	output, err := marshalMapOrNil(ex.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, tenant_id, workflow_id, status, input_data, context, output_data, error_message, current_step, started_at, completed_at, duration_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.TenantID, ex.WorkflowID, string(ex.Status),
		string(input), string(execCtx), output,
		nullStr(ex.ErrorMessage), nullStr(ex.CurrentStep),
		timeOrNow(ex.StartedAt), nullTime(ex.CompletedAt), ex.DurationSeconds,
		timeOrNow(ex.CreatedAt), timeOrNow(ex.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, tenantID, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, workflow_id, status, input_data, context, output_data, error_message, current_step, started_at, completed_at, duration_seconds, created_at, updated_at
		 FROM workflow_executions WHERE id = ? AND tenant_id = ?`, id, tenantID)
	ex, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, notFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Context != nil {
		b, err := json.Marshal(update.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, string(b))
	}
	if update.OutputData != nil {
		b, err := json.Marshal(update.OutputData)
		if err != nil {
			return fmt.Errorf("marshal output_data: %w", err)
		}
		sets = append(sets, "output_data = ?")
		args = append(args, string(b))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, *update.CurrentStep)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if update.DurationSeconds != nil {
		sets = append(sets, "duration_seconds = ?")
		args = append(args, *update.DurationSeconds)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflow_executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, tenantID string, filter ExecutionFilter) ([]*Execution, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	query := `SELECT id, tenant_id, workflow_id, status, input_data, context, output_data, error_message, current_step, started_at, completed_at, duration_seconds, created_at, updated_at
		 FROM workflow_executions WHERE ` + strings.Join(where, " AND ") + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, ex)
	}
	return executions, rows.Err()
}

func scanExecution(row rowScanner) (*Execution, error) {
	ex := &Execution{}
	var (
		status                 string
		inputJSON, ctxJSON     string
		outputJSON             sql.NullString
		errMsg, currentStep    sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(&ex.ID, &ex.TenantID, &ex.WorkflowID, &status,
		&inputJSON, &ctxJSON, &outputJSON, &errMsg, &currentStep,
		&startedAt, &completedAt, &ex.DurationSeconds, &ex.CreatedAt, &ex.UpdatedAt); err != nil {
		return nil, err
	}
	ex.Status = schema.ExecutionStatus(status)
	if inputJSON != "" {
		_ = json.Unmarshal([]byte(inputJSON), &ex.InputData)
	}
	if ctxJSON != "" {
		_ = json.Unmarshal([]byte(ctxJSON), &ex.Context)
	}
	if outputJSON.Valid && outputJSON.String != "" {
		_ = json.Unmarshal([]byte(outputJSON.String), &ex.OutputData)
	}
	ex.ErrorMessage = errMsg.String
	ex.CurrentStep = currentStep.String
	if startedAt.Valid {
		ex.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		ex.CompletedAt = &completedAt.Time
	}
	return ex, nil
}

// --- Step executions ---

func (s *LibSQLStore) CreateStepExecution(ctx context.Context, se *StepExecution) error {
	input, err := marshalMapOrNil(se.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	output, err := marshalMapOrNil(se.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_step_executions (id, execution_id, step_name, step_type, status, input_data, output_data, error_message, retry_count, started_at, completed_at, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		se.ID, se.ExecutionID, se.StepName, string(se.StepType), string(se.Status),
		input, output, nullStr(se.ErrorMessage), se.RetryCount,
		timeOrNow(se.StartedAt), nullTime(se.CompletedAt), se.DurationSeconds,
	)
	return err
}

func (s *LibSQLStore) UpdateStepExecution(ctx context.Context, id string, update StepExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.OutputData != nil {
		b, err := json.Marshal(update.OutputData)
		if err != nil {
			return fmt.Errorf("marshal output_data: %w", err)
		}
		sets = append(sets, "output_data = ?")
		args = append(args, string(b))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *update.RetryCount)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if update.DurationSeconds != nil {
		sets = append(sets, "duration_seconds = ?")
		args = append(args, *update.DurationSeconds)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflow_step_executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step execution", id)
}

func (s *LibSQLStore) ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_name, step_type, status, input_data, output_data, error_message, retry_count, started_at, completed_at, duration_seconds
		 FROM workflow_step_executions WHERE execution_id = ? ORDER BY started_at ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*StepExecution
	for rows.Next() {
		se := &StepExecution{}
		var (
			stepType, status       string
			inputJSON, outputJSON  sql.NullString
			errMsg                 sql.NullString
			startedAt, completedAt sql.NullTime
		)
		if err := rows.Scan(&se.ID, &se.ExecutionID, &se.StepName, &stepType, &status,
			&inputJSON, &outputJSON, &errMsg, &se.RetryCount,
			&startedAt, &completedAt, &se.DurationSeconds); err != nil {
			return nil, err
		}
		se.StepType = schema.StepType(stepType)
		se.Status = schema.StepStatus(status)
		if inputJSON.Valid && inputJSON.String != "" {
			_ = json.Unmarshal([]byte(inputJSON.String), &se.InputData)
		}
		if outputJSON.Valid && outputJSON.String != "" {
			_ = json.Unmarshal([]byte(outputJSON.String), &se.OutputData)
		}
		se.ErrorMessage = errMsg.String
		if startedAt.Valid {
			se.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			se.CompletedAt = &completedAt.Time
		}
		steps = append(steps, se)
	}
	return steps, rows.Err()
}

// --- Agents ---

func (s *LibSQLStore) RegisterAgent(ctx context.Context, agent *Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, tenant_id, name, model, description, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, model=excluded.model, description=excluded.description`,
		agent.ID, agent.TenantID, agent.Name, nullStr(agent.Model), nullStr(agent.Description), timeOrNow(agent.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetAgent(ctx context.Context, tenantID, id string) (*Agent, error) {
	a := &Agent{}
	var model, description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, model, description, created_at FROM agents WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.Name, &model, &description, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("agent", id)
	}
	if err != nil {
		return nil, err
	}
	a.Model = model.String
	a.Description = description.String
	return a, nil
}

func (s *LibSQLStore) ListAgents(ctx context.Context, tenantID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, model, description, created_at FROM agents WHERE tenant_id = ? ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		var model, description sql.NullString
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &model, &description, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Model = model.String
		a.Description = description.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// --- Tool servers ---

func (s *LibSQLStore) RegisterToolServer(ctx context.Context, server *ToolServer) error {
	args, err := json.Marshal(server.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	env, err := json.Marshal(server.Env)
	if err != nil {
		return fmt.Errorf("marshal env: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_servers (id, tenant_id, name, command, args, env, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, command=excluded.command, args=excluded.args, env=excluded.env`,
		server.ID, server.TenantID, server.Name, server.Command, string(args), string(env), timeOrNow(server.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetToolServer(ctx context.Context, tenantID, id string) (*ToolServer, error) {
	srv := &ToolServer{}
	var args, env sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, command, args, env, created_at FROM tool_servers WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	).Scan(&srv.ID, &srv.TenantID, &srv.Name, &srv.Command, &args, &env, &srv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("tool server", id)
	}
	if err != nil {
		return nil, err
	}
	if args.Valid && args.String != "" {
		_ = json.Unmarshal([]byte(args.String), &srv.Args)
	}
	if env.Valid && env.String != "" {
		_ = json.Unmarshal([]byte(env.String), &srv.Env)
	}
	return srv, nil
}

func (s *LibSQLStore) ListToolServers(ctx context.Context, tenantID string) ([]*ToolServer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, command, args, env, created_at FROM tool_servers WHERE tenant_id = ? ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []*ToolServer
	for rows.Next() {
		srv := &ToolServer{}
		var args, env sql.NullString
		if err := rows.Scan(&srv.ID, &srv.TenantID, &srv.Name, &srv.Command, &args, &env, &srv.CreatedAt); err != nil {
			return nil, err
		}
		if args.Valid && args.String != "" {
			_ = json.Unmarshal([]byte(args.String), &srv.Args)
		}
		if env.Valid && env.String != "" {
			_ = json.Unmarshal([]byte(env.String), &srv.Env)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// --- Helpers ---

func notFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func marshalMapOrNil(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Store = (*LibSQLStore)(nil)
