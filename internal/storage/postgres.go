package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servicehub/vetted/internal/model"
)

// Postgres implements TaskStore and DecisionStore on a pgx connection pool.
// The decision table carries a unique constraint on task_id, making the
// one-terminal-decision-per-task invariant hold across processes.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a pooled store and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close shuts down the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// EnsureSchema creates the task and decision tables when absent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id            UUID PRIMARY KEY,
	agent_id      TEXT NOT NULL,
	task_type     TEXT NOT NULL,
	priority      TEXT NOT NULL,
	status        TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	target_kind   TEXT NOT NULL,
	payload       JSONB NOT NULL DEFAULT '{}',
	result        JSONB,
	error         TEXT NOT NULL DEFAULT '',
	attempts      INT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	processed_at  TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks (agent_id);

CREATE TABLE IF NOT EXISTS decisions (
	id                     UUID PRIMARY KEY,
	task_id                UUID NOT NULL UNIQUE,
	agent_id               TEXT NOT NULL,
	agent_type             TEXT NOT NULL,
	target_id              TEXT NOT NULL,
	target_kind            TEXT NOT NULL,
	value                  TEXT NOT NULL,
	confidence             DOUBLE PRECISION NOT NULL,
	risk                   DOUBLE PRECISION NOT NULL,
	reasoning              TEXT NOT NULL,
	evidence               JSONB NOT NULL DEFAULT '[]',
	human_review_required  BOOLEAN NOT NULL,
	human_resolved         BOOLEAN NOT NULL DEFAULT FALSE,
	human_overridden       BOOLEAN NOT NULL DEFAULT FALSE,
	processed_at           TIMESTAMPTZ NOT NULL,
	metadata               JSONB
);
CREATE INDEX IF NOT EXISTS idx_decisions_agent_time ON decisions (agent_id, processed_at);
`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// SaveTask implements TaskStore with an upsert keyed on task ID.
func (p *Postgres) SaveTask(ctx context.Context, task model.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("storage: marshal payload: %w", err)
	}
	var result []byte
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return fmt.Errorf("storage: marshal result: %w", err)
		}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO tasks (id, agent_id, task_type, priority, status, target_id, target_kind,
			payload, result, error, attempts, created_at, processed_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			processed_at = EXCLUDED.processed_at,
			completed_at = EXCLUDED.completed_at`,
		task.ID, task.AgentID, task.Type, task.Priority, task.Status,
		task.TargetID, task.TargetKind, payload, result, task.Error,
		task.Attempts, task.CreatedAt, task.ProcessedAt, task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask implements TaskStore.
func (p *Postgres) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, agent_id, task_type, priority, status, target_id, target_kind,
			payload, result, error, attempts, created_at, processed_at, completed_at
		FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: get task %s: %w", id, err)
	}
	return task, nil
}

// ListTasksByStatus implements TaskStore.
func (p *Postgres) ListTasksByStatus(ctx context.Context, status model.TaskStatus) ([]model.Task, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, agent_id, task_type, priority, status, target_id, target_kind,
			payload, result, error, attempts, created_at, processed_at, completed_at
		FROM tasks WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		task            model.Task
		payload, result []byte
	)
	err := row.Scan(&task.ID, &task.AgentID, &task.Type, &task.Priority, &task.Status,
		&task.TargetID, &task.TargetKind, &payload, &result, &task.Error,
		&task.Attempts, &task.CreatedAt, &task.ProcessedAt, &task.CompletedAt)
	if err != nil {
		return model.Task{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return model.Task{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &task.Result); err != nil {
			return model.Task{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return task, nil
}

// AppendDecision implements DecisionStore. The unique constraint on task_id
// turns a duplicate append into ErrDecisionExists.
func (p *Postgres) AppendDecision(ctx context.Context, d model.Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	evidence, err := json.Marshal(d.Evidence)
	if err != nil {
		return fmt.Errorf("storage: marshal evidence: %w", err)
	}
	var metadata []byte
	if d.Metadata != nil {
		if metadata, err = json.Marshal(d.Metadata); err != nil {
			return fmt.Errorf("storage: marshal metadata: %w", err)
		}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO decisions (id, task_id, agent_id, agent_type, target_id, target_kind,
			value, confidence, risk, reasoning, evidence, human_review_required,
			human_resolved, human_overridden, processed_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.TaskID, d.AgentID, d.AgentType, d.TargetID, d.Kind,
		d.Value, d.Confidence, d.Risk, d.Reasoning, evidence,
		d.HumanReviewRequired, d.HumanResolved, d.HumanOverridden, d.ProcessedAt, metadata,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%w: %s", ErrDecisionExists, d.TaskID)
	}
	if err != nil {
		return fmt.Errorf("storage: append decision for task %s: %w", d.TaskID, err)
	}
	return nil
}

// GetDecisionByTask implements DecisionStore.
func (p *Postgres) GetDecisionByTask(ctx context.Context, taskID uuid.UUID) (model.Decision, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, task_id, agent_id, agent_type, target_id, target_kind, value,
			confidence, risk, reasoning, evidence, human_review_required,
			human_resolved, human_overridden, processed_at, metadata
		FROM decisions WHERE task_id = $1`, taskID)
	d, err := scanDecision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Decision{}, fmt.Errorf("decision for task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: get decision for task %s: %w", taskID, err)
	}
	return d, nil
}

// ListDecisionsSince implements DecisionStore.
func (p *Postgres) ListDecisionsSince(ctx context.Context, agentID string, since time.Time) ([]model.Decision, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, task_id, agent_id, agent_type, target_id, target_kind, value,
			confidence, risk, reasoning, evidence, human_review_required,
			human_resolved, human_overridden, processed_at, metadata
		FROM decisions WHERE agent_id = $1 AND processed_at >= $2
		ORDER BY processed_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkResolved implements DecisionStore.
func (p *Postgres) MarkResolved(ctx context.Context, taskID uuid.UUID, overridden bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE decisions SET human_resolved = TRUE, human_overridden = $2 WHERE task_id = $1`,
		taskID, overridden)
	if err != nil {
		return fmt.Errorf("storage: mark resolved %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decision for task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

func scanDecision(row rowScanner) (model.Decision, error) {
	var (
		d                  model.Decision
		evidence, metadata []byte
	)
	err := row.Scan(&d.ID, &d.TaskID, &d.AgentID, &d.AgentType, &d.TargetID, &d.Kind,
		&d.Value, &d.Confidence, &d.Risk, &d.Reasoning, &evidence,
		&d.HumanReviewRequired, &d.HumanResolved, &d.HumanOverridden, &d.ProcessedAt, &metadata)
	if err != nil {
		return model.Decision{}, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &d.Evidence); err != nil {
			return model.Decision{}, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return model.Decision{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return d, nil
}
