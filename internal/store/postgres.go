package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/neurospicy/routinekit/internal/models"
	"github.com/neurospicy/routinekit/internal/routine"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the maximum number of open connections.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the maximum number of idle connections.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is how long a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists routines in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL with the configured DSN and applies
// migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres store ready")
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) SaveTemplate(ctx context.Context, tmpl models.RoutineTemplate) error {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to encode template %s: %w", tmpl.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routine_templates (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		string(tmpl.ID), string(data))
	if err != nil {
		slog.Error("PostgresStore SaveTemplate failed", "error", err, "template_id", string(tmpl.ID))
		return fmt.Errorf("failed to save template %s: %w", tmpl.ID, err)
	}
	return nil
}

func (s *PostgresStore) FindTemplate(ctx context.Context, id models.TemplateID) (models.RoutineTemplate, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM routine_templates WHERE id = $1`, string(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RoutineTemplate{}, routine.ErrTemplateNotFound
	}
	if err != nil {
		slog.Error("PostgresStore FindTemplate failed", "error", err, "template_id", string(id))
		return models.RoutineTemplate{}, fmt.Errorf("failed to query template %s: %w", id, err)
	}
	var tmpl models.RoutineTemplate
	if err := json.Unmarshal([]byte(data), &tmpl); err != nil {
		return models.RoutineTemplate{}, fmt.Errorf("failed to decode template %s: %w", id, err)
	}
	return tmpl, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]models.RoutineTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM routine_templates`)
	if err != nil {
		slog.Error("PostgresStore ListTemplates failed", "error", err)
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []models.RoutineTemplate
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		var tmpl models.RoutineTemplate
		if err := json.Unmarshal([]byte(data), &tmpl); err != nil {
			return nil, fmt.Errorf("failed to decode template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

func (s *PostgresStore) SaveInstance(ctx context.Context, inst models.RoutineInstance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance %s: %w", inst.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routine_instances (id, owner, data) VALUES ($1, $2, $3)
		 ON CONFLICT (owner, id) DO UPDATE SET data = EXCLUDED.data`,
		string(inst.ID), string(inst.Owner), string(data))
	if err != nil {
		slog.Error("PostgresStore SaveInstance failed", "error", err, "instance_id", string(inst.ID))
		return fmt.Errorf("failed to save instance %s: %w", inst.ID, err)
	}
	return nil
}

func (s *PostgresStore) FindInstance(ctx context.Context, owner models.OwnerID, id models.InstanceID) (models.RoutineInstance, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM routine_instances WHERE owner = $1 AND id = $2`,
		string(owner), string(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RoutineInstance{}, routine.ErrInstanceNotFound
	}
	if err != nil {
		slog.Error("PostgresStore FindInstance failed", "error", err, "instance_id", string(id))
		return models.RoutineInstance{}, fmt.Errorf("failed to query instance %s: %w", id, err)
	}
	var inst models.RoutineInstance
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		return models.RoutineInstance{}, fmt.Errorf("failed to decode instance %s: %w", id, err)
	}
	return inst, nil
}

func (s *PostgresStore) ListInstancesByOwner(ctx context.Context, owner models.OwnerID) ([]models.RoutineInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM routine_instances WHERE owner = $1`, string(owner))
	if err != nil {
		slog.Error("PostgresStore ListInstancesByOwner failed", "error", err, "owner", string(owner))
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var instances []models.RoutineInstance
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan instance row: %w", err)
		}
		var inst models.RoutineInstance
		if err := json.Unmarshal([]byte(data), &inst); err != nil {
			return nil, fmt.Errorf("failed to decode instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *PostgresStore) ListAllInstances(ctx context.Context) ([]models.RoutineInstance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM routine_instances`)
	if err != nil {
		slog.Error("PostgresStore ListAllInstances failed", "error", err)
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var instances []models.RoutineInstance
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan instance row: %w", err)
		}
		var inst models.RoutineInstance
		if err := json.Unmarshal([]byte(data), &inst); err != nil {
			return nil, fmt.Errorf("failed to decode instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *PostgresStore) FindByTaskConcept(ctx context.Context, owner models.OwnerID, taskID string) ([]models.RoutineInstance, error) {
	instances, err := s.ListInstancesByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	var matches []models.RoutineInstance
	for _, inst := range instances {
		if _, ok := inst.ConceptForTask(taskID); ok {
			matches = append(matches, inst)
		}
	}
	return matches, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, owner, title, completed, completed_at, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, string(task.Owner), task.Title, task.Completed,
		nullableTime(task.CompletedAt), nullableTime(task.ExpiresAt), task.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateTask failed", "error", err, "task_id", task.ID)
		return models.Task{}, fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return task, nil
}

func (s *PostgresStore) FindTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, title, completed, completed_at, expires_at, created_at
		 FROM tasks WHERE owner = $1 AND id = $2`, string(owner), id)
	return scanTaskRow(row)
}

func (s *PostgresStore) CompleteTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = TRUE, completed_at = $1 WHERE owner = $2 AND id = $3 AND NOT completed`,
		nowUTC(), string(owner), id)
	if err != nil {
		slog.Error("PostgresStore CompleteTask failed", "error", err, "task_id", id)
		return models.Task{}, fmt.Errorf("failed to complete task %s: %w", id, err)
	}
	return s.FindTask(ctx, owner, id)
}

func (s *PostgresStore) RemoveTask(ctx context.Context, owner models.OwnerID, id string) (models.Task, error) {
	task, err := s.FindTask(ctx, owner, id)
	if err != nil {
		return models.Task{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE owner = $1 AND id = $2`, string(owner), id); err != nil {
		slog.Error("PostgresStore RemoveTask failed", "error", err, "task_id", id)
		return models.Task{}, fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return task, nil
}

func (s *PostgresStore) ListTasksByOwner(ctx context.Context, owner models.OwnerID) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, title, completed, completed_at, expires_at, created_at
		 FROM tasks WHERE owner = $1`, string(owner))
	if err != nil {
		slog.Error("PostgresStore ListTasksByOwner failed", "error", err, "owner", string(owner))
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) SaveClarification(ctx context.Context, c models.PendingClarification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_clarifications
		 (owner, instance_id, phase_id, step_id, question, parameter_key, parameter_type, asked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (owner, instance_id, step_id) DO UPDATE SET
		 question = EXCLUDED.question, parameter_key = EXCLUDED.parameter_key,
		 parameter_type = EXCLUDED.parameter_type, asked_at = EXCLUDED.asked_at`,
		string(c.Owner), string(c.InstanceID), string(c.PhaseID), string(c.StepID),
		c.Question, c.ParameterKey, string(c.ParameterType), c.AskedAt)
	if err != nil {
		slog.Error("PostgresStore SaveClarification failed", "error", err, "step_id", string(c.StepID))
		return fmt.Errorf("failed to save clarification for step %s: %w", c.StepID, err)
	}
	return nil
}

func (s *PostgresStore) ListClarificationsByOwner(ctx context.Context, owner models.OwnerID) ([]models.PendingClarification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner, instance_id, phase_id, step_id, question, parameter_key, parameter_type, asked_at
		 FROM pending_clarifications WHERE owner = $1 ORDER BY asked_at`, string(owner))
	if err != nil {
		slog.Error("PostgresStore ListClarificationsByOwner failed", "error", err, "owner", string(owner))
		return nil, fmt.Errorf("failed to query clarifications: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingClarification
	for rows.Next() {
		c, err := scanClarification(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, c)
	}
	return pending, rows.Err()
}

func (s *PostgresStore) RemoveClarification(ctx context.Context, owner models.OwnerID, instanceID models.InstanceID, stepID models.StepID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_clarifications WHERE owner = $1 AND instance_id = $2 AND step_id = $3`,
		string(owner), string(instanceID), string(stepID))
	if err != nil {
		slog.Error("PostgresStore RemoveClarification failed", "error", err, "step_id", string(stepID))
		return fmt.Errorf("failed to delete clarification for step %s: %w", stepID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return routine.ErrClarificationNotFound
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, entry models.RoutineEventLogEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode event metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routine_events (instance_id, owner, event, timestamp, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(entry.InstanceID), string(entry.Owner), string(entry.Event), entry.Timestamp, string(metadata))
	if err != nil {
		slog.Error("PostgresStore AppendEvent failed", "error", err, "instance_id", string(entry.InstanceID))
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, instanceID models.InstanceID) ([]models.RoutineEventLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, owner, event, timestamp, metadata
		 FROM routine_events WHERE instance_id = $1 ORDER BY id`, string(instanceID))
	if err != nil {
		slog.Error("PostgresStore ListEvents failed", "error", err, "instance_id", string(instanceID))
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []models.RoutineEventLogEntry
	for rows.Next() {
		entry, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
