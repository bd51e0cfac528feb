package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/actionflow/internal/domain"
)

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `
	id, workflow_id, organization_id, project_id, status, actions,
	current_action_id, next_action, error, prompt, materials, results, assets,
	usage, idempotency_key, version, started_at, finished_at, created_at, updated_at
`

// Create создаёт новый task.
// Повтор с тем же idempotency_key возвращает ErrAlreadyExists.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	actionsJSON, err := json.Marshal(task.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	nextJSON, err := marshalOptional(task.NextAction)
	if err != nil {
		return fmt.Errorf("marshal next_action: %w", err)
	}
	materialsJSON, err := marshalMap(task.Materials)
	if err != nil {
		return fmt.Errorf("marshal materials: %w", err)
	}

	query := `
		INSERT INTO tasks (id, workflow_id, organization_id, project_id, status, actions,
		                   next_action, prompt, materials, results, assets, usage,
		                   idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}', '{}', $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		task.ID,
		task.WorkflowID,
		task.OrganizationID,
		task.ProjectID,
		task.Status,
		actionsJSON,
		nextJSON,
		task.Prompt,
		materialsJSON,
		task.Usage,
		nullString(task.IdempotencyKey),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: task idempotency key %q", ErrAlreadyExists, task.IdempotencyKey)
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// ListWaiting возвращает tasks в статусе waiting, давно не обновлявшиеся первыми.
func (r *TaskRepo) ListWaiting(ctx context.Context, limit int) ([]domain.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = 'waiting'
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
}

// ListStale возвращает running tasks с updated_at раньше before.
func (r *TaskRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = 'running' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, before, limit)
}

// Update сохраняет изменяемые поля task, если её статус всё ещё expect и
// версия совпадает с прочитанной (task.Version). Иначе возвращает
// ErrConflict. При успехе task.Version увеличивается.
func (r *TaskRepo) Update(ctx context.Context, task *domain.Task, expect domain.Status) error {
	nextJSON, err := marshalOptional(task.NextAction)
	if err != nil {
		return fmt.Errorf("marshal next_action: %w", err)
	}
	errJSON, err := marshalOptional(task.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	resultsJSON, err := marshalMap(task.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	assetsJSON, err := marshalMap(task.Assets)
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = $3, current_action_id = $4, next_action = $5, error = $6,
		    results = $7, assets = $8, usage = $9, started_at = $10,
		    finished_at = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND status = $2 AND version = $13
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		expect,
		task.Status,
		nullUUID(task.CurrentActionID),
		nextJSON,
		errJSON,
		resultsJSON,
		assetsJSON,
		task.Usage,
		task.StartedAt,
		task.FinishedAt,
		task.UpdatedAt,
		task.Version,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s is not %s at version %d", ErrConflict, task.ID, expect, task.Version)
	}
	task.Version++
	return nil
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var actionsJSON, nextJSON, errJSON, materialsJSON, resultsJSON, assetsJSON []byte
	var idempKey *string

	err := row.Scan(
		&task.ID,
		&task.WorkflowID,
		&task.OrganizationID,
		&task.ProjectID,
		&task.Status,
		&actionsJSON,
		&task.CurrentActionID,
		&nextJSON,
		&errJSON,
		&task.Prompt,
		&materialsJSON,
		&resultsJSON,
		&assetsJSON,
		&task.Usage,
		&idempKey,
		&task.Version,
		&task.StartedAt,
		&task.FinishedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if task.Actions, err = unmarshalCommands(actionsJSON); err != nil {
		return nil, err
	}
	if task.NextAction, err = unmarshalOptional[domain.ActionCommand](nextJSON, "next_action"); err != nil {
		return nil, err
	}
	if task.Error, err = unmarshalOptional[domain.ActionError](errJSON, "error"); err != nil {
		return nil, err
	}
	if task.Materials, err = unmarshalMap(materialsJSON, "materials"); err != nil {
		return nil, err
	}
	if task.Results, err = unmarshalMap(resultsJSON, "results"); err != nil {
		return nil, err
	}
	if task.Assets, err = unmarshalMap(assetsJSON, "assets"); err != nil {
		return nil, err
	}
	if idempKey != nil {
		task.IdempotencyKey = *idempKey
	}
	return &task, nil
}
