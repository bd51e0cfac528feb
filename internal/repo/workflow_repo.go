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

// WorkflowRepo — репозиторий для работы с workflows.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

const workflowColumns = `
	id, organization_id, project_id, repeat, actions, prompt, materials,
	next_run_at, created_at, updated_at
`

// Create создаёт новый workflow.
func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.Workflow) error {
	actionsJSON, err := json.Marshal(wf.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	materialsJSON, err := marshalMap(wf.Materials)
	if err != nil {
		return fmt.Errorf("marshal materials: %w", err)
	}

	query := `
		INSERT INTO workflows (id, organization_id, project_id, repeat, actions, prompt,
		                       materials, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		wf.ID,
		wf.OrganizationID,
		wf.ProjectID,
		wf.Repeat,
		actionsJSON,
		wf.Prompt,
		materialsJSON,
		wf.NextRunAt,
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: workflow %s", ErrAlreadyExists, wf.ID)
	}
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	wf, err := scanWorkflow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wf, err
}

// ListDue возвращает workflows с next_run_at <= now, самые старые первыми.
func (r *WorkflowRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// SetNextRunAt обновляет (или очищает при nil) время следующего запуска.
func (r *WorkflowRepo) SetNextRunAt(ctx context.Context, id uuid.UUID, next *time.Time, now time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE workflows SET next_run_at = $2, updated_at = $3 WHERE id = $1
	`, id, next, now)
	if err != nil {
		return fmt.Errorf("update workflow next_run_at: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	var actionsJSON, materialsJSON []byte

	err := row.Scan(
		&wf.ID,
		&wf.OrganizationID,
		&wf.ProjectID,
		&wf.Repeat,
		&actionsJSON,
		&wf.Prompt,
		&materialsJSON,
		&wf.NextRunAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	if wf.Actions, err = unmarshalCommands(actionsJSON); err != nil {
		return nil, err
	}
	if wf.Materials, err = unmarshalMap(materialsJSON, "materials"); err != nil {
		return nil, err
	}
	return &wf, nil
}
