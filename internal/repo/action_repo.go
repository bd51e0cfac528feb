package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/actionflow/internal/domain"
)

// ActionRepo — репозиторий для работы с actions.
type ActionRepo struct {
	pool *pgxpool.Pool
}

// NewActionRepo создаёт новый ActionRepo.
func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool}
}

const actionColumns = `
	id, task_id, workflow_id, organization_id, project_id, command, status, error,
	prompt, materials, results, assets, usage, token, token_expires_at,
	started_at, finished_at, created_at, updated_at
`

// Create создаёт новый action.
func (r *ActionRepo) Create(ctx context.Context, a *domain.Action) error {
	commandJSON, err := json.Marshal(a.Command)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	materialsJSON, err := marshalMap(a.Materials)
	if err != nil {
		return fmt.Errorf("marshal materials: %w", err)
	}

	query := `
		INSERT INTO actions (id, task_id, workflow_id, organization_id, project_id, command,
		                     status, prompt, materials, results, assets, usage, token,
		                     token_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}', '{}', $10, $11, $12, $13, $14)
	`
	_, err = r.pool.Exec(ctx, query,
		a.ID,
		a.TaskID,
		a.WorkflowID,
		a.OrganizationID,
		a.ProjectID,
		commandJSON,
		a.Status,
		a.Prompt,
		materialsJSON,
		a.Usage,
		a.Token,
		a.TokenExpiresAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: action %s", ErrAlreadyExists, a.ID)
	}
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// GetByID возвращает action по ID.
func (r *ActionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE id = $1`
	a, err := scanAction(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListByTask возвращает все actions task в порядке создания.
func (r *ActionRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.Action, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM actions
		WHERE task_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list actions by task: %w", err)
	}
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

// Update сохраняет изменяемые поля action, если его статус всё ещё expect.
// Иначе возвращает ErrConflict.
func (r *ActionRepo) Update(ctx context.Context, a *domain.Action, expect domain.Status) error {
	errJSON, err := marshalOptional(a.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	resultsJSON, err := marshalMap(a.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	assetsJSON, err := marshalMap(a.Assets)
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}

	query := `
		UPDATE actions
		SET status = $3, error = $4, results = $5, assets = $6, usage = $7,
		    started_at = $8, finished_at = $9, updated_at = $10
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query,
		a.ID,
		expect,
		a.Status,
		errJSON,
		resultsJSON,
		assetsJSON,
		a.Usage,
		a.StartedAt,
		a.FinishedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: action %s is not %s", ErrConflict, a.ID, expect)
	}
	return nil
}

func scanAction(row pgx.Row) (*domain.Action, error) {
	var a domain.Action
	var commandJSON, errJSON, materialsJSON, resultsJSON, assetsJSON []byte

	err := row.Scan(
		&a.ID,
		&a.TaskID,
		&a.WorkflowID,
		&a.OrganizationID,
		&a.ProjectID,
		&commandJSON,
		&a.Status,
		&errJSON,
		&a.Prompt,
		&materialsJSON,
		&resultsJSON,
		&assetsJSON,
		&a.Usage,
		&a.Token,
		&a.TokenExpiresAt,
		&a.StartedAt,
		&a.FinishedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan action: %w", err)
	}

	if err := json.Unmarshal(commandJSON, &a.Command); err != nil {
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}
	if a.Error, err = unmarshalOptional[domain.ActionError](errJSON, "error"); err != nil {
		return nil, err
	}
	if a.Materials, err = unmarshalMap(materialsJSON, "materials"); err != nil {
		return nil, err
	}
	if a.Results, err = unmarshalMap(resultsJSON, "results"); err != nil {
		return nil, err
	}
	if a.Assets, err = unmarshalMap(assetsJSON, "assets"); err != nil {
		return nil, err
	}
	return &a, nil
}
