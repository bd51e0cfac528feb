package domain

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action — один отправленный на выполнение шаг task.
//
// Action создаётся Dispatcher'ом только для шага, который реально
// уходит воркеру. Меняет его Executor (и Reaper при принудительном fail).
type Action struct {
	ID      uuid.UUID     `json:"id"`
	Command ActionCommand `json:"command"`

	TaskID         uuid.UUID `json:"task_id"`
	WorkflowID     uuid.UUID `json:"workflow_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ProjectID      uuid.UUID `json:"project_id"`

	Status Status       `json:"status"`
	Error  *ActionError `json:"error,omitempty"`

	Prompt    string         `json:"prompt,omitempty"`
	Materials map[string]any `json:"materials,omitempty"`
	Results   map[string]any `json:"results,omitempty"`
	Assets    map[string]any `json:"assets,omitempty"`

	// Usage — стоимость этого шага (overhead + доменная часть).
	Usage float64 `json:"usage"`

	// Token — одноразовый capability-токен для воркера.
	Token          string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewAction материализует шаг task в action в статусе waiting.
func NewAction(task *Task, cmd *ActionCommand, token string, expiresAt, now time.Time) *Action {
	return &Action{
		ID:             uuid.New(),
		Command:        *cmd.Clone(),
		TaskID:         task.ID,
		WorkflowID:     task.WorkflowID,
		OrganizationID: task.OrganizationID,
		ProjectID:      task.ProjectID,
		Status:         StatusWaiting,
		Prompt:         task.Prompt,
		Materials:      maps.Clone(task.Materials),
		Results:        map[string]any{},
		Assets:         map[string]any{},
		Token:          token,
		TokenExpiresAt: expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Path возвращает путь action для work-item: tasks/<task>/actions/<action>.
func (a *Action) Path() string {
	return ActionPath(a.TaskID, a.ID)
}

// TokenExpired возвращает true, если токен истёк к моменту now.
func (a *Action) TokenExpired(now time.Time) bool {
	return now.After(a.TokenExpiresAt)
}

// MarkRunning захватывает action воркером.
func (a *Action) MarkRunning(now time.Time) {
	started := now
	a.Status = StatusRunning
	a.StartedAt = &started
	a.UpdatedAt = now
}

// Finish переводит action в финальный статус.
func (a *Action) Finish(status Status, actionErr *ActionError, now time.Time) {
	finished := now
	a.Status = status
	a.Error = actionErr
	a.FinishedAt = &finished
	a.UpdatedAt = now
}

// Clone возвращает копию action.
func (a *Action) Clone() *Action {
	out := *a
	out.Command = *a.Command.Clone()
	if a.Error != nil {
		e := *a.Error
		out.Error = &e
	}
	out.Materials = maps.Clone(a.Materials)
	out.Results = maps.Clone(a.Results)
	out.Assets = maps.Clone(a.Assets)
	out.StartedAt = cloneTime(a.StartedAt)
	out.FinishedAt = cloneTime(a.FinishedAt)
	return &out
}

// ErrInvalidActionPath — путь не вида tasks/<uuid>/actions/<uuid>.
var ErrInvalidActionPath = errors.New("invalid action path")

// ActionPath собирает путь action.
func ActionPath(taskID, actionID uuid.UUID) string {
	return "tasks/" + taskID.String() + "/actions/" + actionID.String()
}

// ParseActionPath разбирает путь action на task и action id.
func ParseActionPath(path string) (taskID, actionID uuid.UUID, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[0] != "tasks" || parts[2] != "actions" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidActionPath, path)
	}
	if taskID, err = uuid.Parse(parts[1]); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: task id: %v", ErrInvalidActionPath, err)
	}
	if actionID, err = uuid.Parse(parts[3]); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: action id: %v", ErrInvalidActionPath, err)
	}
	return taskID, actionID, nil
}
