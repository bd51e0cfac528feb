package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Workflow — переиспользуемый шаблон упорядоченных шагов.
//
// Движок меняет только NextRunAt (scheduler). Создание и
// редактирование — забота внешнего API.
type Workflow struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ProjectID      uuid.UUID `json:"project_id"`

	// Repeat — политика повторного запуска.
	Repeat Repeat `json:"repeat"`

	// Actions — упорядоченный список шагов.
	Actions []ActionCommand `json:"actions"`

	// Prompt и Materials копируются в каждый task и action.
	Prompt    string         `json:"prompt,omitempty"`
	Materials map[string]any `json:"materials,omitempty"`

	// NextRunAt — когда scheduler создаст следующий task.
	// nil — workflow спит.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDue возвращает true, если workflow пора запускать.
func (w *Workflow) IsDue(now time.Time) bool {
	return w.NextRunAt != nil && !w.NextRunAt.After(now)
}

// Clone возвращает глубокую (по верхнему уровню) копию workflow.
func (w *Workflow) Clone() *Workflow {
	out := *w
	out.Actions = cloneCommands(w.Actions)
	out.Materials = maps.Clone(w.Materials)
	out.NextRunAt = cloneTime(w.NextRunAt)
	return &out
}

func cloneCommands(in []ActionCommand) []ActionCommand {
	if in == nil {
		return nil
	}
	out := slices.Clone(in)
	for i := range out {
		out[i].Payload = maps.Clone(in[i].Payload)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
