// Package memrepo — in-memory реализация репозиториев.
//
// Семантика совпадает с Postgres-репозиториями из internal/repo:
// те же ошибки (ErrNotFound, ErrAlreadyExists, ErrConflict), условные
// обновления по статусу и транзакционный Apply для учёта расходов.
// Используется в тестах и для локального прогона без БД.
package memrepo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo"
)

// Store хранит все коллекции под одним мьютексом.
type Store struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*domain.Workflow
	tasks     map[uuid.UUID]*domain.Task
	actions   map[uuid.UUID]*domain.Action
	usage     map[usageKey]*domain.UsageRecord
	billing   map[uuid.UUID]*domain.Billing
	idemp     map[string]uuid.UUID
}

type usageKey struct {
	org   uuid.UUID
	month string
}

// New создаёт пустой Store.
func New() *Store {
	return &Store{
		workflows: make(map[uuid.UUID]*domain.Workflow),
		tasks:     make(map[uuid.UUID]*domain.Task),
		actions:   make(map[uuid.UUID]*domain.Action),
		usage:     make(map[usageKey]*domain.UsageRecord),
		billing:   make(map[uuid.UUID]*domain.Billing),
		idemp:     make(map[string]uuid.UUID),
	}
}

// Workflows возвращает репозиторий workflows.
func (s *Store) Workflows() *WorkflowRepo { return &WorkflowRepo{s: s} }

// Tasks возвращает репозиторий tasks.
func (s *Store) Tasks() *TaskRepo { return &TaskRepo{s: s} }

// Actions возвращает репозиторий actions.
func (s *Store) Actions() *ActionRepo { return &ActionRepo{s: s} }

// Usage возвращает репозиторий учёта расходов.
func (s *Store) Usage() *UsageRepo { return &UsageRepo{s: s} }

// Organizations возвращает репозиторий тарифных данных.
func (s *Store) Organizations() *OrganizationRepo { return &OrganizationRepo{s: s} }

// --- Workflows ---

// WorkflowRepo — in-memory аналог repo.WorkflowRepo.
type WorkflowRepo struct{ s *Store }

func (r *WorkflowRepo) Create(_ context.Context, wf *domain.Workflow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.workflows[wf.ID]; ok {
		return fmt.Errorf("%w: workflow %s", repo.ErrAlreadyExists, wf.ID)
	}
	r.s.workflows[wf.ID] = wf.Clone()
	return nil
}

func (r *WorkflowRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wf, ok := r.s.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return wf.Clone(), nil
}

func (r *WorkflowRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Workflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []domain.Workflow
	for _, wf := range r.s.workflows {
		if wf.IsDue(now) {
			due = append(due, *wf.Clone())
		}
	}
	slices.SortFunc(due, func(a, b domain.Workflow) int {
		return a.NextRunAt.Compare(*b.NextRunAt)
	})
	return truncate(due, limit), nil
}

func (r *WorkflowRepo) SetNextRunAt(_ context.Context, id uuid.UUID, next *time.Time, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wf, ok := r.s.workflows[id]
	if !ok {
		return repo.ErrNotFound
	}
	if next != nil {
		v := *next
		next = &v
	}
	wf.NextRunAt = next
	wf.UpdatedAt = now
	return nil
}

// --- Tasks ---

// TaskRepo — in-memory аналог repo.TaskRepo.
type TaskRepo struct{ s *Store }

func (r *TaskRepo) Create(_ context.Context, task *domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[task.ID]; ok {
		return fmt.Errorf("%w: task %s", repo.ErrAlreadyExists, task.ID)
	}
	if task.IdempotencyKey != "" {
		if _, ok := r.s.idemp[task.IdempotencyKey]; ok {
			return fmt.Errorf("%w: task idempotency key %q", repo.ErrAlreadyExists, task.IdempotencyKey)
		}
		r.s.idemp[task.IdempotencyKey] = task.ID
	}
	r.s.tasks[task.ID] = task.Clone()
	return nil
}

func (r *TaskRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	task, ok := r.s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return task.Clone(), nil
}

func (r *TaskRepo) ListWaiting(_ context.Context, limit int) ([]domain.Task, error) {
	return r.list(limit, func(t *domain.Task) bool {
		return t.Status == domain.StatusWaiting
	}), nil
}

func (r *TaskRepo) ListStale(_ context.Context, before time.Time, limit int) ([]domain.Task, error) {
	return r.list(limit, func(t *domain.Task) bool {
		return t.Status == domain.StatusRunning && t.UpdatedAt.Before(before)
	}), nil
}

func (r *TaskRepo) Update(_ context.Context, task *domain.Task, expect domain.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tasks[task.ID]
	if !ok || cur.Status != expect || cur.Version != task.Version {
		return fmt.Errorf("%w: task %s is not %s at version %d", repo.ErrConflict, task.ID, expect, task.Version)
	}
	task.Version++
	r.s.tasks[task.ID] = task.Clone()
	return nil
}

func (r *TaskRepo) list(limit int, match func(*domain.Task) bool) []domain.Task {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Task
	for _, t := range r.s.tasks {
		if match(t) {
			out = append(out, *t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Task) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	return truncate(out, limit)
}

// --- Actions ---

// ActionRepo — in-memory аналог repo.ActionRepo.
type ActionRepo struct{ s *Store }

func (r *ActionRepo) Create(_ context.Context, a *domain.Action) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.actions[a.ID]; ok {
		return fmt.Errorf("%w: action %s", repo.ErrAlreadyExists, a.ID)
	}
	r.s.actions[a.ID] = a.Clone()
	return nil
}

func (r *ActionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.actions[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *ActionRepo) ListByTask(_ context.Context, taskID uuid.UUID) ([]domain.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.Action
	for _, a := range r.s.actions {
		if a.TaskID == taskID {
			out = append(out, *a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Action) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Command.Index, b.Command.Index))
	})
	return out, nil
}

func (r *ActionRepo) Update(_ context.Context, a *domain.Action, expect domain.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.actions[a.ID]
	if !ok || cur.Status != expect {
		return fmt.Errorf("%w: action %s is not %s", repo.ErrConflict, a.ID, expect)
	}
	r.s.actions[a.ID] = a.Clone()
	return nil
}

// --- Usage ---

// UsageRepo — in-memory аналог repo.UsageRepo.
type UsageRepo struct{ s *Store }

func (r *UsageRepo) Get(_ context.Context, orgID uuid.UUID, month string) (*domain.UsageRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.usage[usageKey{orgID, month}]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *rec
	return &out, nil
}

// Apply держит мьютекс Store на всё время fn, что эквивалентно
// SELECT ... FOR UPDATE в Postgres-реализации.
func (r *UsageRepo) Apply(_ context.Context, orgID uuid.UUID, month string, fn func(rec *domain.UsageRecord) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := usageKey{orgID, month}
	rec := domain.UsageRecord{OrganizationID: orgID, Month: month}
	if cur, ok := r.s.usage[key]; ok {
		rec = *cur
	}
	if err := fn(&rec); err != nil {
		return err
	}
	r.s.usage[key] = &rec
	return nil
}

// --- Organizations ---

// OrganizationRepo — in-memory аналог repo.OrganizationRepo.
type OrganizationRepo struct{ s *Store }

func (r *OrganizationRepo) GetBilling(_ context.Context, orgID uuid.UUID) (*domain.Billing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.billing[orgID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *b
	return &out, nil
}

// SetBilling задаёт тарифные данные организации.
func (r *OrganizationRepo) SetBilling(orgID uuid.UUID, b *domain.Billing) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.billing[orgID] = b
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
