// Package actions — реестр доменных handler'ов, которые executor вызывает
// для шага по имени команды.
//
// Handler получает action в статусе running, пишет выходные данные в
// Results/Assets и, при необходимости, доменную стоимость в Usage.
// Возвращённая ошибка фейлит action и task.
package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/actionflow/internal/domain"
)

// Handler выполняет один шаг.
type Handler func(ctx context.Context, action *domain.Action) (*domain.Action, error)

// Registry — потокобезопасный реестр handler'ов по команде.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry создаёт реестр со встроенными командами http, delay, transform.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register("http", NewHTTPHandler(nil))
	r.Register("delay", Delay)
	r.Register("transform", Transform)
	return r
}

// Register добавляет или заменяет handler команды.
func (r *Registry) Register(command string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[command] = h
}

// Get возвращает handler команды или ErrUnknownCommand.
func (r *Registry) Get(command string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	return h, nil
}

// Commands возвращает отсортированный список зарегистрированных команд.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for cmd := range r.handlers {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// ResultKey — ключ, под которым шаг пишет результат в Results.
// Берётся из payload "result_key", иначе "<command>_<index>".
func ResultKey(cmd *domain.ActionCommand) string {
	if key := getString(cmd.Payload, "result_key", ""); key != "" {
		return key
	}
	return fmt.Sprintf("%s_%d", cmd.Command, cmd.Index)
}

func setResult(action *domain.Action, value any) {
	if action.Results == nil {
		action.Results = make(map[string]any)
	}
	action.Results[ResultKey(&action.Command)] = value
}

func getString(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

func getFloat(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}
