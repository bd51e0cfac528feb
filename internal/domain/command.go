package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// ActionCommand — описание одного шага workflow.
//
// В JSON хранится плоско: {"command": "http", "index": 0, ...payload}.
// Index — позиция шага в снапшоте Task.Actions и единственный
// источник истины для "это последний шаг?".
type ActionCommand struct {
	// Command — имя обработчика в реестре actions.
	Command string `json:"command"`

	// Index — позиция шага (с 0).
	Index int `json:"index"`

	// Payload — остальные поля шага (конфигурация обработчика).
	Payload map[string]any `json:"-"`
}

// Ошибки валидации ActionCommand.
var (
	ErrEmptyCommand  = errors.New("command is empty")
	ErrNegativeIndex = errors.New("command index is negative")
)

// Validate проверяет, что шаг пригоден для dispatch.
func (c *ActionCommand) Validate() error {
	if c == nil || c.Command == "" {
		return ErrEmptyCommand
	}
	if c.Index < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeIndex, c.Index)
	}
	return nil
}

// Clone возвращает копию шага с собственной map payload.
func (c *ActionCommand) Clone() *ActionCommand {
	if c == nil {
		return nil
	}
	out := *c
	out.Payload = maps.Clone(c.Payload)
	return &out
}

// Get возвращает значение из payload.
func (c *ActionCommand) Get(key string) (any, bool) {
	if c == nil || c.Payload == nil {
		return nil, false
	}
	v, ok := c.Payload[key]
	return v, ok
}

// MarshalJSON сериализует шаг в плоский объект.
func (c ActionCommand) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Payload)+2)
	for k, v := range c.Payload {
		m[k] = v
	}
	m["command"] = c.Command
	m["index"] = c.Index
	return json.Marshal(m)
}

// UnmarshalJSON разбирает плоский объект, всё кроме command/index уходит в Payload.
func (c *ActionCommand) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	*c = ActionCommand{}
	if v, ok := m["command"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("command must be a string, got %T", v)
		}
		c.Command = s
		delete(m, "command")
	}
	if v, ok := m["index"]; ok {
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("index must be a number, got %T", v)
		}
		c.Index = int(f)
		delete(m, "index")
	}
	if len(m) > 0 {
		c.Payload = m
	}
	return nil
}

// NewCommands строит снапшот шагов, проставляя Index по позиции.
func NewCommands(steps ...ActionCommand) []ActionCommand {
	out := make([]ActionCommand, len(steps))
	for i, s := range steps {
		s.Index = i
		out[i] = s
	}
	return out
}
