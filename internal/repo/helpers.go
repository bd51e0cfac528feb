package repo

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/actionflow/internal/domain"
)

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}

// marshalMap сериализует map в JSONB; nil остаётся NULL.
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// unmarshalMap разбирает JSONB в map; NULL даёт пустую map.
func unmarshalMap(data []byte, field string) (map[string]any, error) {
	m := map[string]any{}
	if data == nil {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", field, err)
	}
	return m, nil
}

// marshalOptional сериализует необязательное значение (nil → NULL).
func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// unmarshalOptional разбирает необязательное JSONB-значение.
func unmarshalOptional[T any](data []byte, field string) (*T, error) {
	if data == nil {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", field, err)
	}
	return &v, nil
}

// unmarshalCommands разбирает JSONB-снапшот шагов.
func unmarshalCommands(data []byte) ([]domain.ActionCommand, error) {
	var cmds []domain.ActionCommand
	if data == nil {
		return cmds, nil
	}
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return cmds, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
