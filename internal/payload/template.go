// Package payload рендерит payload шага перед dispatch.
//
// Строковые значения payload — Go templates, которые видят данные task:
//
//	{{ .Prompt }}
//	{{ .Materials.doc }}
//	{{ .Results.http_0.body.id }}
//	{{ .Step.Index }} / {{ .Step.Total }}
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/actionflow/internal/domain"
)

// Context — данные, доступные шаблонам payload.
type Context struct {
	Prompt    string         `json:"prompt"`
	Materials map[string]any `json:"materials"`
	Results   map[string]any `json:"results"`
	Assets    map[string]any `json:"assets"`
	Step      StepContext    `json:"step"`
}

// StepContext — положение шага в task.
type StepContext struct {
	Command string `json:"command"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
}

// NewContext собирает контекст из task для шага cmd.
func NewContext(task *domain.Task, cmd *domain.ActionCommand) *Context {
	return &Context{
		Prompt:    task.Prompt,
		Materials: orEmpty(task.Materials),
		Results:   orEmpty(task.Results),
		Assets:    orEmpty(task.Assets),
		Step: StepContext{
			Command: cmd.Command,
			Index:   cmd.Index,
			Total:   len(task.Actions),
		},
	}
}

var funcs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},
	"fromJSON": func(s string) any {
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil
		}
		return out
	},
	// default "x" .Value — "x", если значение пустое
	"default": func(def, val any) any {
		if isEmpty(val) {
			return def
		}
		return val
	},
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if !isEmpty(v) {
				return v
			}
		}
		return nil
	},
	// get .Results "key" "fallback" — безопасный доступ к map
	"get": func(m map[string]any, key string, def any) any {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
		return def
	},
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"hasSuffix": strings.HasSuffix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// Render рендерит одну строку. Строки без "{{" возвращаются как есть.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("payload").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// RenderValue рекурсивно рендерит строки внутри map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = rendered
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil

	default:
		return value, nil
	}
}

// RenderCommand возвращает копию шага с отрендеренным payload.
func RenderCommand(cmd *domain.ActionCommand, ctx *Context) (*domain.ActionCommand, error) {
	out := cmd.Clone()
	if len(cmd.Payload) == 0 {
		return out, nil
	}

	rendered, err := RenderValue(cmd.Payload, ctx)
	if err != nil {
		return nil, err
	}
	out.Payload = rendered.(map[string]any)
	return out, nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
