package payload

import (
	"errors"
	"testing"

	"github.com/shaiso/actionflow/internal/domain"
)

func testContext() *Context {
	task := &domain.Task{
		Prompt:    "Write a poem",
		Materials: map[string]any{"topic": "Sea"},
		Results: map[string]any{
			"http_0": map[string]any{"status_code": 200, "body": map[string]any{"id": "abc"}},
		},
		Actions: domain.NewCommands(
			domain.ActionCommand{Command: "http"},
			domain.ActionCommand{Command: "notify"},
		),
	}
	return NewContext(task, &task.Actions[1])
}

func TestRender(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain text", "no templates here", "no templates here"},
		{"prompt", "{{ .Prompt }}!", "Write a poem!"},
		{"materials", "{{ lower .Materials.topic }}", "sea"},
		{"previous result", "id={{ .Results.http_0.body.id }}", "id=abc"},
		{"step position", "{{ .Step.Index }}/{{ .Step.Total }} {{ .Step.Command }}", "1/2 notify"},
		{"default on missing", `{{ default "none" .Materials.missing }}`, "none"},
		{"get with fallback", `{{ get .Results "http_1" "n/a" }}`, "n/a"},
		{"coalesce", `{{ coalesce .Materials.missing "" .Materials.topic }}`, "Sea"},
		{"json", `{{ json .Results.http_0.body }}`, `{"id":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.template, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRender_Errors(t *testing.T) {
	ctx := testContext()

	if _, err := Render("{{ .Prompt", ctx); !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
	if _, err := Render("{{ .Prompt.Missing }}", ctx); !errors.Is(err, ErrTemplateRender) {
		t.Errorf("expected ErrTemplateRender, got %v", err)
	}
}

func TestRenderCommand(t *testing.T) {
	ctx := testContext()
	cmd := &domain.ActionCommand{
		Command: "http",
		Index:   1,
		Payload: map[string]any{
			"url":     "https://api.example.com/items/{{ .Results.http_0.body.id }}",
			"retries": 3.0,
			"body": map[string]any{
				"text": "{{ .Prompt }}",
				"tags": []any{"{{ .Materials.topic }}", "static"},
			},
		},
	}

	out, err := RenderCommand(cmd, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Payload["url"] != "https://api.example.com/items/abc" {
		t.Errorf("unexpected url: %v", out.Payload["url"])
	}
	if out.Payload["retries"] != 3.0 {
		t.Errorf("non-string values must pass through, got %v", out.Payload["retries"])
	}
	body := out.Payload["body"].(map[string]any)
	if body["text"] != "Write a poem" {
		t.Errorf("unexpected body.text: %v", body["text"])
	}
	tags := body["tags"].([]any)
	if tags[0] != "Sea" || tags[1] != "static" {
		t.Errorf("unexpected tags: %v", tags)
	}

	// Исходный шаг не меняется
	if cmd.Payload["url"] == out.Payload["url"] {
		t.Error("source command payload was mutated")
	}
}

func TestRenderCommand_ErrorPath(t *testing.T) {
	cmd := &domain.ActionCommand{Command: "http", Payload: map[string]any{"body": map[string]any{"x": "{{ .Nope"}}}

	_, err := RenderCommand(cmd, testContext())
	if !errors.Is(err, ErrTemplateParse) {
		t.Fatalf("expected ErrTemplateParse, got %v", err)
	}
	if got := err.Error(); got[:7] != "body: x" {
		t.Errorf("error should carry the key path, got %q", got)
	}
}
