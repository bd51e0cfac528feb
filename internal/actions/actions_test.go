package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/actionflow/internal/domain"
)

func newAction(command string, index int, payload map[string]any) *domain.Action {
	return &domain.Action{
		ID:      uuid.New(),
		Command: domain.ActionCommand{Command: command, Index: index, Payload: payload},
		Status:  domain.StatusRunning,
		Results: map[string]any{},
		Assets:  map[string]any{},
	}
}

// --- Registry ---

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()

	got := r.Commands()
	want := []string{"delay", "http", "transform"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestRegistry_UnknownCommand(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("send-email")
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestRegistry_RegisterOverrides(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("http", func(_ context.Context, a *domain.Action) (*domain.Action, error) {
		called = true
		return a, nil
	})

	h, err := r.Get("http")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h(context.Background(), newAction("http", 0, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("registered handler was not used")
	}
}

func TestResultKey(t *testing.T) {
	if got := ResultKey(&domain.ActionCommand{Command: "http", Index: 2}); got != "http_2" {
		t.Errorf("expected http_2, got %s", got)
	}
	cmd := &domain.ActionCommand{Command: "http", Payload: map[string]any{"result_key": "profile"}}
	if got := ResultKey(cmd); got != "profile" {
		t.Errorf("expected profile, got %s", got)
	}
}

// --- http ---

func TestHTTP_PostWithBody(t *testing.T) {
	var received map[string]any
	var contentType, auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("X-Custom", "v")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "123"})
	}))
	defer server.Close()

	action := newAction("http", 0, map[string]any{
		"method":  "POST",
		"url":     server.URL,
		"body":    map[string]any{"name": "test"},
		"headers": map[string]any{"Authorization": "Bearer t"},
		"cost":    2.5,
	})

	out, err := NewHTTPHandler(server.Client())(context.Background(), action)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received["name"] != "test" {
		t.Errorf("server should receive body, got %v", received)
	}
	if contentType != "application/json" || auth != "Bearer t" {
		t.Errorf("unexpected headers: %q %q", contentType, auth)
	}

	res, ok := out.Results["http_0"].(map[string]any)
	if !ok {
		t.Fatalf("result not written under http_0: %v", out.Results)
	}
	if res["status_code"] != http.StatusCreated {
		t.Errorf("expected 201, got %v", res["status_code"])
	}
	if body := res["body"].(map[string]any); body["id"] != "123" {
		t.Errorf("expected parsed JSON body, got %v", res["body"])
	}
	if headers := res["headers"].(map[string]any); headers["X-Custom"] != "v" {
		t.Errorf("expected X-Custom header, got %v", headers)
	}
	if out.Usage != 2.5 {
		t.Errorf("expected usage 2.5, got %v", out.Usage)
	}
}

func TestHTTP_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	action := newAction("http", 1, map[string]any{"url": server.URL})
	out, err := NewHTTPHandler(nil)(context.Background(), action)

	if !errors.Is(err, ErrHTTPRequest) {
		t.Fatalf("expected ErrHTTPRequest, got %v", err)
	}
	// Результат ответа сохраняется даже при ошибке
	if out == nil || out.Results["http_1"].(map[string]any)["body"] != "upstream down" {
		t.Errorf("expected response body in results, got %+v", out)
	}
}

func TestHTTP_MissingURL(t *testing.T) {
	_, err := NewHTTPHandler(nil)(context.Background(), newAction("http", 0, map[string]any{}))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestHTTP_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	action := newAction("http", 0, map[string]any{"url": server.URL, "timeout_sec": 0.05})
	_, err := NewHTTPHandler(nil)(context.Background(), action)
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest on timeout, got %v", err)
	}
}

// --- delay ---

func TestDelay(t *testing.T) {
	action := newAction("delay", 0, map[string]any{"duration_sec": 0.01})

	out, err := Delay(context.Background(), action)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Results["delay_0"].(map[string]any)["delayed_sec"] != 0.01 {
		t.Errorf("unexpected result: %v", out.Results)
	}
}

func TestDelay_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Delay(ctx, newAction("delay", 0, map[string]any{"duration_sec": 10.0}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- transform ---

func TestTransform(t *testing.T) {
	action := newAction("transform", 3, map[string]any{
		"result_key": "summary",
		"title":      "Sea",
		"assets":     map[string]any{"cover": "s3://bucket/cover.png"},
	})

	out, err := Transform(context.Background(), action)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := out.Results["summary"].(map[string]any)
	if res["title"] != "Sea" {
		t.Errorf("unexpected result: %v", res)
	}
	if _, ok := res["result_key"]; ok {
		t.Error("result_key must not leak into result")
	}
	if _, ok := res["assets"]; ok {
		t.Error("assets must be moved out of result")
	}
	if out.Assets["cover"] != "s3://bucket/cover.png" {
		t.Errorf("unexpected assets: %v", out.Assets)
	}
}
