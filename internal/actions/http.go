package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiso/actionflow/internal/domain"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 1 << 20
)

// NewHTTPHandler возвращает handler команды "http".
//
// Payload:
//   - url (string, обязательно)
//   - method (string), по умолчанию GET
//   - headers (map), значения-строки
//   - body (any), сериализуется в JSON
//   - timeout_sec (number), по умолчанию 30
//   - cost (number), доменная стоимость шага
//
// Результат: {status_code, headers, body}. Код >= 400 — ошибка шага,
// но результат всё равно записывается в action.
func NewHTTPHandler(client *http.Client) Handler {
	if client == nil {
		client = &http.Client{}
	}

	return func(ctx context.Context, action *domain.Action) (*domain.Action, error) {
		payload := action.Command.Payload

		url := getString(payload, "url", "")
		if url == "" {
			return nil, fmt.Errorf("%w: url is required", ErrInvalidPayload)
		}
		method := getString(payload, "method", http.MethodGet)

		timeout := defaultHTTPTimeout
		if sec := getFloat(payload, "timeout_sec", 0); sec > 0 {
			timeout = time.Duration(sec * float64(time.Second))
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var body io.Reader
		if b, ok := payload["body"]; ok && b != nil {
			data, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("%w: marshal body: %v", ErrInvalidPayload, err)
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
		}
		if headers, ok := payload["headers"].(map[string]any); ok {
			for k, v := range headers {
				if s, ok := v.(string); ok {
					req.Header.Set(k, s)
				}
			}
		}
		if body != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
		}

		setResult(action, responseResult(resp, raw))
		action.Usage += getFloat(payload, "cost", 0)

		if resp.StatusCode >= 400 {
			return action, fmt.Errorf("%w: HTTP %d: %s", ErrHTTPRequest, resp.StatusCode, truncate(string(raw), 200))
		}
		return action, nil
	}
}

func responseResult(resp *http.Response, raw []byte) map[string]any {
	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
