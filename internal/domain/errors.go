package domain

import (
	"errors"
	"fmt"
)

// ErrTerminalState — попытка изменить task/action в финальном статусе.
var ErrTerminalState = errors.New("record is in a terminal state")

// Коды ошибок, которые сохраняются в Task.Error и Action.Error.
const (
	CodeInvalidArgument = "invalid-argument"
	CodeActionNotFound  = "action-not-found"
	CodeTaskNotFound    = "task-not-found"
	CodeTokenExpired    = "token-expired"
	CodeInvalidToken    = "invalid-token"
	CodeLimitUsage      = "limit-usage"
	CodeUnknownCommand  = "unknown-command"
	CodeInvalidPayload  = "invalid-payload"
	CodeTimeout         = "timeout"
	CodeInternal        = "internal"
)

// ActionError — ошибка выполнения, сохраняемая в task и action.
//
// Status повторяет HTTP-классы: 403 для ошибок аутентификации токена,
// 500 для всего остального.
type ActionError struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// NewActionError создаёт ActionError с классом по коду.
func NewActionError(code, message string) *ActionError {
	status := 500
	if code == CodeTokenExpired || code == CodeInvalidToken {
		status = 403
	}
	return &ActionError{Code: code, Status: status, Message: message}
}

// Error реализует интерфейс error.
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}
