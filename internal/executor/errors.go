package executor

import (
	"context"
	"errors"

	"github.com/shaiso/actionflow/internal/actions"
	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/usage"
)

// Ошибки executor'а.
var (
	// ErrInvalidArgument — пустой или некорректный work item.
	ErrInvalidArgument = errors.New("invalid-argument")

	// ErrActionNotFound — action нет или в нём нет command/organization.
	ErrActionNotFound = errors.New("action-not-found")

	// ErrTaskNotFound — task, на которую ссылается action, нет.
	ErrTaskNotFound = errors.New("task-not-found")

	// ErrTokenExpired — срок токена action истёк.
	ErrTokenExpired = errors.New("token-expired")

	// ErrInvalidToken — токен не совпадает с сохранённым.
	ErrInvalidToken = errors.New("invalid-token")

	// ErrUnknownCommand — для команды нет handler'а.
	ErrUnknownCommand = actions.ErrUnknownCommand

	// ErrHandlerPanic — handler запаниковал.
	ErrHandlerPanic = errors.New("handler panicked")
)

// IsPermanent возвращает true для ошибок, повтор которых бесполезен.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrActionNotFound)
}

// classify превращает ошибку шага в сохраняемый ActionError.
func classify(err error) *domain.ActionError {
	code := domain.CodeInternal
	switch {
	case errors.Is(err, ErrTokenExpired):
		code = domain.CodeTokenExpired
	case errors.Is(err, ErrInvalidToken):
		code = domain.CodeInvalidToken
	case usage.IsDenied(err):
		code = domain.CodeLimitUsage
	case errors.Is(err, ErrTaskNotFound):
		code = domain.CodeTaskNotFound
	case errors.Is(err, ErrUnknownCommand):
		code = domain.CodeUnknownCommand
	case errors.Is(err, actions.ErrInvalidPayload):
		code = domain.CodeInvalidPayload
	case errors.Is(err, context.DeadlineExceeded):
		code = domain.CodeTimeout
	}
	return domain.NewActionError(code, err.Error())
}
