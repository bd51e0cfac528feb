package actions

import "errors"

// Ошибки реестра и встроенных handler'ов.
var (
	// ErrUnknownCommand — для команды не зарегистрирован handler.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrHTTPRequest — HTTP-запрос не удался или вернул код >= 400.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrInvalidPayload — в payload шага нет обязательного поля.
	ErrInvalidPayload = errors.New("invalid payload")
)
