package usage

import "errors"

// Отказы в допуске.
var (
	// ErrLimitUsage — месячный бюджет исчерпан.
	ErrLimitUsage = errors.New("limit-usage: monthly budget exhausted")

	// ErrBurstExhausted — burst-бакет пуст при неизменном плане.
	ErrBurstExhausted = errors.New("limit-usage: burst allowance exhausted")
)

// IsDenied возвращает true для отказа ledger'а (а не инфраструктурной ошибки).
func IsDenied(err error) bool {
	return errors.Is(err, ErrLimitUsage) || errors.Is(err, ErrBurstExhausted)
}
