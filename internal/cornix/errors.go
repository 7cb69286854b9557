package cornix

import (
	"errors"
	"fmt"
)

// Ошибки конфигурации и валидации ордера
var (
	ErrEntriesPercentage = errors.New("entries percentage must add to 100%")
	ErrTpsPercentage     = errors.New("TPs percentage must add to 100%")
	ErrNoTargets         = errors.New("order has no price targets")
	ErrStopLossPct       = errors.New("defaultStopLossPct must be in [0, 1)")
	ErrInvalidOrder      = errors.New("invalid order")
)

// ConfigError - фатальная ошибка конфигурации одного ордера.
// Прерывает только этот ордер, пакетный прогон продолжается.
type ConfigError struct {
	Order string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for order %s: %v", e.Order, e.Err)
}

// Unwrap возвращает исходную ошибку для errors.Is/errors.As
func (e *ConfigError) Unwrap() error {
	return e.Err
}
