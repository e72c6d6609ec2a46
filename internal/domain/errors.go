package domain

import "errors"

var (
	// ErrCustomerNotFound возвращается каталогом, если клиента нет.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конкурентном изменении статуса.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidStatusFlag — попытка выставить неизвестный или составной флаг.
	ErrInvalidStatusFlag = errors.New("invalid order status flag")
	// ErrOutboxPublish — ошибка при работе с записью outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrMalformedMessage: сообщение не удалось разобрать, повтор не поможет.
	ErrMalformedMessage = errors.New("malformed message")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
