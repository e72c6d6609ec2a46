package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// CreateOrder сохраняет заказ с позициями и возвращает присвоенный идентификатор.
	CreateOrder(ctx context.Context, order Order) (int64, error)
	// FindOrder ищет заказ по паре (orderID, customerID) или возвращает ErrOrderNotFound.
	FindOrder(ctx context.Context, orderID, customerID int64) (Order, error)
	// UpdateStatus атомарно добавляет флаг, если версия заказа равна expectedVersion.
	// Меняются только статус, версия и время обновления.
	// ErrOrderVersionConflict, если версия ушла вперёд; ErrOrderNotFound, если заказа нет.
	UpdateStatus(ctx context.Context, orderID int64, flag OrderStatus, expectedVersion int64) error
	// ListByCustomer возвращает заказы клиента вместе с позициями в порядке создания.
	ListByCustomer(ctx context.Context, customerID int64) ([]Order, error)
}
