// Package sales реализует обработку команд и событий жизненного цикла заказа.
package sales

import (
	"context"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Service объединяет обработчики, которые вызывает транспортный слой.
// Все методы безопасны для конкурентного вызова.
type Service struct {
	submit  *SubmitOrderHandler
	packed  *StatusHandler
	payment *StatusHandler
	query   *OrderQuery
}

// NewService собирает сервис продаж.
func NewService(
	catalog domain.CatalogService,
	orders domain.OrderRepository,
	publisher domain.EventPublisher,
	opts ...Option,
) *Service {
	return &Service{
		submit:  NewSubmitOrderHandler(catalog, orders, publisher, opts...),
		packed:  NewPackedHandler(orders, opts...),
		payment: NewPaymentAcceptedHandler(orders, opts...),
		query:   NewOrderQuery(orders),
	}
}

// SubmitOrder обрабатывает команду оформления заказа.
func (s *Service) SubmitOrder(ctx context.Context, cmd domain.SubmitOrderCommand) (domain.Result, error) {
	return s.submit.Handle(ctx, cmd)
}

// OrderPacked выставляет флаг Packed.
func (s *Service) OrderPacked(ctx context.Context, event domain.OrderPackedEvent) (domain.Result, error) {
	return s.packed.Handle(ctx, event.OrderID, event.CustomerID)
}

// PaymentAccepted выставляет флаг Payed.
func (s *Service) PaymentAccepted(ctx context.Context, event domain.PaymentAcceptedEvent) (domain.Result, error) {
	return s.payment.Handle(ctx, event.OrderID, event.CustomerID)
}

// ListOrders возвращает заказы клиента.
func (s *Service) ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error) {
	return s.query.ListOrders(ctx, customerID)
}
