package sales

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// OrderQuery — read-path по заказам клиента.
type OrderQuery struct {
	orders domain.OrderRepository
}

// NewOrderQuery создаёт query-сервис.
func NewOrderQuery(orders domain.OrderRepository) *OrderQuery {
	return &OrderQuery{orders: orders}
}

// ListOrders возвращает заказы клиента вместе с позициями в порядке создания.
func (q *OrderQuery) ListOrders(ctx context.Context, customerID int64) ([]domain.Order, error) {
	orders, err := q.orders.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders of customer %d: %w", customerID, err)
	}
	return orders, nil
}
