package domain

import "github.com/shopspring/decimal"

// ItemRequest — пара (товар, количество) из команды или события.
type ItemRequest struct {
	ProductID int64
	Quantity  int32
}

// SubmitOrderCommand — команда на оформление заказа.
type SubmitOrderCommand struct {
	CorrelationID string
	CustomerID    int64
	Items         []ItemRequest
}

// OrderSubmittedEvent публикуется после сохранения нового заказа.
// Цены и названия не передаются: потребители пересчитывают их сами.
type OrderSubmittedEvent struct {
	CorrelationID string
	CustomerID    int64
	OrderID       int64
	Total         decimal.Decimal
	Products      []ItemRequest
}

// OrderPackedEvent приходит от склада.
type OrderPackedEvent struct {
	OrderID    int64
	CustomerID int64
}

// PaymentAcceptedEvent приходит от платёжного сервиса.
type PaymentAcceptedEvent struct {
	OrderID    int64
	CustomerID int64
}

// NewOrderSubmittedEvent строит событие по сохранённому заказу.
func NewOrderSubmittedEvent(correlationID string, order Order) OrderSubmittedEvent {
	products := make([]ItemRequest, 0, len(order.Items))
	for _, item := range order.Items {
		products = append(products, ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return OrderSubmittedEvent{
		CorrelationID: correlationID,
		CustomerID:    order.CustomerID,
		OrderID:       order.ID,
		Total:         order.Total,
		Products:      products,
	}
}
