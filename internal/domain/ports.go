package domain

import (
	"context"
	"time"
)

// CatalogService даёт доступ к справочнику клиентов и товаров (только чтение).
type CatalogService interface {
	// GetCustomer возвращает клиента или ErrCustomerNotFound.
	GetCustomer(ctx context.Context, customerID int64) (Customer, error)
	// GetProducts возвращает текущий каталог товаров.
	GetProducts(ctx context.Context) ([]Product, error)
}

// EventPublisher доставляет события в шину.
type EventPublisher interface {
	PublishOrderSubmitted(ctx context.Context, event OrderSubmittedEvent) error
}

// OutboxPublisher публикует записи transactional outbox; должен быть идемпотентным.
type OutboxPublisher interface {
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository хранит события до их публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OrderOutboxStore сохраняет заказ и outbox-запись о нём одной транзакцией.
type OrderOutboxStore interface {
	// CreateOrderWithEvent вызывает buildEvent с заказом, которому уже присвоен ID.
	// Ошибка buildEvent или вставки записи откатывает и заказ.
	CreateOrderWithEvent(ctx context.Context, order Order, buildEvent func(Order) (OutboxMessage, error)) (int64, error)
}

// OutboxMessage — событие, ожидающее отправки в topic.
type OutboxMessage struct {
	ID        string
	Topic     string
	Key       string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxStats описывает текущее состояние backlog.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
