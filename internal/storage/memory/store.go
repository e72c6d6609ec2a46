package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Store объединяет in-memory заказы и outbox, чтобы заказ и событие о нём
// появлялись вместе.
type Store struct {
	orders *orderRepositoryInMemory
	outbox *outboxRepositoryInMemory
}

func NewStore() *Store {
	return &Store{
		orders: &orderRepositoryInMemory{items: make(map[int64]domain.Order)},
		outbox: &outboxRepositoryInMemory{records: make(map[string]*outboxRecord)},
	}
}

func (s *Store) Orders() domain.OrderRepository { return s.orders }

func (s *Store) Outbox() domain.OutboxRepository { return s.outbox }

// CreateOrderWithEvent держит блокировку заказов до постановки события в outbox,
// поэтому ни заказ, ни его ID не видны, пока событие не сохранено.
func (s *Store) CreateOrderWithEvent(ctx context.Context, order domain.Order, buildEvent func(domain.Order) (domain.OutboxMessage, error)) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.orders.mu.Lock()
	defer s.orders.mu.Unlock()

	order.ID = s.orders.nextID + 1
	order.Version = 0
	order.Items = cloneItems(order.Items)

	msg, err := buildEvent(cloneOrder(order))
	if err != nil {
		return 0, fmt.Errorf("build outbox event: %w", err)
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		return 0, err
	}

	s.orders.nextID = order.ID
	s.orders.items[order.ID] = order
	return order.ID, nil
}

var _ domain.OrderOutboxStore = (*Store)(nil)
