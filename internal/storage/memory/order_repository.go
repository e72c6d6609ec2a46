package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// orderRepositoryInMemory реализует OrderRepository в памяти.
// Все изменения статуса выполняются под общим мьютексом, поэтому
// read-modify-write одного заказа атомарен.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[int64]domain.Order),
	}
}

// CreateOrder присваивает заказу следующий идентификатор и сохраняет копию.
func (r *orderRepositoryInMemory) CreateOrder(ctx context.Context, order domain.Order) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	order.ID = r.nextID
	order.Version = 0
	order.Items = cloneItems(order.Items)
	r.items[order.ID] = order
	return order.ID, nil
}

// FindOrder возвращает заказ, только если совпадают и идентификатор, и клиент.
func (r *orderRepositoryInMemory) FindOrder(ctx context.Context, orderID, customerID int64) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[orderID]
	if !ok || order.CustomerID != customerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// UpdateStatus добавляет флаг к статусу, сверяя версию (compare-and-swap).
func (r *orderRepositoryInMemory) UpdateStatus(ctx context.Context, orderID int64, flag domain.OrderStatus, expectedVersion int64) error {
	if !flag.Valid() {
		return domain.ErrInvalidStatusFlag
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrOrderVersionConflict
	}

	current.Status = current.Status.With(flag)
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	r.items[orderID] = current
	return nil
}

// ListByCustomer возвращает заказы клиента в порядке создания.
func (r *orderRepositoryInMemory) ListByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = cloneItems(order.Items)
	return order
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	if items == nil {
		return nil
	}
	out := make([]domain.OrderItem, len(items))
	copy(out, items)
	return out
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
