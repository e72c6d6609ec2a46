package sales_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type MockOrderRepository struct{ mock.Mock }

func (m *MockOrderRepository) CreateOrder(ctx context.Context, order domain.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderRepository) FindOrder(ctx context.Context, orderID, customerID int64) (domain.Order, error) {
	args := m.Called(ctx, orderID, customerID)
	return args.Get(0).(domain.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, orderID int64, flag domain.OrderStatus, expectedVersion int64) error {
	args := m.Called(ctx, orderID, flag, expectedVersion)
	return args.Error(0)
}

func (m *MockOrderRepository) ListByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Order), args.Error(1)
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderSubmittedEvent
	err    error
}

func (p *recordingPublisher) PublishOrderSubmitted(_ context.Context, event domain.OrderSubmittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []domain.OrderSubmittedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderSubmittedEvent, len(p.events))
	copy(out, p.events)
	return out
}
