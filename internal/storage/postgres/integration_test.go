package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

func TestIntegration_MigrationStatus(t *testing.T) {
	store := openIntegrationStore(t)

	state, err := store.MigrationStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, state.Pending)
	assert.GreaterOrEqual(t, state.Version, int64(3))
}

func TestIntegration_ItemPriceKeepsFourDecimals(t *testing.T) {
	store := openIntegrationStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	price := decimal.RequireFromString("33.3333")
	total, items := domain.PriceOrder(
		[]domain.ItemRequest{{ProductID: 1, Quantity: 3}},
		[]domain.Product{{ID: 1, Name: "Cable", Price: price}},
	)
	id, err := repo.CreateOrder(ctx, domain.NewSubmittedOrder(1, total, items, time.Now().UTC()))
	require.NoError(t, err)

	stored, err := repo.FindOrder(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.True(t, price.Equal(stored.Items[0].Price), "snapshot %s != %s", stored.Items[0].Price, price)
	assert.True(t, total.Equal(stored.Total), "total %s != %s", stored.Total, total)
}

func TestIntegration_OrderLifecycle(t *testing.T) {
	store := openIntegrationStore(t)
	repo := NewOrderRepository(store)
	catalog := NewCatalogRepository(store)
	ctx := context.Background()

	customer, err := catalog.GetCustomer(ctx, 1)
	require.NoError(t, err)

	products, err := catalog.GetProducts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, products)

	total, items := domain.PriceOrder([]domain.ItemRequest{{ProductID: products[0].ID, Quantity: 2}}, products)
	total, _ = domain.ApplyDiscount(total)
	now := time.Now().UTC().Round(time.Microsecond)

	id, err := repo.CreateOrder(ctx, domain.NewSubmittedOrder(customer.ID, total, items, now))
	require.NoError(t, err)

	stored, err := repo.FindOrder(ctx, id, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, stored.Status)
	assert.True(t, total.Equal(stored.Total), "total %s != %s", total, stored.Total)
	require.Len(t, stored.Items, 1)

	_, err = repo.FindOrder(ctx, id, customer.ID+1000)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	var wg sync.WaitGroup
	for _, flag := range []domain.OrderStatus{domain.OrderStatusPacked, domain.OrderStatusPayed} {
		wg.Add(1)
		go func(flag domain.OrderStatus) {
			defer wg.Done()
			for {
				current, err := repo.FindOrder(ctx, id, customer.ID)
				if err != nil {
					t.Errorf("find: %v", err)
					return
				}
				err = repo.UpdateStatus(ctx, id, flag, current.Version)
				if err == nil || !errors.Is(err, domain.ErrOrderVersionConflict) {
					if err != nil {
						t.Errorf("update: %v", err)
					}
					return
				}
			}
		}(flag)
	}
	wg.Wait()

	orders, err := repo.ListByCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusSubmitted|domain.OrderStatusPacked|domain.OrderStatusPayed, orders[0].Status)
	assert.Equal(t, int64(2), orders[0].Version)
	assert.True(t, decimal.Zero.LessThan(orders[0].Total))
}

func TestIntegration_Outbox(t *testing.T) {
	store := openIntegrationStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	saved, err := repo.Enqueue(ctx, domain.OutboxMessage{
		Topic: "sales.order-submitted", Key: "1", EventType: "OrderSubmitted", Payload: []byte(`{"order_id":1}`),
	})
	require.NoError(t, err)

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, saved.ID, pending[0].ID)

	claimed, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "claimed record must not be handed to a second worker")

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingCount)

	require.NoError(t, repo.MarkSent(ctx, saved.ID))
	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
