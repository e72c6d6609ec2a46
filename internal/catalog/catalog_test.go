package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

func TestStaticService(t *testing.T) {
	svc := DefaultStaticService()
	ctx := context.Background()

	customer, err := svc.GetCustomer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", customer.Name)

	_, err = svc.GetCustomer(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	products, err := svc.GetProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, int64(1), products[0].ID)

	products[0].Name = "mutated"
	again, _ := svc.GetProducts(ctx)
	assert.Equal(t, "Keyboard", again[0].Name)

	assert.Equal(t, int64(2), svc.CustomerCalls())
	assert.Equal(t, int64(2), svc.ProductsCalls())
}

func TestStaticService_InjectedFailures(t *testing.T) {
	svc := DefaultStaticService()
	ctx := context.Background()
	boom := errors.New("catalog unavailable")

	svc.FailCustomers(boom)
	svc.FailProducts(boom)

	_, err := svc.GetCustomer(ctx, 1)
	assert.ErrorIs(t, err, boom)
	_, err = svc.GetProducts(ctx)
	assert.ErrorIs(t, err, boom)

	svc.FailCustomers(nil)
	_, err = svc.GetCustomer(ctx, 1)
	assert.NoError(t, err)
}

func TestCachedService_CachesHits(t *testing.T) {
	inner := DefaultStaticService()
	cached := NewCachedService(inner, 16, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cached.GetCustomer(ctx, 1)
		require.NoError(t, err)
		_, err = cached.GetProducts(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), inner.CustomerCalls())
	assert.Equal(t, int64(1), inner.ProductsCalls())

	cached.Purge()
	_, err := cached.GetProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.ProductsCalls())
}

func TestCachedService_DoesNotCacheMisses(t *testing.T) {
	inner := NewStaticService(nil, nil)
	cached := NewCachedService(inner, 16, time.Minute)
	ctx := context.Background()

	_, err := cached.GetCustomer(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	_, err = cached.GetCustomer(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	assert.Equal(t, int64(2), inner.CustomerCalls())
}

func TestCachedService_Expires(t *testing.T) {
	inner := DefaultStaticService()
	cached := NewCachedService(inner, 16, 20*time.Millisecond)
	ctx := context.Background()

	_, err := cached.GetProducts(ctx)
	require.NoError(t, err)

	inner.SetProducts([]domain.Product{{ID: 9, Name: "Cable", Price: decimal.NewFromInt(5)}})

	require.Eventually(t, func() bool {
		products, err := cached.GetProducts(ctx)
		return err == nil && len(products) == 1 && products[0].ID == 9
	}, time.Second, 10*time.Millisecond)
}
