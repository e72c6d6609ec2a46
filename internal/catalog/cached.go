package catalog

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = time.Minute

	productsKey = "products"
)

// CachedService кэширует ответы каталога на заданное время.
// Отсутствующие клиенты не кэшируются, чтобы новый клиент стал виден сразу.
type CachedService struct {
	next      domain.CatalogService
	customers *expirable.LRU[int64, domain.Customer]
	products  *expirable.LRU[string, []domain.Product]
}

// NewCachedService оборачивает каталог кэшем. size<=0 и ttl<=0 заменяются значениями по умолчанию.
func NewCachedService(next domain.CatalogService, size int, ttl time.Duration) *CachedService {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedService{
		next:      next,
		customers: expirable.NewLRU[int64, domain.Customer](size, nil, ttl),
		products:  expirable.NewLRU[string, []domain.Product](1, nil, ttl),
	}
}

func (c *CachedService) GetCustomer(ctx context.Context, customerID int64) (domain.Customer, error) {
	if customer, ok := c.customers.Get(customerID); ok {
		return customer, nil
	}

	customer, err := c.next.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	c.customers.Add(customerID, customer)
	return customer, nil
}

func (c *CachedService) GetProducts(ctx context.Context) ([]domain.Product, error) {
	if products, ok := c.products.Get(productsKey); ok {
		return cloneProducts(products), nil
	}

	products, err := c.next.GetProducts(ctx)
	if err != nil {
		return nil, err
	}
	c.products.Add(productsKey, cloneProducts(products))
	return products, nil
}

// Purge сбрасывает кэш.
func (c *CachedService) Purge() {
	c.customers.Purge()
	c.products.Purge()
}

func cloneProducts(in []domain.Product) []domain.Product {
	out := make([]domain.Product, len(in))
	copy(out, in)
	return out
}

var _ domain.CatalogService = (*CachedService)(nil)
