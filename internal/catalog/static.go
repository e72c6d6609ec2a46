// Package catalog содержит реализации справочника клиентов и товаров.
package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// StaticService — каталог в памяти для локального запуска и тестов.
type StaticService struct {
	mu        sync.RWMutex
	customers map[int64]domain.Customer
	products  []domain.Product

	customerErr error
	productsErr error

	customerCalls atomic.Int64
	productsCalls atomic.Int64
}

// NewStaticService создаёт каталог с заданными клиентами и товарами.
func NewStaticService(customers []domain.Customer, products []domain.Product) *StaticService {
	s := &StaticService{customers: make(map[int64]domain.Customer, len(customers))}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	s.SetProducts(products)
	return s
}

// DefaultStaticService возвращает небольшой демонстрационный каталог.
func DefaultStaticService() *StaticService {
	return NewStaticService(
		[]domain.Customer{{ID: 1, Name: "Alice"}, {ID: 2, Name: "Bob"}},
		[]domain.Product{
			{ID: 1, Name: "Keyboard", Price: decimal.NewFromInt(60)},
			{ID: 2, Name: "Mouse", Price: decimal.NewFromInt(25)},
			{ID: 3, Name: "Monitor", Price: decimal.NewFromInt(180)},
		},
	)
}

// GetCustomer возвращает клиента или domain.ErrCustomerNotFound.
func (s *StaticService) GetCustomer(ctx context.Context, customerID int64) (domain.Customer, error) {
	s.customerCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.customerErr != nil {
		return domain.Customer{}, s.customerErr
	}
	customer, ok := s.customers[customerID]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

// GetProducts возвращает копию каталога товаров.
func (s *StaticService) GetProducts(ctx context.Context) ([]domain.Product, error) {
	s.productsCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.productsErr != nil {
		return nil, s.productsErr
	}
	out := make([]domain.Product, len(s.products))
	copy(out, s.products)
	return out, nil
}

// SetProducts заменяет каталог товаров.
func (s *StaticService) SetProducts(products []domain.Product) {
	sorted := make([]domain.Product, len(products))
	copy(sorted, products)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	s.mu.Lock()
	s.products = sorted
	s.mu.Unlock()
}

// FailCustomers заставляет GetCustomer возвращать err (nil снимает сбой).
func (s *StaticService) FailCustomers(err error) {
	s.mu.Lock()
	s.customerErr = err
	s.mu.Unlock()
}

// FailProducts заставляет GetProducts возвращать err (nil снимает сбой).
func (s *StaticService) FailProducts(err error) {
	s.mu.Lock()
	s.productsErr = err
	s.mu.Unlock()
}

// CustomerCalls возвращает число обращений к GetCustomer.
func (s *StaticService) CustomerCalls() int64 { return s.customerCalls.Load() }

// ProductsCalls возвращает число обращений к GetProducts.
func (s *StaticService) ProductsCalls() int64 { return s.productsCalls.Load() }

var _ domain.CatalogService = (*StaticService)(nil)
