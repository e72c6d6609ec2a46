package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// CatalogRepository читает справочники customers и products.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт read-only каталог поверх PostgreSQL.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

// GetCustomer возвращает клиента или domain.ErrCustomerNotFound.
func (r *CatalogRepository) GetCustomer(ctx context.Context, customerID int64) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var customer domain.Customer
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM customers WHERE id = $1`, customerID,
	).Scan(&customer.ID, &customer.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return customer, nil
}

// GetProducts возвращает весь каталог товаров.
func (r *CatalogRepository) GetProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, price FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

var _ domain.CatalogService = (*CatalogRepository)(nil)
