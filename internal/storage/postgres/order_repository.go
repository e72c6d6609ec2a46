package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const orderColumns = `id, customer_id, status, total, version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// NewOrderOutboxStore возвращает хранилище, которое пишет заказ и outbox-запись в одной транзакции.
func NewOrderOutboxStore(store *Store) domain.OrderOutboxStore {
	return &orderRepository{db: store.DB()}
}

// CreateOrder вставляет заказ и его позиции в одной транзакции.
func (r *orderRepository) CreateOrder(ctx context.Context, order domain.Order) (int64, error) {
	return r.createInTx(ctx, order, nil)
}

// CreateOrderWithEvent добавляет к транзакции CreateOrder вставку outbox-записи.
func (r *orderRepository) CreateOrderWithEvent(ctx context.Context, order domain.Order, buildEvent func(domain.Order) (domain.OutboxMessage, error)) (int64, error) {
	return r.createInTx(ctx, order, func(ctx context.Context, tx *sql.Tx, id int64) error {
		order.ID = id
		msg, err := buildEvent(order)
		if err != nil {
			return fmt.Errorf("build outbox event: %w", err)
		}
		_, err = insertOutbox(ctx, tx, msg)
		return err
	})
}

func (r *orderRepository) createInTx(ctx context.Context, order domain.Order, after func(context.Context, *sql.Tx, int64) error) (id int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (customer_id, status, total, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)
		RETURNING id
	`,
		order.CustomerID, int16(order.Status), order.Total, order.CreatedAt, order.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, name, price)
			VALUES ($1, $2, $3, $4, $5)
		`, id, item.ProductID, item.Quantity, item.Name, item.Price); err != nil {
			return 0, fmt.Errorf("insert order item: %w", err)
		}
	}

	if after != nil {
		if err = after(ctx, tx, id); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create order: %w", err)
	}
	return id, nil
}

// FindOrder ищет заказ по паре (id, customer_id).
func (r *orderRepository) FindOrder(ctx context.Context, orderID, customerID int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND customer_id = $2
	`, orderID, customerID)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// UpdateStatus выполняет compare-and-swap одним UPDATE: флаг добавляется
// побитовым OR, остальные колонки не трогаются.
func (r *orderRepository) UpdateStatus(ctx context.Context, orderID int64, flag domain.OrderStatus, expectedVersion int64) error {
	if !flag.Valid() {
		return domain.ErrInvalidStatusFlag
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = status | $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1
		  AND version = $4
	`, orderID, int16(flag), time.Now().UTC(), expectedVersion)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	exists, err := r.orderExists(ctx, orderID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

// ListByCustomer возвращает заказы клиента по возрастанию id вместе с позициями.
func (r *orderRepository) ListByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY id ASC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status int16
	)
	if err := row.Scan(
		&order.ID, &order.CustomerID, &status, &order.Total,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, name, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Name, &item.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
var _ domain.OrderOutboxStore = (*orderRepository)(nil)
