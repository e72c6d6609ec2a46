package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus — набор независимых флагов состояния заказа.
// Флаги только добавляются и никогда не сбрасываются.
type OrderStatus uint8

const (
	// OrderStatusSubmitted — заказ принят и сохранён.
	OrderStatusSubmitted OrderStatus = 1 << iota
	// OrderStatusPacked — склад сообщил, что заказ упакован.
	OrderStatusPacked
	// OrderStatusPayed — платёжный сервис подтвердил оплату.
	OrderStatusPayed
)

var statusNames = []struct {
	flag OrderStatus
	name string
}{
	{OrderStatusSubmitted, "submitted"},
	{OrderStatusPacked, "packed"},
	{OrderStatusPayed, "payed"},
}

// Has сообщает, установлен ли флаг.
func (s OrderStatus) Has(flag OrderStatus) bool {
	return flag != 0 && s&flag == flag
}

// With возвращает статус с добавленным флагом.
func (s OrderStatus) With(flag OrderStatus) OrderStatus {
	return s | flag
}

// Flags раскладывает статус на отдельные флаги в порядке объявления.
func (s OrderStatus) Flags() []OrderStatus {
	flags := make([]OrderStatus, 0, len(statusNames))
	for _, sn := range statusNames {
		if s.Has(sn.flag) {
			flags = append(flags, sn.flag)
		}
	}
	return flags
}

// Valid проверяет, что значение содержит ровно один известный флаг.
func (s OrderStatus) Valid() bool {
	for _, sn := range statusNames {
		if s == sn.flag {
			return true
		}
	}
	return false
}

func (s OrderStatus) String() string {
	if s == 0 {
		return "none"
	}
	names := make([]string, 0, len(statusNames))
	for _, sn := range statusNames {
		if s.Has(sn.flag) {
			names = append(names, sn.name)
		}
	}
	return strings.Join(names, "|")
}

// OrderItem — позиция заказа со снимком имени и цены товара на момент оформления.
type OrderItem struct {
	ProductID int64
	Quantity  int32
	Name      string
	Price     decimal.Decimal
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID         int64
	CustomerID int64
	Status     OrderStatus
	Total      decimal.Decimal
	Items      []OrderItem
	// Version растёт при каждом изменении статуса (compare-and-swap).
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubmittedOrder собирает новый заказ со статусом Submitted.
func NewSubmittedOrder(customerID int64, total decimal.Decimal, items []OrderItem, now time.Time) Order {
	return Order{
		CustomerID: customerID,
		Status:     OrderStatusSubmitted,
		Total:      total,
		Items:      items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Customer описывает клиента из каталога.
type Customer struct {
	ID   int64
	Name string
}

// Product — товар из каталога с текущей ценой.
type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}
