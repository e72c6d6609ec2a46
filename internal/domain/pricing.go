package domain

import "github.com/shopspring/decimal"

var (
	// DiscountThreshold — сумма, строго выше которой действует скидка.
	DiscountThreshold = decimal.NewFromInt(100)
	// DiscountMultiplier даёт скидку 10%.
	DiscountMultiplier = decimal.RequireFromString("0.9")
)

// PriceOrder сопоставляет запрошенные позиции с каталогом.
// Неизвестные товары пропускаются; для найденных фиксируется снимок имени и цены.
// Возвращает сумму без скидки.
func PriceOrder(requested []ItemRequest, catalog []Product) (decimal.Decimal, []OrderItem) {
	byID := make(map[int64]Product, len(catalog))
	for _, p := range catalog {
		if _, dup := byID[p.ID]; dup {
			continue
		}
		byID[p.ID] = p
	}

	total := decimal.Zero
	items := make([]OrderItem, 0, len(requested))
	for _, req := range requested {
		product, ok := byID[req.ProductID]
		if !ok {
			continue
		}
		total = total.Add(product.Price.Mul(decimal.NewFromInt32(req.Quantity)))
		items = append(items, OrderItem{
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Name:      product.Name,
			Price:     product.Price,
		})
	}

	return total, items
}

// ApplyDiscount применяет скидку к сумме всего заказа (не к позициям).
// Второй результат сообщает, была ли скидка применена.
func ApplyDiscount(total decimal.Decimal) (decimal.Decimal, bool) {
	if total.GreaterThan(DiscountThreshold) {
		return total.Mul(DiscountMultiplier), true
	}
	return total, false
}
