package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// SubmitOrderHandler превращает команду SubmitOrderCommand в сохранённый заказ
// и публикует OrderSubmittedEvent.
type SubmitOrderHandler struct {
	catalog   domain.CatalogService
	orders    domain.OrderRepository
	publisher domain.EventPublisher
	opts      options
}

// NewSubmitOrderHandler собирает обработчик оформления заказа.
func NewSubmitOrderHandler(
	catalog domain.CatalogService,
	orders domain.OrderRepository,
	publisher domain.EventPublisher,
	opts ...Option,
) *SubmitOrderHandler {
	return &SubmitOrderHandler{
		catalog:   catalog,
		orders:    orders,
		publisher: publisher,
		opts:      buildOptions("submit-order", opts),
	}
}

// Handle обрабатывает команду. Неизвестный клиент даёт Rejected без ошибки;
// сбои каталога, хранилища и шины возвращаются как ошибки, чтобы транспорт
// повторил доставку. Повторная доставка создаёт новый заказ.
func (h *SubmitOrderHandler) Handle(ctx context.Context, cmd domain.SubmitOrderCommand) (domain.Result, error) {
	start := time.Now()
	defer func() { h.opts.metrics.ObserveHandler("submit_order", time.Since(start)) }()

	logger := h.opts.logger.WithFields(log.Fields{
		"correlation_id": cmd.CorrelationID,
		"customer_id":    cmd.CustomerID,
	})
	logger.Debug("processing order submission")

	customer, err := h.catalog.GetCustomer(ctx, cmd.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			// TODO: отправлять отказ в dead-letter topic, когда появится потребитель уведомлений.
			logger.Warn("customer does not exist, order submission dropped")
			h.opts.metrics.RecordRejected(string(domain.RejectCustomerNotFound))
			return domain.Rejected(domain.RejectCustomerNotFound), nil
		}
		return domain.Result{}, fmt.Errorf("get customer %d: %w", cmd.CustomerID, err)
	}

	products, err := h.catalog.GetProducts(ctx)
	if err != nil {
		return domain.Result{}, fmt.Errorf("get products: %w", err)
	}

	total, items := domain.PriceOrder(cmd.Items, products)
	total, discounted := domain.ApplyDiscount(total)
	if discounted {
		logger.WithField("total", total.String()).Info("discount applied")
	}

	order := domain.NewSubmittedOrder(customer.ID, total, items, h.opts.now())
	orderID, err := h.saveAndPublish(ctx, cmd.CorrelationID, order)
	if err != nil {
		return domain.Result{}, err
	}

	logger.WithFields(log.Fields{
		"order_id": orderID,
		"total":    total.String(),
		"items":    len(items),
	}).Info("order created")

	h.opts.metrics.RecordOrderSubmitted(discounted)
	return domain.Accepted(orderID), nil
}

// saveAndPublish сохраняет заказ и выпускает OrderSubmitted. С transactional
// outbox заказ и событие фиксируются вместе, иначе событие публикуется после
// коммита заказа.
func (h *SubmitOrderHandler) saveAndPublish(ctx context.Context, correlationID string, order domain.Order) (int64, error) {
	if h.opts.outbox != nil {
		orderID, err := h.opts.outbox.CreateOrderWithEvent(ctx, order, func(saved domain.Order) (domain.OutboxMessage, error) {
			return h.opts.encodeEvent(domain.NewOrderSubmittedEvent(correlationID, saved))
		})
		if err != nil {
			return 0, fmt.Errorf("create order with outbox event: %w", err)
		}
		return orderID, nil
	}

	orderID, err := h.orders.CreateOrder(ctx, order)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}
	order.ID = orderID

	event := domain.NewOrderSubmittedEvent(correlationID, order)
	if err := h.publisher.PublishOrderSubmitted(ctx, event); err != nil {
		return 0, fmt.Errorf("publish order submitted event for order %d: %w", orderID, err)
	}
	return orderID, nil
}
