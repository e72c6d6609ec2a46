package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// StatusHandler добавляет один флаг статуса к существующему заказу.
type StatusHandler struct {
	flag   domain.OrderStatus
	name   string
	orders domain.OrderRepository
	opts   options
}

// NewPackedHandler обрабатывает OrderPackedEvent.
func NewPackedHandler(orders domain.OrderRepository, opts ...Option) *StatusHandler {
	return newStatusHandler(domain.OrderStatusPacked, "order_packed", orders, opts)
}

// NewPaymentAcceptedHandler обрабатывает PaymentAcceptedEvent.
func NewPaymentAcceptedHandler(orders domain.OrderRepository, opts ...Option) *StatusHandler {
	return newStatusHandler(domain.OrderStatusPayed, "payment_accepted", orders, opts)
}

func newStatusHandler(flag domain.OrderStatus, name string, orders domain.OrderRepository, opts []Option) *StatusHandler {
	return &StatusHandler{
		flag:   flag,
		name:   name,
		orders: orders,
		opts:   buildOptions(name, opts),
	}
}

// Flag возвращает флаг, который выставляет обработчик.
func (h *StatusHandler) Flag() domain.OrderStatus {
	return h.flag
}

// Handle ищет заказ по паре (orderID, customerID) и добавляет флаг.
// Если заказ не найден, результат Rejected без ошибки. Если флаг уже стоит, Accepted без записи.
// При конфликте версий заказ перечитывается и запись повторяется с
// экспоненциальной задержкой; после исчерпания попыток возвращается ошибка,
// оборачивающая domain.ErrOrderVersionConflict.
func (h *StatusHandler) Handle(ctx context.Context, orderID, customerID int64) (domain.Result, error) {
	start := time.Now()
	defer func() { h.opts.metrics.ObserveHandler(h.name, time.Since(start)) }()

	logger := h.opts.logger.WithFields(log.Fields{
		"order_id":    orderID,
		"customer_id": customerID,
		"flag":        h.flag.String(),
	})

	for attempt := 1; ; attempt++ {
		order, err := h.orders.FindOrder(ctx, orderID, customerID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				logger.Info("no matching order, event dropped")
				h.opts.metrics.RecordRejected(string(domain.RejectOrderNotFound))
				return domain.Rejected(domain.RejectOrderNotFound), nil
			}
			return domain.Result{}, fmt.Errorf("find order %d: %w", orderID, err)
		}

		if order.Status.Has(h.flag) {
			logger.Debug("flag already set")
			return domain.Accepted(order.ID), nil
		}

		err = h.orders.UpdateStatus(ctx, order.ID, h.flag, order.Version)
		switch {
		case err == nil:
			logger.WithField("status", order.Status.With(h.flag).String()).Info("order status updated")
			h.opts.metrics.RecordStatusUpdate(h.flag.String())
			return domain.Accepted(order.ID), nil
		case errors.Is(err, domain.ErrOrderVersionConflict):
			h.opts.metrics.RecordStatusConflict(h.flag.String())
			if attempt >= h.opts.maxAttempts {
				logger.WithField("attempts", attempt).Error("status update gave up after version conflicts")
				return domain.Result{}, fmt.Errorf("set %s on order %d after %d attempts: %w", h.flag, orderID, attempt, err)
			}
			delay := h.backoff(attempt)
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"delay":   delay,
				"version": order.Version,
			}).Warn("version conflict detected, retrying")
			if err := sleep(ctx, delay); err != nil {
				return domain.Result{}, err
			}
		default:
			return domain.Result{}, fmt.Errorf("update status of order %d: %w", orderID, err)
		}
	}
}

func (h *StatusHandler) backoff(attempt int) time.Duration {
	delay := h.opts.retryBaseDelay << uint(attempt-1)
	if delay <= 0 || delay > h.opts.retryMaxDelay {
		delay = h.opts.retryMaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
