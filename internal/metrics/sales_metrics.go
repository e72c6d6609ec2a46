package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome-метки обработки сообщений консьюмером.
const (
	OutcomeProcessed = "processed"
	OutcomeRetried   = "retried"
	OutcomeDLQ       = "dlq"
)

// SalesMetrics содержит метрики обработки заказов.
// Методы безопасно вызывать на nil: это позволяет собирать обработчики без метрик в тестах.
type SalesMetrics struct {
	ordersSubmitted  prometheus.Counter
	ordersRejected   *prometheus.CounterVec
	discountsApplied prometheus.Counter

	statusUpdates   *prometheus.CounterVec
	statusConflicts *prometheus.CounterVec

	handlerDuration *prometheus.HistogramVec
	messages        *prometheus.CounterVec
}

// NewSalesMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewSalesMetrics() *SalesMetrics {
	return NewSalesMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSalesMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewSalesMetricsWithRegisterer(registerer prometheus.Registerer) *SalesMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SalesMetrics{
		ordersSubmitted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_sales_orders_submitted_total",
			Help: "Total number of orders created from submit commands",
		})),
		ordersRejected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_sales_orders_rejected_total",
			Help: "Total number of messages rejected by business rules",
		}, []string{"reason"})),
		discountsApplied: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_sales_discounts_applied_total",
			Help: "Total number of orders that received the volume discount",
		})),
		statusUpdates: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_sales_status_updates_total",
			Help: "Total number of status flags written to orders",
		}, []string{"flag"})),
		statusConflicts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_sales_status_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on status updates",
		}, []string{"flag"})),
		handlerDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oms_sales_handler_duration_seconds",
			Help:    "Duration of message handlers in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"handler"})),
		messages: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_sales_consumer_messages_total",
			Help: "Total number of consumed messages by topic and outcome",
		}, []string{"topic", "outcome"})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordOrderSubmitted учитывает созданный заказ.
func (m *SalesMetrics) RecordOrderSubmitted(discounted bool) {
	if m == nil {
		return
	}
	m.ordersSubmitted.Inc()
	if discounted {
		m.discountsApplied.Inc()
	}
}

// RecordRejected учитывает бизнес-отказ с причиной.
func (m *SalesMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordStatusUpdate учитывает записанный флаг статуса.
func (m *SalesMetrics) RecordStatusUpdate(flag string) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(flag).Inc()
}

// RecordStatusConflict учитывает конфликт версий.
func (m *SalesMetrics) RecordStatusConflict(flag string) {
	if m == nil {
		return
	}
	m.statusConflicts.WithLabelValues(flag).Inc()
}

// ObserveHandler записывает длительность обработчика.
func (m *SalesMetrics) ObserveHandler(handler string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordMessage учитывает исход обработки сообщения из topic.
func (m *SalesMetrics) RecordMessage(topic, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(topic, outcome).Inc()
}
