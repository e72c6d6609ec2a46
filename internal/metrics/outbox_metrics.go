package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации outbox-записей.
const (
	PublishSent       = "sent"
	PublishRetryError = "retry_error"
	PublishFailed     = "failed"
	PublishDLQ        = "dlq"
	PublishDLQFailed  = "dlq_failed"
)

// OutboxMetrics собирает метрики outbox worker-а. Методы безопасно вызывать на nil.
type OutboxMetrics struct {
	attempts  *prometheus.CounterVec
	pending   prometheus.Gauge
	oldestAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		attempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_sales_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"})),
		pending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_sales_outbox_pending_records",
			Help: "Current number of pending OrderSubmitted records in the outbox.",
		})),
		oldestAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_sales_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		})),
	}
}

// RecordPublish учитывает одну попытку публикации с результатом result.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самой старой pending-записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.pending.Set(float64(pending))
	m.oldestAge.Set(oldestAge.Seconds())
}
