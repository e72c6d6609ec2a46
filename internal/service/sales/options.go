package sales

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	// DefaultMaxStatusAttempts ограничивает число compare-and-swap попыток одного обновления статуса.
	DefaultMaxStatusAttempts = 5
	defaultRetryBaseDelay    = 10 * time.Millisecond
	defaultRetryMaxDelay     = 500 * time.Millisecond
)

type options struct {
	logger         *log.Entry
	metrics        *metrics.SalesMetrics
	now            func() time.Time
	maxAttempts    int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	outbox      domain.OrderOutboxStore
	encodeEvent func(domain.OrderSubmittedEvent) (domain.OutboxMessage, error)
}

// Option настраивает обработчики.
type Option func(*options)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStatusRetry задаёт число попыток и базовую задержку экспоненциального backoff.
func WithStatusRetry(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(o *options) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			o.retryBaseDelay = baseDelay
		}
		if maxDelay > 0 {
			o.retryMaxDelay = maxDelay
		}
	}
}

// WithTransactionalOutbox заставляет SubmitOrder сохранять заказ и событие
// OrderSubmitted одной транзакцией store; EventPublisher при этом не вызывается.
func WithTransactionalOutbox(store domain.OrderOutboxStore, encode func(domain.OrderSubmittedEvent) (domain.OutboxMessage, error)) Option {
	return func(o *options) {
		if store != nil && encode != nil {
			o.outbox = store
			o.encodeEvent = encode
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		logger:         log.NewEntry(log.StandardLogger()),
		now:            func() time.Time { return time.Now().UTC() },
		maxAttempts:    DefaultMaxStatusAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.logger = o.logger.WithField("component", component)
	if o.retryMaxDelay < o.retryBaseDelay {
		o.retryMaxDelay = o.retryBaseDelay
	}
	return o
}
