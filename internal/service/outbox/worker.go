package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// BatchResult — итог одного прохода по outbox.
type BatchResult struct {
	Pulled int
	Sent   int
	// Failed считает записи, помеченные failed после исчерпания попыток.
	Failed int
	// DeadLettered считает ту часть Failed, что успешно доставлена в DLQ.
	DeadLettered int
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithDLQPublisher задаёт publisher для записей, которые не удалось опубликовать.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.deadLetters = publisher }
}

// WithMetrics подменяет метрики (по умолчанию регистрируются в DefaultRegisterer).
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

func WithBatchSize(batchSize int) Option {
	return func(w *Worker) { w.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) { w.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = delay }
}

// Worker переносит события OrderSubmitted из outbox в брокер.
type Worker struct {
	repo        domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	logger      *log.Entry
	metrics     *metrics.OutboxMetrics
	now         func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		now:            time.Now,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.metrics == nil {
		w.metrics = metrics.NewOutboxMetrics()
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.retryBaseDelay < 0 {
		w.retryBaseDelay = 0
	}
	return w
}

// Run опрашивает outbox до отмены ctx. Отмена не считается ошибкой.
func (w *Worker) Run(ctx context.Context) error {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return nil
	}

	w.logger.WithFields(log.Fields{
		"poll_interval": w.pollInterval,
		"batch_size":    w.batchSize,
		"max_attempts":  w.maxAttempts,
		"dlq":           w.deadLetters != nil,
	}).Info("outbox worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.logBatch(w.ProcessOnce(ctx))

		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает одну пачку pending-записей и публикует их.
// При отмене ctx текущая запись остаётся pending до следующего запуска.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}

	w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}
	result.Pulled = len(batch)

	for _, msg := range batch {
		if ctx.Err() != nil {
			return result
		}

		err := w.publishWithRetry(ctx, msg)
		switch {
		case err == nil:
			if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as sent")
				continue
			}
			result.Sent++
		case ctx.Err() != nil:
			return result
		default:
			w.giveUp(ctx, msg, err, &result)
		}
	}

	if result.Pulled > 0 {
		w.refreshBacklog(ctx)
	}
	return result
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(ctx, msg); lastErr == nil {
			w.metrics.RecordPublish(metrics.PublishSent)
			return nil
		}
		w.metrics.RecordPublish(metrics.PublishRetryError)

		if attempt == w.maxAttempts {
			break
		}
		if err := sleep(ctx, backoff(w.retryBaseDelay, attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// giveUp помечает запись failed и, если настроен DLQ, сохраняет её там для replay.
func (w *Worker) giveUp(ctx context.Context, msg domain.OutboxMessage, publishErr error, result *BatchResult) {
	logger := w.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"topic":      msg.Topic,
		"event_type": msg.EventType,
	})
	logger.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.RecordPublish(metrics.PublishFailed)

	deadLettered, err := w.deadLetter(ctx, msg, publishErr)
	if err != nil {
		logger.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.RecordPublish(metrics.PublishDLQFailed)
	}

	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox as failed")
		return
	}
	result.Failed++
	if deadLettered {
		result.DeadLettered++
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, publishErr error) (bool, error) {
	if w.deadLetters == nil {
		return false, nil
	}

	payload, err := json.Marshal(kafka.NewOutboxDeadLetter(msg, w.maxAttempts, publishErr, w.now()))
	if err != nil {
		return false, fmt.Errorf("marshal dlq record: %w", err)
	}

	err = w.deadLetters.Publish(ctx, domain.OutboxMessage{
		ID:        msg.ID,
		Key:       msg.Key,
		EventType: msg.EventType,
		Payload:   payload,
	})
	if err != nil {
		return false, fmt.Errorf("publish to dlq: %w", err)
	}
	w.metrics.RecordPublish(metrics.PublishDLQ)
	return true, nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

func (w *Worker) logBatch(result BatchResult) {
	if result.Pulled == 0 {
		return
	}
	entry := w.logger.WithFields(log.Fields{
		"pulled":        result.Pulled,
		"sent":          result.Sent,
		"failed":        result.Failed,
		"dead_lettered": result.DeadLettered,
	})
	if result.Failed > 0 {
		entry.Warn("outbox batch processed with failures")
		return
	}
	entry.Debug("outbox batch processed")
}

// backoff возвращает base*2^(attempt-1), но не больше maxRetryDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
