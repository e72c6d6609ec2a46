package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig описывает consumer group.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	DLQTopic   string
	MaxRetries int
	RetryDelay time.Duration
	// FromOldest: новые группы читают topic с начала.
	FromOldest bool
}

// Consumer читает consumer group с повторами в процессе и Dead Letter Queue.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	metrics     *metrics.SalesMetrics
	wg          sync.WaitGroup
	dlqProducer *Producer
	dlqTopic    string
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer создаёт consumer group. Отрицательные MaxRetries и RetryDelay
// заменяются значениями по умолчанию. dlqProducer может быть nil:
// тогда исчерпавшее попытки сообщение не помечается и будет перечитано.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlqProducer *Producer, m *metrics.SalesMetrics) (*Consumer, error) {
	config := sarama.NewConfig()
	config.ClientID = "sales-service"
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.FromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, cfg, handler, dlqProducer, m), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlqProducer *Producer, m *metrics.SalesMetrics) *Consumer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = TopicDeadLetterQueue
	}
	return &Consumer{
		consumer:    group,
		topics:      cfg.Topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		metrics:     m,
		dlqProducer: dlqProducer,
		dlqTopic:    cfg.DLQTopic,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}
}

// Start запускает цикл потребления в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при каждом rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и дожидается фоновых горутин.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте сессии.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении сессии.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения partition-а. Сообщение помечается
// только после успешной обработки или отправки в DLQ. Необработанное
// сообщение останавливает claim, чтобы offset не ушёл дальше него.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessage(session.Context(), message); err != nil {
				if session.Context().Err() != nil {
					return nil
				}
				// Следующий MarkMessage сдвинул бы offset за это сообщение. Сессия
				// завершается, и после перезапуска Consume чтение продолжится с него.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed, partition will be re-read from this offset")
				session.ResetOffset(message.Topic, message.Partition, message.Offset, "")
				return fmt.Errorf("process %s/%d offset %d: %w", message.Topic, message.Partition, message.Offset, err)
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage вызывает обработчик с повторами. Повреждённые сообщения
// сразу уходят в DLQ, остальные ошибки повторяются до maxRetries с учётом
// счётчика из заголовка x-retry-count.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)

	for {
		err := c.handler(ctx, message)
		if err == nil {
			c.metrics.RecordMessage(message.Topic, metrics.OutcomeProcessed)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, domain.ErrMalformedMessage) || retryCount >= c.maxRetries {
			return c.deadLetter(ctx, message, err, retryCount)
		}

		retryCount++
		c.metrics.RecordMessage(message.Topic, metrics.OutcomeRetried)
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if err := sleepContext(ctx, c.retryDelay*time.Duration(retryCount)); err != nil {
			return err
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, message *sarama.ConsumerMessage, cause error, retryCount int) error {
	if c.dlqProducer == nil {
		return cause
	}
	if err := c.sendToDLQ(ctx, message, cause, retryCount); err != nil {
		c.logger.WithError(err).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}
	c.metrics.RecordMessage(message.Topic, metrics.OutcomeDLQ)
	c.logger.WithError(cause).WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
	}).Warn("message sent to DLQ")
	return nil
}

// getRetryCount извлекает счётчик повторов из заголовков.
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil && count >= 0 {
			return count
		}
	}
	return 0
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, cause error, retryCount int) error {
	dlq := DeadLetterMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        retryCount,
	}
	return c.dlqProducer.PublishEvent(ctx, c.dlqTopic, string(message.Key), dlq, map[string]string{
		HeaderRetryCount: strconv.Itoa(retryCount),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
