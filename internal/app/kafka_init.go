package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

// initKafkaProducer создаёт producer, если brokers не пустой.
// Возвращает nil, nil при пустом списке брокеров.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initKafkaConsumer подписывает диспетчер на входящие topic-и.
// Исчерпавшие попытки сообщения уходят в DLQ через тот же producer.
func initKafkaConsumer(cfg Config, dispatcher *kafka.Dispatcher, producer *kafka.Producer, m *metrics.SalesMetrics) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.KafkaGroupID,
		Topics:     dispatcher.Topics(),
		DLQTopic:   cfg.Topics.DeadLetter,
		MaxRetries: cfg.ConsumerMaxRetries,
		RetryDelay: cfg.ConsumerRetryDelay,
		FromOldest: cfg.KafkaFromOldest,
	}, dispatcher.Handle, producer, m)
	if err != nil {
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
