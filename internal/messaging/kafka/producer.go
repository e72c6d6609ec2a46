package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

var errProducerNotInitialized = errors.New("kafka producer is not initialized")

// Producer публикует сообщения через sarama.SyncProducer.
type Producer struct {
	producer sarama.SyncProducer
	client   sarama.Client
	logger   *log.Entry
}

// NewProducer создаёт идемпотентный синхронный producer.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = "sales-service"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		client:   client,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// NewProducerFrom оборачивает готовый SyncProducer (например, sarama/mocks).
func NewProducerFrom(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, logger: logger}
}

// Send отправляет готовый payload в topic.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	for k, v := range headers {
		if v == "" {
			continue
		}
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

// PublishEvent сериализует событие в JSON и отправляет его.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any, headers map[string]string) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.Send(ctx, topic, key, data, headers)
}

// Ping проверяет, что клиент жив и метаданные кластера доступны.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.client == nil {
		return nil
	}
	if p.client.Closed() {
		return errors.New("kafka client is closed")
	}
	if err := p.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("refresh kafka metadata: %w", err)
	}
	return nil
}

// Close закрывает producer и клиента.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	if p.client != nil && !p.client.Closed() {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("failed to close kafka client: %w", err)
		}
	}
	return nil
}
