package kafka_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

func header(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestEventPublisher_PublishOrderSubmitted(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	defer func() { require.NoError(t, mockProducer.Close()) }()

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicOrderSubmitted {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "42" {
			return fmt.Errorf("unexpected key %s", key)
		}
		if header(msg, kafka.HeaderCorrelationID) != "corr-1" || header(msg, kafka.HeaderEventType) != kafka.EventTypeOrderSubmitted {
			return fmt.Errorf("unexpected headers %v", msg.Headers)
		}
		raw, _ := msg.Value.Encode()
		var payload kafka.OrderSubmittedMessage
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		if payload.OrderID != 42 || !payload.Total.Equal(decimal.NewFromInt(108)) || len(payload.Products) != 1 {
			return fmt.Errorf("unexpected payload %s", raw)
		}
		return nil
	})

	publisher := kafka.NewEventPublisher(kafka.NewProducerFrom(mockProducer, nil), "")
	err := publisher.PublishOrderSubmitted(context.Background(), domain.OrderSubmittedEvent{
		CorrelationID: "corr-1",
		CustomerID:    7,
		OrderID:       42,
		Total:         decimal.NewFromInt(108),
		Products:      []domain.ItemRequest{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
}

func TestOutboxTopicPublisher_SendsRawPayload(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	defer func() { require.NoError(t, mockProducer.Close()) }()

	payload := []byte(`{"order_id":1}`)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "custom.topic" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		raw, _ := msg.Value.Encode()
		if string(raw) != string(payload) {
			return fmt.Errorf("payload was re-encoded: %s", raw)
		}
		if header(msg, kafka.HeaderOutboxID) != "outbox-1" {
			return fmt.Errorf("missing outbox id header")
		}
		return nil
	})
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicOrderSubmitted {
			return fmt.Errorf("expected default topic, got %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "outbox-2" {
			return fmt.Errorf("expected id as fallback key, got %s", key)
		}
		return nil
	})

	publisher := kafka.NewOutboxPublisher(kafka.NewProducerFrom(mockProducer, nil), "")
	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{
		ID: "outbox-1", Topic: "custom.topic", Key: "1", EventType: kafka.EventTypeOrderSubmitted, Payload: payload,
	}))
	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{
		ID: "outbox-2", Payload: payload,
	}))
}

func TestOutboxTopicPublisher_NotInitialized(t *testing.T) {
	var publisher *kafka.OutboxTopicPublisher
	assert.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "x"}))
}

func TestCommandSender_SubmitOrder(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	defer func() { require.NoError(t, mockProducer.Close()) }()

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicSubmitOrder {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "7" {
			return fmt.Errorf("expected customer id as key, got %s", key)
		}
		raw, _ := msg.Value.Encode()
		decoded, err := kafka.DecodeSubmitOrder(raw)
		if err != nil {
			return err
		}
		if decoded.CorrelationID != "corr-9" || len(decoded.Items) != 2 {
			return fmt.Errorf("unexpected command %s", raw)
		}
		return nil
	})

	sender := kafka.NewCommandSender(kafka.NewProducerFrom(mockProducer, nil), "")
	err := sender.SubmitOrder(context.Background(), domain.SubmitOrderCommand{
		CorrelationID: "corr-9",
		CustomerID:    7,
		Items:         []domain.ItemRequest{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 3}},
	})
	require.NoError(t, err)
}
