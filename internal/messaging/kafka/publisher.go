package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// EventPublisher отправляет OrderSubmittedEvent напрямую в Kafka.
type EventPublisher struct {
	producer *Producer
	topic    string
}

// NewEventPublisher создаёт прямой паблишер событий.
func NewEventPublisher(producer *Producer, topic string) *EventPublisher {
	if topic == "" {
		topic = TopicOrderSubmitted
	}
	return &EventPublisher{producer: producer, topic: topic}
}

func (p *EventPublisher) PublishOrderSubmitted(ctx context.Context, event domain.OrderSubmittedEvent) error {
	payload, err := MarshalOrderSubmitted(event)
	if err != nil {
		return err
	}
	return p.producer.Send(ctx, p.topic, OrderKey(event.OrderID), payload, map[string]string{
		HeaderCorrelationID: event.CorrelationID,
		HeaderEventType:     EventTypeOrderSubmitted,
	})
}

// OutboxTopicPublisher публикует записи outbox в topic, указанный в записи.
type OutboxTopicPublisher struct {
	producer     *Producer
	defaultTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, defaultTopic string) *OutboxTopicPublisher {
	if defaultTopic == "" {
		defaultTopic = TopicOrderSubmitted
	}
	return &OutboxTopicPublisher{producer: producer, defaultTopic: defaultTopic}
}

// Publish отправляет payload без обёртки, поэтому потребители видят
// одинаковый формат в режимах direct и outbox.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	topic := msg.Topic
	if topic == "" {
		topic = p.defaultTopic
	}
	key := msg.Key
	if key == "" {
		key = msg.ID
	}

	return p.producer.Send(ctx, topic, key, msg.Payload, map[string]string{
		HeaderEventType: msg.EventType,
		HeaderOutboxID:  msg.ID,
	})
}

// CommandSender отправляет команды SubmitOrder (используется CLI).
type CommandSender struct {
	producer *Producer
	topic    string
}

// NewCommandSender создаёт отправителя команд.
func NewCommandSender(producer *Producer, topic string) *CommandSender {
	if topic == "" {
		topic = TopicSubmitOrder
	}
	return &CommandSender{producer: producer, topic: topic}
}

// SubmitOrder отправляет команду с ключом по идентификатору клиента.
func (s *CommandSender) SubmitOrder(ctx context.Context, cmd domain.SubmitOrderCommand) error {
	return s.producer.PublishEvent(ctx, s.topic, strconv.FormatInt(cmd.CustomerID, 10),
		NewSubmitOrderMessage(cmd), map[string]string{HeaderCorrelationID: cmd.CorrelationID})
}

var (
	_ domain.EventPublisher  = (*EventPublisher)(nil)
	_ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
)
