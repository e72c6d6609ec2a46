package outbox

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

// Publisher реализует domain.EventPublisher через outbox: событие
// сериализуется в тот же JSON, что и при прямой отправке, и сохраняется
// до публикации воркером.
type Publisher struct {
	repo  domain.OutboxRepository
	topic string
}

// NewPublisher создаёт паблишер, пишущий в outbox.
func NewPublisher(repo domain.OutboxRepository, topic string) *Publisher {
	if topic == "" {
		topic = kafka.TopicOrderSubmitted
	}
	return &Publisher{repo: repo, topic: topic}
}

func (p *Publisher) PublishOrderSubmitted(ctx context.Context, event domain.OrderSubmittedEvent) error {
	msg, err := p.Message(event)
	if err != nil {
		return err
	}
	if _, err := p.repo.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue order submitted event: %w", err)
	}
	return nil
}

// Message собирает outbox-запись для события, не сохраняя её.
func (p *Publisher) Message(event domain.OrderSubmittedEvent) (domain.OutboxMessage, error) {
	payload, err := kafka.MarshalOrderSubmitted(event)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return domain.OutboxMessage{
		Topic:     p.topic,
		Key:       kafka.OrderKey(event.OrderID),
		EventType: kafka.EventTypeOrderSubmitted,
		Payload:   payload,
	}, nil
}

var _ domain.EventPublisher = (*Publisher)(nil)
