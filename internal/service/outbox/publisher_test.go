package outbox_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

type capturingPublisher struct {
	published []domain.OutboxMessage
}

func (c *capturingPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	c.published = append(c.published, msg)
	return nil
}

func TestPublisher_EnqueuesWireCompatiblePayload(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	publisher := outbox.NewPublisher(repo, "")

	event := domain.OrderSubmittedEvent{
		CorrelationID: "corr-1",
		CustomerID:    7,
		OrderID:       11,
		Total:         decimal.NewFromInt(108),
		Products:      []domain.ItemRequest{{ProductID: 1, Quantity: 2}},
	}
	require.NoError(t, publisher.PublishOrderSubmitted(ctx, event))

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	record := pending[0]
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, kafka.TopicOrderSubmitted, record.Topic)
	assert.Equal(t, "11", record.Key)
	assert.Equal(t, kafka.EventTypeOrderSubmitted, record.EventType)

	direct, err := kafka.MarshalOrderSubmitted(event)
	require.NoError(t, err)
	assert.JSONEq(t, string(direct), string(record.Payload))
}

func TestPublisher_WorkerDrainsOutbox(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	publisher := outbox.NewPublisher(repo, "custom.topic")
	sink := &capturingPublisher{}

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, publisher.PublishOrderSubmitted(ctx, domain.OrderSubmittedEvent{OrderID: id, Total: decimal.Zero}))
	}

	worker := outbox.NewWorker(repo, sink, outbox.WithRetryBaseDelay(0))
	assert.Equal(t, 3, worker.ProcessOnce(ctx).Sent)
	require.Len(t, sink.published, 3)
	assert.Equal(t, "custom.topic", sink.published[0].Topic)
	assert.Equal(t, "1", sink.published[0].Key)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}
