package kafka_test

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

type MockSalesHandler struct {
	mock.Mock
}

func (m *MockSalesHandler) SubmitOrder(ctx context.Context, cmd domain.SubmitOrderCommand) (domain.Result, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(domain.Result), args.Error(1)
}

func (m *MockSalesHandler) OrderPacked(ctx context.Context, event domain.OrderPackedEvent) (domain.Result, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(domain.Result), args.Error(1)
}

func (m *MockSalesHandler) PaymentAccepted(ctx context.Context, event domain.PaymentAcceptedEvent) (domain.Result, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(domain.Result), args.Error(1)
}

func TestDispatcher_Topics(t *testing.T) {
	d := kafka.NewDispatcher(kafka.DefaultTopics(), &MockSalesHandler{})
	assert.Equal(t, []string{kafka.TopicSubmitOrder, kafka.TopicOrderPacked, kafka.TopicPaymentAccepted}, d.Topics())
}

func TestDispatcher_SubmitOrder(t *testing.T) {
	handler := &MockSalesHandler{}
	handler.On("SubmitOrder", mock.Anything, domain.SubmitOrderCommand{
		CorrelationID: "corr-from-header",
		CustomerID:    7,
		Items:         []domain.ItemRequest{{ProductID: 1, Quantity: 2}},
	}).Return(domain.Accepted(10), nil).Once()

	d := kafka.NewDispatcher(kafka.DefaultTopics(), handler)
	err := d.Handle(context.Background(), &sarama.ConsumerMessage{
		Topic:   kafka.TopicSubmitOrder,
		Value:   []byte(`{"customer_id":7,"items":[{"product_id":1,"quantity":2}]}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(kafka.HeaderCorrelationID), Value: []byte("corr-from-header")}},
	})
	require.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestDispatcher_StatusEvents(t *testing.T) {
	handler := &MockSalesHandler{}
	handler.On("OrderPacked", mock.Anything, domain.OrderPackedEvent{OrderID: 3, CustomerID: 7}).
		Return(domain.Accepted(3), nil).Once()
	handler.On("PaymentAccepted", mock.Anything, domain.PaymentAcceptedEvent{OrderID: 3, CustomerID: 7}).
		Return(domain.Rejected(domain.RejectOrderNotFound), nil).Once()

	d := kafka.NewDispatcher(kafka.DefaultTopics(), handler)
	value := []byte(`{"order_id":3,"customer_id":7}`)

	require.NoError(t, d.Handle(context.Background(), &sarama.ConsumerMessage{Topic: kafka.TopicOrderPacked, Value: value}))
	require.NoError(t, d.Handle(context.Background(), &sarama.ConsumerMessage{Topic: kafka.TopicPaymentAccepted, Value: value}),
		"business rejection must not be an error")
	handler.AssertExpectations(t)
}

func TestDispatcher_MalformedMessages(t *testing.T) {
	handler := &MockSalesHandler{}
	d := kafka.NewDispatcher(kafka.DefaultTopics(), handler)

	cases := []*sarama.ConsumerMessage{
		{Topic: kafka.TopicSubmitOrder, Value: []byte(`not json`)},
		{Topic: kafka.TopicOrderPacked, Value: []byte(`{"customer_id":7}`)},
		{Topic: kafka.TopicPaymentAccepted, Value: []byte(`[]`)},
		{Topic: "unknown.topic", Value: []byte(`{}`)},
	}
	for _, msg := range cases {
		err := d.Handle(context.Background(), msg)
		assert.ErrorIs(t, err, domain.ErrMalformedMessage, "topic %s", msg.Topic)
	}
	handler.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "OrderPacked", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "PaymentAccepted", mock.Anything, mock.Anything)
}

func TestDispatcher_InfrastructureErrorPropagates(t *testing.T) {
	dbErr := errors.New("db unavailable")
	handler := &MockSalesHandler{}
	handler.On("OrderPacked", mock.Anything, mock.Anything).Return(domain.Result{}, dbErr).Once()

	d := kafka.NewDispatcher(kafka.DefaultTopics(), handler)
	err := d.Handle(context.Background(), &sarama.ConsumerMessage{
		Topic: kafka.TopicOrderPacked,
		Value: []byte(`{"order_id":1,"customer_id":1}`),
	})
	assert.ErrorIs(t, err, dbErr)
}
