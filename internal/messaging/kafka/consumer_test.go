package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error { return m.errorsCh }

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
	resets []int64
}

func (m *mockSession) Claims() map[string][]int32              { return nil }
func (m *mockSession) MemberID() string                        { return "member" }
func (m *mockSession) GenerationID() int32                     { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string) {}
func (m *mockSession) Commit()                                 {}
func (m *mockSession) Context() context.Context                { return m.ctx }
func (m *mockSession) ResetOffset(_ string, _ int32, offset int64, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, offset)
}
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, msg)
}

func (m *mockSession) markedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marked)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func testConsumer(handler MessageHandler, dlq *Producer, maxRetries int) *Consumer {
	return &Consumer{
		handler:     handler,
		logger:      log.WithField("test", "consumer"),
		dlqProducer: dlq,
		dlqTopic:    TopicDeadLetterQueue,
		maxRetries:  maxRetries,
	}
}

func claimWith(messages ...*sarama.ConsumerMessage) *mockClaim {
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, msg := range messages {
		claim.messages <- msg
	}
	close(claim.messages)
	return claim
}

func TestNewConsumer_InvalidBrokers(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{
		Brokers: []string{"127.0.0.1:1"},
		GroupID: "group",
		Topics:  []string{"topic"},
	}, func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, nil)
	if err == nil {
		t.Fatal("expected new consumer error")
	}
}

func TestNewConsumer_Defaults(t *testing.T) {
	consumer := newConsumer(&mockConsumerGroup{}, ConsumerConfig{MaxRetries: -1, RetryDelay: -1}, nil, nil, nil)
	if consumer.maxRetries != defaultMaxRetries {
		t.Fatalf("expected default max retries, got %d", consumer.maxRetries)
	}
	if consumer.retryDelay != defaultRetryDelay {
		t.Fatalf("expected default retry delay, got %v", consumer.retryDelay)
	}
	if consumer.dlqTopic != TopicDeadLetterQueue {
		t.Fatalf("expected default dlq topic, got %q", consumer.dlqTopic)
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var consumeCalls int
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			if len(topics) != 1 || topics[0] != "topic-a" {
				t.Errorf("unexpected topics: %v", topics)
			}
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := newConsumer(group, ConsumerConfig{Topics: []string{"topic-a"}},
		func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, nil)

	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	<-ctx.Done()
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumeClaim_MarksProcessedMessages(t *testing.T) {
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, 0)
	session := &mockSession{ctx: context.Background()}

	claim := claimWith(
		&sarama.ConsumerMessage{Topic: "topic", Offset: 1, Value: []byte("a")},
		&sarama.ConsumerMessage{Topic: "topic", Offset: 2, Value: []byte("b")},
	)
	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if session.markedCount() != 2 {
		t.Fatalf("expected two marked messages, got %d", session.markedCount())
	}
}

func TestConsumeClaim_FailedWithoutDLQIsNotMarked(t *testing.T) {
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") }, nil, 1)
	session := &mockSession{ctx: context.Background()}

	if err := consumer.ConsumeClaim(session, claimWith(&sarama.ConsumerMessage{Topic: "topic", Offset: 1})); err == nil {
		t.Fatal("expected ConsumeClaim to stop with an error")
	}
	if session.markedCount() != 0 {
		t.Fatalf("failed message should not be marked, got %d", session.markedCount())
	}
}

func TestConsumeClaim_FailedMessageBlocksLaterOffsets(t *testing.T) {
	var handled []int64
	consumer := testConsumer(func(_ context.Context, msg *sarama.ConsumerMessage) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}, nil, 0)
	session := &mockSession{ctx: context.Background()}

	err := consumer.ConsumeClaim(session, claimWith(
		&sarama.ConsumerMessage{Topic: "topic", Partition: 3, Offset: 1},
		&sarama.ConsumerMessage{Topic: "topic", Partition: 3, Offset: 2},
	))
	if err == nil {
		t.Fatal("expected ConsumeClaim to stop with an error")
	}
	if session.markedCount() != 0 {
		t.Fatalf("offset after the failed message must not be marked, got %d marks", session.markedCount())
	}
	if len(handled) != 1 || handled[0] != 1 {
		t.Fatalf("expected only offset 1 to be handled, got %v", handled)
	}
	if len(session.resets) != 1 || session.resets[0] != 1 {
		t.Fatalf("expected offset reset to 1, got %v", session.resets)
	}
}

func TestConsumeClaim_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, 1)
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestHandleMessage(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: "topic", Partition: 1, Offset: 42, Key: []byte("key"), Value: []byte(`{"a":1}`)}

	t.Run("transient error recovers in process", func(t *testing.T) {
		attempts := 0
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		}, nil, 3)

		if err := consumer.handleMessage(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Fatalf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("retry header counts against the limit", func(t *testing.T) {
		attempts := 0
		redelivered := &sarama.ConsumerMessage{
			Topic:   "topic",
			Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("2")}},
		}
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return errors.New("temporary")
		}, nil, 3)

		if err := consumer.handleMessage(context.Background(), redelivered); err == nil {
			t.Fatal("expected error when dlq is absent")
		}
		if attempts != 2 {
			t.Fatalf("expected 2 in-process attempts, got %d", attempts)
		}
	})

	t.Run("exhausted retries go to dlq", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(out *sarama.ProducerMessage) error {
			if out.Topic != TopicDeadLetterQueue {
				return fmt.Errorf("unexpected topic %s", out.Topic)
			}
			raw, err := out.Value.Encode()
			if err != nil {
				return err
			}
			var dlq DeadLetterMessage
			if err := json.Unmarshal(raw, &dlq); err != nil {
				return err
			}
			if dlq.OriginalOffset != 42 || dlq.RetryCount != 1 || dlq.ErrorMessage != "permanent" {
				return fmt.Errorf("unexpected dlq payload: %+v", dlq)
			}
			return nil
		})

		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			return errors.New("permanent")
		}, NewProducerFrom(mockProducer, nil), 1)

		if err := consumer.handleMessage(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error after dlq publish: %v", err)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("malformed message skips retries", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndSucceed()

		attempts := 0
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return fmt.Errorf("%w: bad json", domain.ErrMalformedMessage)
		}, NewProducerFrom(mockProducer, nil), 5)

		if err := consumer.handleMessage(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 1 {
			t.Fatalf("malformed message must not be retried, got %d attempts", attempts)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("dlq failure is reported", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			return errors.New("permanent")
		}, NewProducerFrom(mockProducer, nil), 0)

		if err := consumer.handleMessage(context.Background(), msg); err == nil {
			t.Fatal("expected dlq failure")
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			cancel()
			return errors.New("temporary")
		}, nil, 5)

		if err := consumer.handleMessage(ctx, msg); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}

	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	if got := consumer.getRetryCount(msg); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}

	invalid := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	if got := consumer.getRetryCount(invalid); got != 0 {
		t.Fatalf("invalid retry count should fallback to 0, got %d", got)
	}
}
