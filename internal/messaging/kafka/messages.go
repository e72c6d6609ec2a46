package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Topics по умолчанию.
const (
	TopicSubmitOrder     = "sales.submit-order"
	TopicOrderPacked     = "warehouse.order-packed"
	TopicPaymentAccepted = "payments.payment-accepted"
	TopicOrderSubmitted  = "sales.order-submitted"
	TopicDeadLetterQueue = "sales.dlq"
)

// Kafka headers.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderCorrelationID = "x-correlation-id"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
)

// EventTypeOrderSubmitted — тип события в заголовке и в outbox.
const EventTypeOrderSubmitted = "OrderSubmitted"

// Topics — набор topic-ов, с которыми работает сервис.
type Topics struct {
	SubmitOrder     string
	OrderPacked     string
	PaymentAccepted string
	OrderSubmitted  string
	DeadLetter      string
}

// DefaultTopics возвращает имена topic-ов по умолчанию.
func DefaultTopics() Topics {
	return Topics{
		SubmitOrder:     TopicSubmitOrder,
		OrderPacked:     TopicOrderPacked,
		PaymentAccepted: TopicPaymentAccepted,
		OrderSubmitted:  TopicOrderSubmitted,
		DeadLetter:      TopicDeadLetterQueue,
	}
}

// Inbound возвращает topic-и, на которые подписывается консьюмер.
func (t Topics) Inbound() []string {
	return []string{t.SubmitOrder, t.OrderPacked, t.PaymentAccepted}
}

// ItemMessage описывает позицию (товар, количество) на проводе.
type ItemMessage struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

// SubmitOrderMessage — JSON-представление SubmitOrderCommand.
type SubmitOrderMessage struct {
	CorrelationID string        `json:"correlation_id"`
	CustomerID    int64         `json:"customer_id"`
	Items         []ItemMessage `json:"items"`
}

// OrderSubmittedMessage — JSON-представление OrderSubmittedEvent.
type OrderSubmittedMessage struct {
	CorrelationID string          `json:"correlation_id"`
	CustomerID    int64           `json:"customer_id"`
	OrderID       int64           `json:"order_id"`
	Total         decimal.Decimal `json:"total"`
	Products      []ItemMessage   `json:"products"`
}

// OrderStatusMessage задаёт общий формат OrderPackedEvent и PaymentAcceptedEvent.
type OrderStatusMessage struct {
	OrderID    int64 `json:"order_id"`
	CustomerID int64 `json:"customer_id"`
}

// DeadLetterMessage описывает сообщение, отправленное в DLQ.
type DeadLetterMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// OutboxDeadLetter — запись outbox worker-а в DLQ после исчерпания попыток публикации.
// Payload хранит исходное событие без изменений, чтобы его можно было переотправить.
type OutboxDeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	OriginalTopic  string          `json:"original_topic"`
	OriginalKey    string          `json:"original_key"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	Attempts       int             `json:"attempts"`
	DeadLetteredAt time.Time       `json:"dlq_published_at"`
}

// NewOutboxDeadLetter собирает DLQ-запись для неопубликованного outbox-сообщения.
func NewOutboxDeadLetter(msg domain.OutboxMessage, attempts int, publishErr error, at time.Time) OutboxDeadLetter {
	record := OutboxDeadLetter{
		OutboxID:       msg.ID,
		OriginalTopic:  msg.Topic,
		OriginalKey:    msg.Key,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		Attempts:       attempts,
		DeadLetteredAt: at.UTC(),
	}
	if publishErr != nil {
		record.PublishError = publishErr.Error()
	}
	return record
}

// NewSubmitOrderMessage конвертирует команду в формат шины.
func NewSubmitOrderMessage(cmd domain.SubmitOrderCommand) SubmitOrderMessage {
	return SubmitOrderMessage{
		CorrelationID: cmd.CorrelationID,
		CustomerID:    cmd.CustomerID,
		Items:         fromItemRequests(cmd.Items),
	}
}

// Command возвращает доменную команду.
func (m SubmitOrderMessage) Command() domain.SubmitOrderCommand {
	return domain.SubmitOrderCommand{
		CorrelationID: m.CorrelationID,
		CustomerID:    m.CustomerID,
		Items:         toItemRequests(m.Items),
	}
}

// NewOrderSubmittedMessage конвертирует событие в формат шины.
func NewOrderSubmittedMessage(event domain.OrderSubmittedEvent) OrderSubmittedMessage {
	return OrderSubmittedMessage{
		CorrelationID: event.CorrelationID,
		CustomerID:    event.CustomerID,
		OrderID:       event.OrderID,
		Total:         event.Total,
		Products:      fromItemRequests(event.Products),
	}
}

// Event возвращает доменное событие.
func (m OrderSubmittedMessage) Event() domain.OrderSubmittedEvent {
	return domain.OrderSubmittedEvent{
		CorrelationID: m.CorrelationID,
		CustomerID:    m.CustomerID,
		OrderID:       m.OrderID,
		Total:         m.Total,
		Products:      toItemRequests(m.Products),
	}
}

// OrderKey возвращает ключ партиционирования событий заказа.
func OrderKey(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}

// MarshalOrderSubmitted сериализует событие так же, как его отправляет прямой паблишер.
func MarshalOrderSubmitted(event domain.OrderSubmittedEvent) ([]byte, error) {
	payload, err := json.Marshal(NewOrderSubmittedMessage(event))
	if err != nil {
		return nil, fmt.Errorf("marshal order submitted event: %w", err)
	}
	return payload, nil
}

// DecodeSubmitOrder разбирает команду. Ошибки оборачивают domain.ErrMalformedMessage.
func DecodeSubmitOrder(value []byte) (SubmitOrderMessage, error) {
	var msg SubmitOrderMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return SubmitOrderMessage{}, fmt.Errorf("%w: submit order: %v", domain.ErrMalformedMessage, err)
	}
	for _, item := range msg.Items {
		if item.Quantity <= 0 {
			return SubmitOrderMessage{}, fmt.Errorf("%w: submit order: non-positive quantity for product %d",
				domain.ErrMalformedMessage, item.ProductID)
		}
	}
	return msg, nil
}

// DecodeOrderStatus разбирает событие статуса. Ошибки оборачивают domain.ErrMalformedMessage.
func DecodeOrderStatus(value []byte) (OrderStatusMessage, error) {
	var msg OrderStatusMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return OrderStatusMessage{}, fmt.Errorf("%w: order status: %v", domain.ErrMalformedMessage, err)
	}
	if msg.OrderID <= 0 {
		return OrderStatusMessage{}, fmt.Errorf("%w: order status: missing order_id", domain.ErrMalformedMessage)
	}
	return msg, nil
}

func fromItemRequests(items []domain.ItemRequest) []ItemMessage {
	out := make([]ItemMessage, 0, len(items))
	for _, item := range items {
		out = append(out, ItemMessage{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

func toItemRequests(items []ItemMessage) []domain.ItemRequest {
	out := make([]domain.ItemRequest, 0, len(items))
	for _, item := range items {
		out = append(out, domain.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}
