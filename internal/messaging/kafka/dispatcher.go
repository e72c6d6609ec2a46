package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// SalesHandler — операции сервиса продаж, вызываемые из шины.
type SalesHandler interface {
	SubmitOrder(ctx context.Context, cmd domain.SubmitOrderCommand) (domain.Result, error)
	OrderPacked(ctx context.Context, event domain.OrderPackedEvent) (domain.Result, error)
	PaymentAccepted(ctx context.Context, event domain.PaymentAcceptedEvent) (domain.Result, error)
}

// Dispatcher маршрутизирует сообщения по topic-у в обработчики сервиса.
type Dispatcher struct {
	topics  Topics
	service SalesHandler
	logger  *log.Entry
}

// NewDispatcher создаёт диспетчер входящих сообщений.
func NewDispatcher(topics Topics, service SalesHandler) *Dispatcher {
	return &Dispatcher{
		topics:  topics,
		service: service,
		logger:  log.WithField("component", "kafka-dispatcher"),
	}
}

// Topics возвращает topic-и, на которые нужно подписаться.
func (d *Dispatcher) Topics() []string {
	return d.topics.Inbound()
}

// Handle реализует MessageHandler. Бизнес-отказы не являются ошибками:
// сообщение помечается обработанным, результат только логируется.
func (d *Dispatcher) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var (
		res domain.Result
		err error
	)

	switch message.Topic {
	case d.topics.SubmitOrder:
		msg, decodeErr := DecodeSubmitOrder(message.Value)
		if decodeErr != nil {
			return decodeErr
		}
		cmd := msg.Command()
		if cmd.CorrelationID == "" {
			cmd.CorrelationID = headerValue(message, HeaderCorrelationID)
		}
		res, err = d.service.SubmitOrder(ctx, cmd)
	case d.topics.OrderPacked:
		msg, decodeErr := DecodeOrderStatus(message.Value)
		if decodeErr != nil {
			return decodeErr
		}
		res, err = d.service.OrderPacked(ctx, domain.OrderPackedEvent{OrderID: msg.OrderID, CustomerID: msg.CustomerID})
	case d.topics.PaymentAccepted:
		msg, decodeErr := DecodeOrderStatus(message.Value)
		if decodeErr != nil {
			return decodeErr
		}
		res, err = d.service.PaymentAccepted(ctx, domain.PaymentAcceptedEvent{OrderID: msg.OrderID, CustomerID: msg.CustomerID})
	default:
		return fmt.Errorf("%w: unexpected topic %q", domain.ErrMalformedMessage, message.Topic)
	}
	if err != nil {
		return err
	}

	entry := d.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"disposition": res.Disposition,
	})
	if res.IsRejected() {
		entry.WithField("reason", res.Reason).Info("message rejected")
	} else {
		entry.WithField("order_id", res.OrderID).Debug("message handled")
	}
	return nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
