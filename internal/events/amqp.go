package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"flowerbelle/backend/internal/domain"
)

const (
	publishTimeout = 5 * time.Second
	confirmBuffer  = 64
)

// AMQPPublisher publishes JSON sale events to a durable topic exchange with
// publisher confirms. The event type is the routing key.
type AMQPPublisher struct {
	mu            sync.Mutex
	conn          *amqp.Connection
	channel       *amqp.Channel
	exchange      string
	notifyConfirm chan amqp.Confirmation
	deliveryTag   uint64
	logger        *zap.Logger
}

func NewAMQPPublisher(url string, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	err = channel.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	notifyConfirm := channel.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	logger.Info("amqp publisher ready", zap.String("exchange", exchange))

	return &AMQPPublisher{
		conn:          conn,
		channel:       channel,
		exchange:      exchange,
		notifyConfirm: notifyConfirm,
		logger:        logger,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event domain.SaleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	// Confirms arrive in publish order on a single channel.
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish(
		p.exchange,
		event.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    event.OccurredAt,
			MessageId:    fmt.Sprintf("%s-%d", event.Type, event.TransactionID),
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	p.deliveryTag++

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	for {
		select {
		case confirm, ok := <-p.notifyConfirm:
			if !ok {
				return errors.New("amqp channel closed before confirm")
			}
			// Late confirms from publishes that already timed out.
			if confirm.DeliveryTag < p.deliveryTag {
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("broker nacked %s event", event.Type)
			}
			p.logger.Debug("sale event published",
				zap.String("type", event.Type),
				zap.String("transaction_number", event.TransactionNumber))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errors.New("publish confirmation timeout")
		}
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.channel.Close()
	return p.conn.Close()
}
