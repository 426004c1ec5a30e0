package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher определяет интерфейс публикации результатов запуска.
type Publisher interface {
	Publish(ctx context.Context, payload interface{}, correlationID string) error
	Close() error
}

// rabbitMQPublisher - реализация Publisher поверх канала RabbitMQ.
type rabbitMQPublisher struct {
	ch           *amqp.Channel
	exchangeName string
	routingKey   string
	queueName    string
	logger       *zap.Logger
	mu           sync.Mutex
}

// NewRabbitMQPublisher создает паблишер. При пустом exchange сообщения
// идут напрямую в очередь, которая объявляется здесь же: это делает
// систему устойчивой к порядку запуска сервисов.
func NewRabbitMQPublisher(conn *amqp.Connection, exchange, routingKey, queueName string, logger *zap.Logger) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for publisher: %w", err)
	}

	if exchange == "" && queueName != "" {
		_, err := ch.QueueDeclare(
			queueName,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // arguments
		)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare result queue %s: %w", queueName, err)
		}
		if routingKey == "" {
			routingKey = queueName
		}
	}

	return &rabbitMQPublisher{
		ch:           ch,
		exchangeName: exchange,
		routingKey:   routingKey,
		queueName:    queueName,
		logger:       logger.Named("publisher"),
	}, nil
}

func (p *rabbitMQPublisher) Publish(ctx context.Context, payload interface{}, correlationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return errors.New("publisher channel is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchangeName,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			Body:          body,
			DeliveryMode:  amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug("Message published",
		zap.String("routingKey", p.routingKey),
		zap.String("correlationId", correlationID),
		zap.Int("sizeBytes", len(body)))
	return nil
}

func (p *rabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		err := p.ch.Close()
		p.ch = nil
		return err
	}
	return nil
}
