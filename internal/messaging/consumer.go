package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeliveryHandler обрабатывает одно сообщение. Возвращает true, если
// сообщение нужно подтвердить (ack), false - вернуть в очередь (nack).
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, msg amqp.Delivery) bool
}

// QueueConfig - параметры очереди задач.
type QueueConfig struct {
	Name       string `env:"NAME" env-default:"reels_pipeline_tasks"`
	Durable    bool   `env:"DURABLE" env-default:"true"`
	AutoDelete bool   `env:"AUTO_DELETE" env-default:"false"`
	Exclusive  bool   `env:"EXCLUSIVE" env-default:"false"`
	NoWait     bool   `env:"NO_WAIT" env-default:"false"`
}

// Consumer слушает очередь задач и передает сообщения обработчику с
// ручным подтверждением.
type Consumer struct {
	conn         *amqp.Connection
	queue        QueueConfig
	consumerName string
	handler      DeliveryHandler
	logger       *zap.Logger
}

// NewConsumer создает консьюмер задач.
func NewConsumer(conn *amqp.Connection, queue QueueConfig, consumerName string, handler DeliveryHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:         conn,
		queue:        queue,
		consumerName: consumerName,
		handler:      handler,
		logger:       logger.Named("consumer"),
	}
}

// Run объявляет очередь (с DLX для отравленных сообщений) и обрабатывает
// сообщения до отмены контекста или закрытия канала. Возврат без ошибки
// означает, что канал закрыт и соединением должен заняться вызывающий.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		c.logger.Error("Failed to open RabbitMQ channel for consumer", zap.Error(err))
		return err
	}
	defer ch.Close()

	// Отравленные сообщения уходят в DLX вместо бесконечного requeue.
	args := amqp.Table{
		"x-dead-letter-exchange":    RunTaskDLX,
		"x-dead-letter-routing-key": RunTaskDLQRoutingKey,
	}
	q, err := ch.QueueDeclare(
		c.queue.Name,
		c.queue.Durable,
		c.queue.AutoDelete,
		c.queue.Exclusive,
		c.queue.NoWait,
		args,
	)
	if err != nil {
		c.logger.Error("Failed to declare task queue", zap.String("queue", c.queue.Name), zap.Error(err))
		return err
	}
	c.logger.Info("Task queue declared",
		zap.String("queue", q.Name),
		zap.Int("messages", q.Messages),
		zap.Int("consumers", q.Consumers))

	// Один запуск пайплайна за раз: генерация долгая и дорогая.
	if err := ch.Qos(1, 0, false); err != nil {
		c.logger.Error("Failed to set QoS", zap.Error(err))
		return err
	}

	msgs, err := ch.Consume(
		q.Name,
		c.consumerName,
		false, // auto-ack выключен, подтверждаем вручную
		c.queue.Exclusive,
		false, // no-local
		c.queue.NoWait,
		nil,
	)
	if err != nil {
		c.logger.Error("Failed to register consumer", zap.String("queue", q.Name), zap.Error(err))
		return err
	}

	c.logger.Info("Consumer started, waiting for messages...")

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Consumer channel closed by RabbitMQ")
				return nil
			}
			c.logger.Debug("Received a message", zap.Uint64("deliveryTag", msg.DeliveryTag))
			if c.handler.HandleDelivery(ctx, msg) {
				if ackErr := msg.Ack(false); ackErr != nil {
					c.logger.Error("Failed to ack message",
						zap.Uint64("deliveryTag", msg.DeliveryTag), zap.Error(ackErr))
				}
			} else {
				// requeue=false: повторная доставка пойдет через DLX.
				if nackErr := msg.Nack(false, false); nackErr != nil {
					c.logger.Error("Failed to nack message",
						zap.Uint64("deliveryTag", msg.DeliveryTag), zap.Error(nackErr))
				}
			}
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping consumer...")
			return nil
		}
	}
}
