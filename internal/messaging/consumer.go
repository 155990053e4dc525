package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"multiverse-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// UpdateSink получатель событий экземпляров, например websocket-хаб.
type UpdateSink interface {
	Broadcast(update models.InstanceUpdate)
}

// InstanceUpdateConsumer читает события из exchange через собственную временную очередь,
// поэтому каждый процесс сервера получает все события.
type InstanceUpdateConsumer struct {
	conn        *amqp.Connection
	exchange    string
	sink        UpdateSink
	prefetch    int
	logger      *zap.Logger
	stopChannel chan struct{}
}

func NewInstanceUpdateConsumer(conn *amqp.Connection, exchange string, sink UpdateSink, logger *zap.Logger) *InstanceUpdateConsumer {
	return &InstanceUpdateConsumer{
		conn:        conn,
		exchange:    exchange,
		sink:        sink,
		prefetch:    32,
		logger:      logger.Named("InstanceUpdateConsumer"),
		stopChannel: make(chan struct{}),
	}
}

// StartConsuming блокирующий цикл чтения, запускать в отдельной горутине.
func (c *InstanceUpdateConsumer) StartConsuming(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareUpdatesExchange(ch, c.exchange); err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", c.exchange, err)
	}
	q, err := ch.QueueDeclare(
		"",    // имя выдаст сервер
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare updates queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue '%s' to '%s': %w", q.Name, c.exchange, err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	c.logger.Info("Consuming instance updates", zap.String("exchange", c.exchange), zap.String("queue", q.Name))

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Info("RabbitMQ delivery channel closed")
				return nil
			}
			c.handle(d)
		case <-c.stopChannel:
			c.logger.Info("Stop signal received")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *InstanceUpdateConsumer) handle(d amqp.Delivery) {
	var update models.InstanceUpdate
	if err := json.Unmarshal(d.Body, &update); err != nil {
		c.logger.Warn("Malformed instance update, dropping", zap.Uint64("deliveryTag", d.DeliveryTag), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	c.sink.Broadcast(update)
	_ = d.Ack(false)
}

// Stop останавливает цикл чтения.
func (c *InstanceUpdateConsumer) Stop() {
	close(c.stopChannel)
}
