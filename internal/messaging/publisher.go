package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishAttempts = 3
	publishTimeout  = 10 * time.Second
	appID           = "multiverse-server"
)

// rabbitMQInstancePublisher публикует события экземпляров в fanout exchange.
type rabbitMQInstancePublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

var _ interfaces.InstanceEventPublisher = (*rabbitMQInstancePublisher)(nil)

// DeclareUpdatesExchange объявляет durable fanout exchange. Вызывается и паблишером, и консьюмером,
// параметры должны совпадать.
func DeclareUpdatesExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// NewInstanceUpdatePublisher открывает канал и объявляет exchange.
func NewInstanceUpdatePublisher(conn *amqp.Connection, exchange string, logger *zap.Logger) (*rabbitMQInstancePublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("instance update publisher: failed to open channel: %w", err)
	}
	if err := DeclareUpdatesExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("instance update publisher: failed to declare exchange '%s': %w", exchange, err)
	}
	log := logger.Named("InstanceUpdatePublisher")
	log.Info("Exchange declared", zap.String("exchange", exchange))
	return &rabbitMQInstancePublisher{channel: ch, exchange: exchange, logger: log}, nil
}

// PublishInstanceUpdate публикует событие с повторами.
func (p *rabbitMQInstancePublisher) PublishInstanceUpdate(ctx context.Context, update models.InstanceUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal instance update: %w", err)
	}
	return p.publishMessage(ctx, body)
}

func (p *rabbitMQInstancePublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("rabbitmq channel is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			p.exchange,
			"",    // routing key игнорируется fanout
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType: "application/json",
				Body:        body,
				Timestamp:   time.Now(),
				AppId:       appID,
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish to exchange %s cancelled: %w", p.exchange, ctx.Err())
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("failed to publish to exchange %s after retries: %w", p.exchange, err)
}

// Close закрывает канал паблишера.
func (p *rabbitMQInstancePublisher) Close() error {
	return p.channel.Close()
}
