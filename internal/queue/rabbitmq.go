package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQBroker struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	maxRetries int
	retryDelay time.Duration
	mu         sync.RWMutex
}

type Config struct {
	URL        string
	MaxRetries int
	RetryDelay time.Duration
}

func NewRabbitMQBroker(cfg Config) (*RabbitMQBroker, error) {
	broker := &RabbitMQBroker{
		url:        cfg.URL,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
	if broker.maxRetries < 1 {
		broker.maxRetries = 1
	}

	if err := broker.connect(); err != nil {
		return nil, err
	}

	for _, queueName := range []string{QueueNotifications, QueueNotificationsDLQ} {
		if err := broker.declareQueue(queueName); err != nil {
			broker.Close()
			return nil, err
		}
	}

	return broker, nil
}

func (b *RabbitMQBroker) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = channel
	b.mu.Unlock()
	return nil
}

func (b *RabbitMQBroker) declareQueue(queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return nil
}

func (b *RabbitMQBroker) Publish(ctx context.Context, queueName string, message []byte) error {
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			if b.isClosed() {
				if err := b.connect(); err != nil {
					lastErr = err
					continue
				}
			}
		}

		b.mu.RLock()
		err := b.channel.PublishWithContext(ctx,
			"",        // exchange
			queueName, // routing key
			false,     // mandatory
			false,     // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Body:         message,
			},
		)
		b.mu.RUnlock()

		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", b.maxRetries, lastErr)
}

func (b *RabbitMQBroker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn == nil || b.conn.IsClosed()
}

func (b *RabbitMQBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *RabbitMQBroker) Ping() error {
	if b.isClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}
