package queue

import (
	"context"
)

type Broker interface {
	Publish(ctx context.Context, queueName string, message []byte) error
	Ping() error
	Close() error
}

const (
	QueueNotifications    = "placesync-notifications"
	QueueNotificationsDLQ = "placesync-notifications-dlq"
)
