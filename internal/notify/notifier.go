// Package notify delivers operational alerts raised by the sync pipeline.
// Delivery is best-effort: callers log a failed Notify and carry on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	switch alert.(type) {
	case ClosureAlert, CostAlert, SyncFailureAlert, PendingVerificationAlert:
		n.logger.Warnw("alert", "kind", alert.Kind(), "payload", alert)
	default:
		n.logger.Infow("alert", "kind", alert.Kind(), "payload", alert)
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, queueName string, message []byte) error
}

type Envelope struct {
	Kind    string    `json:"kind"`
	SentAt  time.Time `json:"sent_at"`
	Payload Alert     `json:"payload"`
}

// BrokerNotifier hands alerts to whatever consumes the notification queue
// (mailer, chat webhook relay).
type BrokerNotifier struct {
	publisher Publisher
	queue     string
}

func NewBrokerNotifier(publisher Publisher, queue string) *BrokerNotifier {
	return &BrokerNotifier{publisher: publisher, queue: queue}
}

func (n *BrokerNotifier) Notify(ctx context.Context, alert Alert) error {
	msg, err := json.Marshal(Envelope{
		Kind:    alert.Kind(),
		SentAt:  time.Now().UTC(),
		Payload: alert,
	})
	if err != nil {
		return fmt.Errorf("marshal %s alert: %w", alert.Kind(), err)
	}

	if err := n.publisher.Publish(ctx, n.queue, msg); err != nil {
		return fmt.Errorf("publish %s alert: %w", alert.Kind(), err)
	}
	return nil
}
