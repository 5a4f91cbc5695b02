package publisher

import (
	"context"

	notificationdomain "github.com/smallbiznis/marketledger/internal/notification/domain"
	"go.uber.org/zap"
)

// LogPublisher stands in when no broker is reachable. Events are logged and
// dropped.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("notification.fallback")}
}

func (p *LogPublisher) Publish(ctx context.Context, routingKey string, envelope notificationdomain.Envelope) error {
	p.log.Info("notification not published, broker unavailable",
		zap.String("routing_key", routingKey),
		zap.String("event_id", envelope.ID),
		zap.String("recipient_kind", string(envelope.Recipient.Kind)),
		zap.String("recipient_id", envelope.Recipient.ID),
	)
	return nil
}

func (p *LogPublisher) Close() {}
