package service

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/marketledger/internal/clock"
	notificationdomain "github.com/smallbiznis/marketledger/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

type Params struct {
	fx.In

	Log       *zap.Logger
	Publisher notificationdomain.Publisher
	Clock     clock.Clock
}

type Notifier struct {
	log       *zap.Logger
	publisher notificationdomain.Publisher
	clock     clock.Clock
}

func NewNotifier(p Params) notificationdomain.Notifier {
	return &Notifier{
		log:       p.Log.Named("notification.service"),
		publisher: p.Publisher,
		clock:     p.Clock,
	}
}

// Notify publishes one event. The caller's cancellation does not abort the
// publish; a committed transaction still gets its notification.
func (n *Notifier) Notify(ctx context.Context, recipient notificationdomain.Recipient, eventType string, payload map[string]any) {
	envelope := notificationdomain.Envelope{
		ID:         ulid.Make().String(),
		Type:       eventType,
		Recipient:  recipient,
		Payload:    payload,
		OccurredAt: n.clock.Now(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.publisher.Publish(pubCtx, eventType, envelope); err != nil {
		n.log.Error("notification publish failed",
			zap.String("event_type", eventType),
			zap.String("event_id", envelope.ID),
			zap.String("recipient_id", recipient.ID),
			zap.Error(err),
		)
	}
}
