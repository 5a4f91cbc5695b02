package notification

import (
	"context"
	"strings"

	"github.com/smallbiznis/marketledger/internal/config"
	notificationdomain "github.com/smallbiznis/marketledger/internal/notification/domain"
	"github.com/smallbiznis/marketledger/internal/notification/publisher"
	"github.com/smallbiznis/marketledger/internal/notification/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(newPublisher),
	fx.Provide(service.NewNotifier),
)

// newPublisher connects to RabbitMQ when configured and falls back to the
// log publisher when the broker is absent or unreachable at startup.
func newPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) notificationdomain.Publisher {
	var pub notificationdomain.Publisher = publisher.NewLogPublisher(log)
	if url := strings.TrimSpace(cfg.RabbitMQURL); url != "" {
		producer, err := publisher.NewProducer(url, notificationdomain.Exchange, log)
		if err != nil {
			log.Warn("rabbitmq unavailable, using log publisher", zap.Error(err))
		} else {
			pub = producer
		}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pub.Close()
			return nil
		},
	})
	return pub
}
