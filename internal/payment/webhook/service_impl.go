package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/marketledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Reconciler paymentdomain.Reconciler
	Adapters   *adapters.Registry
}

type Service struct {
	log        *zap.Logger
	reconciler paymentdomain.Reconciler
	adapters   *adapters.Registry
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		reconciler: p.Reconciler,
		adapters:   p.Adapters,
	}
}

// IngestWebhook verifies a delivery with the provider's adapter and hands the
// parsed event to the reconciler. Event types the ledger does not track are
// acknowledged without being stored.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return err
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("payment webhook rejected", zap.String("provider", provider), zap.Error(err))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("payment webhook ignored", zap.String("provider", provider))
			return nil
		}
		return err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	return s.reconciler.ProcessEvent(ctx, event, payload)
}
