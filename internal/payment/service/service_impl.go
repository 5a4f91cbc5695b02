package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	auditdomain "github.com/smallbiznis/marketledger/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	"github.com/smallbiznis/marketledger/internal/clock"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	"github.com/smallbiznis/marketledger/internal/lock"
	notificationdomain "github.com/smallbiznis/marketledger/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/marketledger/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const refundLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	Orders     orderdomain.Repository
	Settlement paymentdomain.Settlement
	Gateway    paymentdomain.Gateway
	Credit     creditdomain.Service
	Bookings   bookingdomain.Service
	Earnings   earningsdomain.Service
	Packages   packagedomain.Service
	Clock      clock.Clock
	Locker     *lock.Locker                `optional:"true"`
	AuditSvc   auditdomain.Service         `optional:"true"`
	Notifier   notificationdomain.Notifier `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	orders     orderdomain.Repository
	settlement paymentdomain.Settlement
	gateway    paymentdomain.Gateway
	credit     creditdomain.Service
	bookings   bookingdomain.Service
	earnings   earningsdomain.Service
	packages   packagedomain.Service
	clock      clock.Clock
	locker     *lock.Locker
	auditSvc   auditdomain.Service
	notifier   notificationdomain.Notifier
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		orders:     p.Orders,
		settlement: p.Settlement,
		gateway:    p.Gateway,
		credit:     p.Credit,
		bookings:   p.Bookings,
		earnings:   p.Earnings,
		packages:   p.Packages,
		clock:      p.Clock,
		locker:     p.Locker,
		auditSvc:   p.AuditSvc,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// ProcessEvent stores a parsed gateway event and applies it once. An event
// whose application fails keeps processed_at empty so the provider's
// redelivery runs it again.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	received := paymentdomain.Event{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		ChargeRef:       event.ChargeRef,
		Amount:          event.Amount,
		AmountRefunded:  event.AmountRefunded,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.apply(ctx, event); err != nil {
		if markErr := s.repo.MarkFailed(ctx, s.db, stored.ID, err.Error()); markErr != nil {
			s.log.Warn("mark payment event failed", zap.String("event_id", stored.ID.String()), zap.Error(markErr))
		}
		s.log.Warn("payment event not applied",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("type", event.Type),
			zap.String("charge_ref", event.ChargeRef),
			zap.Error(err),
		)
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return err
	}
	s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	event.ChargeRef = strings.TrimSpace(event.ChargeRef)
	event.Type = strings.TrimSpace(event.Type)
	if event.ProviderEventID == "" || event.ChargeRef == "" {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded, paymentdomain.EventTypePaymentFailed:
	case paymentdomain.EventTypeRefunded:
		if event.AmountRefunded <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		_, err := s.settlement.CompleteByChargeRef(ctx, event.ChargeRef)
		if err != nil && apperror.Is(err, apperror.Conflict) {
			// Money arrived for an order that already failed or was canceled.
			s.log.Error("charge succeeded on a closed order",
				zap.String("charge_ref", event.ChargeRef),
				zap.Error(err),
			)
			s.auditCharge(ctx, "payment.succeeded_on_closed_order", event)
			return nil
		}
		return err
	case paymentdomain.EventTypePaymentFailed:
		reason := event.Reason
		if reason == "" {
			reason = "charge failed"
		}
		_, err := s.settlement.Fail(ctx, event.ChargeRef, reason)
		return err
	case paymentdomain.EventTypeRefunded:
		_, err := s.ApplyRefund(ctx, event.ChargeRef, event.AmountRefunded, event.Reason)
		return err
	}
	return paymentdomain.ErrInvalidEvent
}

// RequestRefund refunds in.Amount on top of what the order already had
// refunded. The order row stays locked across the gateway call so concurrent
// requests queue and each sees the amount the previous one refunded. The
// gateway refund is keyed by the caller's key, or by the resulting cumulative
// amount when there is none.
func (s *Service) RequestRefund(ctx context.Context, in paymentdomain.RefundInput) (*orderdomain.Order, error) {
	if in.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if in.OrderID == 0 {
		return nil, orderdomain.ErrOrderNotFound
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "refunded"
	}

	var (
		order   *orderdomain.Order
		changed bool
		prev    int64
	)
	err := s.locker.With(ctx, lock.RefundKey(in.OrderID.String()), refundLockTTL, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			order, err = s.orders.LockByID(ctx, tx, in.OrderID)
			if err != nil {
				return err
			}
			if order == nil {
				return orderdomain.ErrOrderNotFound
			}
			if key != "" {
				seen, err := s.repo.FindEvent(ctx, tx, s.gateway.Provider(), refundEventID(order.ID, key))
				if err != nil {
					return err
				}
				if seen != nil {
					return nil
				}
			}
			if err := refundable(order); err != nil {
				return err
			}

			cumulative := order.RefundedAmount + in.Amount
			if cumulative > order.Total {
				return apperror.Wrapf(paymentdomain.ErrRefundExceedsTotal, "payment.refund",
					"refunded %d + %d exceeds total %d", order.RefundedAmount, in.Amount, order.Total)
			}
			gatewayKey := fmt.Sprintf("rf_%s_%d", order.ID, cumulative)
			if key != "" {
				gatewayKey = fmt.Sprintf("rf_%s_%s", order.ID, key)
			}
			chargeRef := *order.ChargeRef
			if _, err := s.gateway.Refund(ctx, paymentdomain.RefundRequest{
				ChargeRef: chargeRef,
				Amount:    in.Amount,
				Reason:    reason,
				Key:       gatewayKey,
			}); err != nil {
				return err
			}

			prev, changed, err = s.applyRefund(ctx, tx, order, cumulative, reason)
			if err != nil {
				return err
			}
			if key == "" {
				return nil
			}
			return s.recordRefundRequest(ctx, tx, order, key, in.Amount, cumulative, reason)
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.refundApplied(ctx, order, prev)
	}
	return order, nil
}

func refundEventID(orderID snowflake.ID, key string) string {
	return "refund_request:" + orderID.String() + ":" + key
}

// recordRefundRequest stores a processed event under the caller's key so a
// retried request is answered without a second gateway refund.
func (s *Service) recordRefundRequest(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, key string, amount, cumulative int64, reason string) error {
	payload, err := json.Marshal(map[string]any{
		"order_id": order.ID.String(),
		"amount":   amount,
		"reason":   reason,
	})
	if err != nil {
		return err
	}
	now := s.clock.Now()
	_, err = s.repo.InsertEvent(ctx, tx, &paymentdomain.Event{
		ID:              s.genID.Generate(),
		Provider:        s.gateway.Provider(),
		ProviderEventID: refundEventID(order.ID, key),
		EventType:       paymentdomain.EventTypeRefunded,
		ChargeRef:       *order.ChargeRef,
		Amount:          amount,
		AmountRefunded:  cumulative,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
		ProcessedAt:     &now,
	})
	return err
}

func refundable(order *orderdomain.Order) error {
	switch order.Status {
	case orderdomain.StatusCompleted, orderdomain.StatusPartiallyRefunded:
	default:
		return apperror.Wrapf(paymentdomain.ErrOrderNotRefundable, "payment.refund",
			"order %s is %s", order.Reference, order.Status)
	}
	if order.Total <= 0 || order.ChargeRef == nil {
		return apperror.Wrapf(paymentdomain.ErrOrderNotRefundable, "payment.refund",
			"order %s was not charged", order.Reference)
	}
	return nil
}

// ApplyRefund brings the order up to the cumulative refunded amount. A full
// refund unwinds the order; a partial one restores credits and reverses
// earnings in proportion to the newly refunded part.
func (s *Service) ApplyRefund(ctx context.Context, chargeRef string, cumulative int64, reason string) (*orderdomain.Order, error) {
	chargeRef = strings.TrimSpace(chargeRef)
	if chargeRef == "" || cumulative <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "refunded"
	}

	var (
		order   *orderdomain.Order
		changed bool
		prev    int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.orders.FindByChargeRef(ctx, tx, chargeRef)
		if err != nil {
			return err
		}
		if found == nil {
			return apperror.Wrapf(orderdomain.ErrOrderNotFound, "payment.refund", "charge %s", chargeRef)
		}
		order, err = s.orders.LockByID(ctx, tx, found.ID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		prev, changed, err = s.applyRefund(ctx, tx, order, cumulative, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.refundApplied(ctx, order, prev)
	}
	return order, nil
}

// applyRefund moves a locked order to cumulative and returns the amount
// refunded before. Amounts at or below the recorded one change nothing.
func (s *Service) applyRefund(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, cumulative int64, reason string) (int64, bool, error) {
	if cumulative > order.Total {
		s.log.Warn("refund above order total clamped",
			zap.String("order_id", order.ID.String()),
			zap.Int64("refunded", cumulative),
			zap.Int64("total", order.Total),
		)
		cumulative = order.Total
	}
	if order.Status == orderdomain.StatusRefunded || cumulative <= order.RefundedAmount {
		return order.RefundedAmount, false, nil
	}
	if err := refundable(order); err != nil {
		return 0, false, err
	}

	prev := order.RefundedAmount
	full := cumulative >= order.Total
	if err := s.restoreCredits(ctx, tx, order, prev, cumulative); err != nil {
		return 0, false, err
	}
	if err := s.reverseEarnings(ctx, tx, order, prev, cumulative, full, reason); err != nil {
		return 0, false, err
	}
	if full {
		if err := s.unwind(ctx, tx, order, reason); err != nil {
			return 0, false, err
		}
	}

	order.RefundedAmount = cumulative
	order.Status = orderdomain.StatusPartiallyRefunded
	if full {
		order.Status = orderdomain.StatusRefunded
	}
	if err := s.orders.Update(ctx, tx, order); err != nil {
		return 0, false, err
	}
	s.auditOrder(ctx, tx, "order."+string(order.Status), order, map[string]any{
		"previous_refunded": prev,
		"refunded":          cumulative,
		"reason":            reason,
	})
	return prev, true, nil
}

func (s *Service) refundApplied(ctx context.Context, order *orderdomain.Order, prev int64) {
	s.notify(ctx, order, order.RefundedAmount-prev)
	s.log.Info("order refund applied",
		zap.String("order_id", order.ID.String()),
		zap.String("status", string(order.Status)),
		zap.Int64("refunded", order.RefundedAmount),
		zap.Int64("delta", order.RefundedAmount-prev),
	)
}

// restoreCredits returns the credits share of the refunded range. Shares are
// computed on cumulative amounts, so rounding never loses or adds a credit
// over a sequence of partial refunds.
func (s *Service) restoreCredits(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, prev, cumulative int64) error {
	if order.CreditsApplied <= 0 {
		return nil
	}
	restore := creditShare(order.CreditsApplied, cumulative, order.Total) - creditShare(order.CreditsApplied, prev, order.Total)
	if restore <= 0 {
		return nil
	}
	orderID := order.ID
	_, err := s.credit.AppendTx(ctx, tx, creditdomain.AppendInput{
		UserID:         order.UserID,
		Amount:         restore,
		Type:           creditdomain.EntryTypeRefund,
		OrderID:        &orderID,
		IdempotencyKey: fmt.Sprintf("order:%s:refund:%d", order.ID, cumulative),
		Reason:         "order refund",
	})
	return err
}

func creditShare(credits, refunded, total int64) int64 {
	if refunded >= total {
		return credits
	}
	return credits * refunded / total
}

func (s *Service) reverseEarnings(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, prev, cumulative int64, full bool, reason string) error {
	txns, err := s.earnings.ListByOrder(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	delta := cumulative - prev
	for _, txn := range txns {
		if txn.Status == earningsdomain.StatusReversed {
			continue
		}
		if full {
			_, err = s.earnings.Reverse(ctx, tx, txn.ID, reason)
		} else {
			gross := txn.Gross * delta / order.Total
			if gross <= 0 {
				continue
			}
			key := fmt.Sprintf("refund:%s:%d:%s", order.ID, cumulative, txn.ID)
			_, err = s.earnings.ReversePartial(ctx, tx, txn.ID, gross, key, reason)
		}
		if errors.Is(err, earningsdomain.ErrAlreadyPaid) {
			s.log.Warn("refunded earnings already paid out",
				zap.String("order_id", order.ID.String()),
				zap.String("transaction_id", txn.ID.String()),
				zap.String("practitioner_id", txn.PractitionerID.String()),
				zap.Int64("net", txn.Net),
			)
			s.auditOrder(ctx, tx, "earnings.clawback_required", order, map[string]any{
				"transaction_id":  txn.ID.String(),
				"practitioner_id": txn.PractitionerID.String(),
				"net":             txn.Net,
			})
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// unwind cancels what a fully refunded order still holds open. Sessions
// that already took place stay completed.
func (s *Service) unwind(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, reason string) error {
	bookings, err := s.bookings.ListByOrder(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	for _, b := range bookings {
		if _, _, err := s.bookings.Cancel(ctx, tx, b.ID, reason); err != nil && !errors.Is(err, bookingdomain.ErrBookingCompleted) {
			return err
		}
	}
	switch order.Type {
	case orderdomain.TypePackage, orderdomain.TypeBundle:
		if _, err := s.packages.Cancel(ctx, tx, order.ID); err != nil && !errors.Is(err, packagedomain.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, order *orderdomain.Order, delta int64) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx,
		notificationdomain.Recipient{Kind: notificationdomain.RecipientUser, ID: order.UserID.String()},
		notificationdomain.EventOrderRefunded,
		map[string]any{
			"order_id":  order.ID.String(),
			"reference": order.Reference,
			"status":    string(order.Status),
			"amount":    delta,
			"refunded":  order.RefundedAmount,
			"currency":  order.Currency,
		},
	)
}

func (s *Service) auditOrder(ctx context.Context, tx *gorm.DB, action string, order *orderdomain.Order, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata["reference"] = order.Reference
	if order.ChargeRef != nil {
		metadata["charge_ref"] = *order.ChargeRef
	}
	if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		ActorType:  "system",
		Action:     action,
		TargetType: "order",
		TargetID:   order.ID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) auditCharge(ctx context.Context, action string, event *paymentdomain.PaymentEvent) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, s.db, auditdomain.Entry{
		ActorType:  "provider",
		ActorID:    event.Provider,
		Action:     action,
		TargetType: "charge",
		TargetID:   event.ChargeRef,
		Metadata: map[string]any{
			"provider_event_id": event.ProviderEventID,
			"amount":            event.Amount,
			"currency":          event.Currency,
		},
	}); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}
