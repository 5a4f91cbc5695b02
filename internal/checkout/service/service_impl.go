package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/marketledger/internal/apperror"
	auditdomain "github.com/smallbiznis/marketledger/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	catalogdomain "github.com/smallbiznis/marketledger/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/marketledger/internal/checkout/domain"
	"github.com/smallbiznis/marketledger/internal/clock"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	"github.com/smallbiznis/marketledger/internal/lock"
	notificationdomain "github.com/smallbiznis/marketledger/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/marketledger/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/marketledger/internal/pricing/domain"
	"github.com/smallbiznis/marketledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const confirmLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Orders     orderdomain.Repository
	Catalog    catalogdomain.Repository
	Pricing    pricingdomain.Service
	Credit     creditdomain.Service
	Bookings   bookingdomain.Service
	Earnings   earningsdomain.Service
	Packages   packagedomain.Service
	Gateway    paymentdomain.Gateway
	Clock      clock.Clock
	Locker     *lock.Locker                `optional:"true"`
	Notifier   notificationdomain.Notifier `optional:"true"`
	Audit      auditdomain.Service         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	orders     orderdomain.Repository
	catalog    catalogdomain.Repository
	pricing    pricingdomain.Service
	credit     creditdomain.Service
	bookings   bookingdomain.Service
	earnings   earningsdomain.Service
	packages   packagedomain.Service
	gateway    paymentdomain.Gateway
	clock      clock.Clock
	locker     *lock.Locker
	notifier   notificationdomain.Notifier
	audit      auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	validate   *validator.Validate
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("checkout.service"),
		genID:      p.GenID,
		orders:     p.Orders,
		catalog:    p.Catalog,
		pricing:    p.Pricing,
		credit:     p.Credit,
		bookings:   p.Bookings,
		earnings:   p.Earnings,
		packages:   p.Packages,
		gateway:    p.Gateway,
		clock:      p.Clock,
		locker:     p.Locker,
		notifier:   p.Notifier,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
		validate:   validator.New(),
	}
}

func (s *Service) Preview(ctx context.Context, req checkoutdomain.Request) (*pricingdomain.Quote, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	return s.pricing.Quote(ctx, req.QuoteInput())
}

func (s *Service) validateRequest(req checkoutdomain.Request) error {
	if err := s.validate.Struct(req); err != nil {
		return apperror.Wrap(checkoutdomain.ErrInvalidRequest, "checkout.validate", err)
	}
	if !req.Type.Valid() {
		return checkoutdomain.ErrInvalidRequest
	}
	if req.Type == orderdomain.TypeCreditPurchase && strings.TrimSpace(req.DiscountCode) != "" {
		return apperror.Wrapf(checkoutdomain.ErrDiscountNotAllowed, "checkout.validate",
			"discount code %q on a credit purchase", req.DiscountCode)
	}
	return nil
}

// Checkout prices the request and creates a pending order with its draft
// bookings. A zero total settles immediately; anything else is charged
// outside the database transaction.
func (s *Service) Checkout(ctx context.Context, req checkoutdomain.Request) (*checkoutdomain.Result, error) {
	if err := s.validateRequest(req); err != nil {
		s.obsMetrics.RecordCheckout(ctx, string(req.Type), "invalid")
		return nil, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, s.db, req.UserID, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.resume(ctx, existing)
		}
	}

	var (
		order    *orderdomain.Order
		bookings []bookingdomain.Booking
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quote, err := s.pricing.QuoteTx(ctx, tx, req.QuoteInput())
		if err != nil {
			return err
		}
		order, bookings, err = s.createOrder(ctx, tx, req, quote, key)
		if err != nil {
			return err
		}
		return s.reserveCredits(ctx, tx, order)
	})
	if err != nil {
		if key != "" && db.IsDuplicateKeyErr(err) {
			existing, findErr := s.orders.FindByIdempotencyKey(ctx, s.db, req.UserID, key)
			if findErr == nil && existing != nil {
				return s.resume(ctx, existing)
			}
		}
		s.obsMetrics.RecordCheckout(ctx, string(req.Type), "rejected")
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("reference", order.Reference),
		zap.String("type", string(order.Type)),
		zap.Int64("total", order.Total),
		zap.Int64("credits_applied", order.CreditsApplied),
	)

	if order.Total == 0 {
		completed, err := s.Complete(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return s.result(ctx, completed, nil)
	}
	return s.charge(ctx, order, bookings)
}

func (s *Service) createOrder(ctx context.Context, tx *gorm.DB, req checkoutdomain.Request, quote *pricingdomain.Quote, key string) (*orderdomain.Order, []bookingdomain.Booking, error) {
	if err := checkItemKinds(req.Type, quote.Items); err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	order := &orderdomain.Order{
		ID:             s.genID.Generate(),
		Reference:      "ord_" + ulid.Make().String(),
		UserID:         req.UserID,
		Type:           req.Type,
		Status:         orderdomain.StatusPending,
		Currency:       quote.Currency,
		Subtotal:       quote.Discounted(),
		Discount:       quote.Discount,
		Tax:            quote.Tax,
		CreditsApplied: quote.CreditsApplied,
		Total:          quote.Total,
		DiscountCode:   quote.DiscountCode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	details, err := s.buildDetails(ctx, tx, order, quote, now)
	if err != nil {
		return nil, nil, err
	}
	if err := s.orders.Insert(ctx, tx, order); err != nil {
		return nil, nil, err
	}

	items := make([]orderdomain.Item, 0, len(quote.Items))
	for _, q := range quote.Items {
		items = append(items, orderdomain.Item{
			ID:             s.genID.Generate(),
			OrderID:        order.ID,
			ServiceID:      q.ServiceID,
			PractitionerID: q.Service.PractitionerID,
			Category:       q.Service.Category,
			Quantity:       q.Quantity,
			UnitPrice:      q.UnitPrice,
			Amount:         q.Amount,
			Discount:       q.Discount,
			CreatedAt:      now,
		})
	}
	if err := s.orders.InsertItems(ctx, tx, items); err != nil {
		return nil, nil, err
	}
	if details != nil {
		if err := s.orders.InsertDetails(ctx, tx, details); err != nil {
			return nil, nil, err
		}
	}

	var bookings []bookingdomain.Booking
	if order.Type == orderdomain.TypeDirectService {
		for i := range items {
			start := req.Items[i].StartTime
			if start == nil || start.IsZero() {
				return nil, nil, apperror.Wrapf(checkoutdomain.ErrStartTimeRequired, "checkout.items",
					"session %s", items[i].ServiceID)
			}
			svc := quote.Items[i].Service
			booking, err := s.bookings.CreateDraft(ctx, tx, bookingdomain.DraftInput{
				OrderID:        order.ID,
				ServiceID:      svc.ID,
				PractitionerID: svc.PractitionerID,
				UserID:         order.UserID,
				Category:       svc.Category,
				Amount:         items[i].Net(),
				StartTime:      *start,
				Duration:       time.Duration(svc.DurationMinutes) * time.Minute,
			})
			if err != nil {
				return nil, nil, err
			}
			if err := s.orders.UpdateItemBooking(ctx, tx, items[i].ID, booking.ID); err != nil {
				return nil, nil, err
			}
			bookingID := booking.ID
			items[i].BookingID = &bookingID
			bookings = append(bookings, *booking)
		}
	}

	order.Items = items
	order.Details = details
	return order, bookings, nil
}

// reserveCredits debits the applied credits with the order, so two pending
// orders cannot spend the same balance. Closing the order unpaid releases them.
func (s *Service) reserveCredits(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) error {
	if order.CreditsApplied <= 0 {
		return nil
	}
	orderID := order.ID
	_, err := s.credit.AppendTx(ctx, tx, creditdomain.AppendInput{
		UserID:         order.UserID,
		Amount:         -order.CreditsApplied,
		Type:           creditdomain.EntryTypeUsage,
		OrderID:        &orderID,
		IdempotencyKey: ledgerKey(order, "credits"),
		Reason:         "credits applied to " + order.Reference,
	})
	if errors.Is(err, creditdomain.ErrInsufficientCredit) {
		return apperror.Wrap(checkoutdomain.ErrInsufficientCredit, "checkout.reserve", err)
	}
	return err
}

func (s *Service) releaseCredits(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) error {
	if order.CreditsApplied <= 0 {
		return nil
	}
	orderID := order.ID
	_, err := s.credit.AppendTx(ctx, tx, creditdomain.AppendInput{
		UserID:         order.UserID,
		Amount:         order.CreditsApplied,
		Type:           creditdomain.EntryTypeRefund,
		OrderID:        &orderID,
		IdempotencyKey: ledgerKey(order, "credits_released"),
		Reason:         "order " + string(order.Status),
	})
	return err
}

// checkItemKinds enforces which catalog kinds each order type may sell.
func checkItemKinds(orderType orderdomain.Type, items []pricingdomain.QuotedItem) error {
	var want catalogdomain.ServiceKind
	single := true
	switch orderType {
	case orderdomain.TypeDirectService:
		want, single = catalogdomain.KindSession, false
	case orderdomain.TypeCreditPurchase:
		want, single = catalogdomain.KindCreditPack, false
	case orderdomain.TypePackage:
		want = catalogdomain.KindPackage
	case orderdomain.TypeBundle:
		want = catalogdomain.KindBundle
	case orderdomain.TypeSubscription:
		want = catalogdomain.KindSubscription
	default:
		return checkoutdomain.ErrInvalidRequest
	}
	if single && (len(items) != 1 || items[0].Quantity != 1) {
		return apperror.Wrapf(checkoutdomain.ErrItemTypeMismatch, "checkout.items",
			"%s orders carry exactly one item", orderType)
	}
	for _, item := range items {
		if item.Service == nil || item.Service.Kind != want {
			return apperror.Wrapf(checkoutdomain.ErrItemTypeMismatch, "checkout.items",
				"service %s is not a %s", item.ServiceID, want)
		}
		if orderType == orderdomain.TypeDirectService && item.Quantity != 1 {
			return apperror.Wrapf(checkoutdomain.ErrItemTypeMismatch, "checkout.items",
				"session %s booked with quantity %d", item.ServiceID, item.Quantity)
		}
	}
	return nil
}

// buildDetails returns the typed details row for order, nil for direct
// service orders. Session start times are checked here because they are
// the only per-item input the quote does not carry.
func (s *Service) buildDetails(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, quote *pricingdomain.Quote, now time.Time) (orderdomain.Details, error) {
	switch order.Type {
	case orderdomain.TypeDirectService:
		return nil, nil
	case orderdomain.TypePackage, orderdomain.TypeBundle:
		item := quote.Items[0]
		svc := item.Service
		sessions := svc.SessionCount * item.Quantity
		if sessions <= 0 {
			return nil, apperror.Wrapf(checkoutdomain.ErrItemTypeMismatch, "checkout.details", "service %s has no sessions", svc.ID)
		}
		plan := orderdomain.SessionPlan{
			OrderID:         order.ID,
			ServiceID:       svc.ID,
			PractitionerID:  svc.PractitionerID,
			Category:        svc.Category,
			TotalSessions:   sessions,
			SessionValue:    item.Net() / int64(sessions),
			PackageValue:    item.Net(),
			DurationMinutes: svc.DurationMinutes,
			ExpiresAt:       validity(now, svc.ValidityDays),
		}
		if order.Type == orderdomain.TypeBundle {
			return &orderdomain.BundleDetails{SessionPlan: plan}, nil
		}
		return &orderdomain.PackageDetails{SessionPlan: plan}, nil
	case orderdomain.TypeSubscription:
		practitioner, err := s.catalog.FindPractitionerByUser(ctx, tx, order.UserID)
		if err != nil {
			return nil, err
		}
		if practitioner == nil {
			return nil, checkoutdomain.ErrNotPractitioner
		}
		tier := strings.TrimSpace(quote.Items[0].Service.TierCode)
		if tier == "" {
			return nil, apperror.Wrapf(checkoutdomain.ErrItemTypeMismatch, "checkout.details", "subscription without tier")
		}
		return &orderdomain.SubscriptionDetails{OrderID: order.ID, PractitionerID: practitioner.ID, TierCode: tier}, nil
	case orderdomain.TypeCreditPurchase:
		var credits, granted int64
		days := 0
		for _, item := range quote.Items {
			credits += item.Net()
			value := item.Service.CreditValue
			if value <= 0 {
				value = item.UnitPrice
			}
			granted += value * int64(item.Quantity)
			if item.Service.ValidityDays > days {
				days = item.Service.ValidityDays
			}
		}
		bonus := granted - credits
		if bonus < 0 {
			bonus = 0
		}
		return &orderdomain.CreditPurchaseDetails{
			OrderID:      order.ID,
			Credits:      credits,
			BonusCredits: bonus,
			ExpiresAt:    validity(now, days),
		}, nil
	}
	return nil, checkoutdomain.ErrInvalidRequest
}

func validity(now time.Time, days int) *time.Time {
	if days <= 0 {
		return nil
	}
	expires := now.AddDate(0, 0, days)
	return &expires
}

// charge asks the gateway to collect order.Total and stores the charge
// reference. A gateway error leaves the order pending so the same
// idempotency key can retry it.
func (s *Service) charge(ctx context.Context, order *orderdomain.Order, bookings []bookingdomain.Booking) (*checkoutdomain.Result, error) {
	req := paymentdomain.ChargeRequest{
		Reference: order.Reference,
		Amount:    order.Total,
		Currency:  order.Currency,
		UserID:    order.UserID,
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, paymentdomain.ChargeItem{
			ID:       item.ServiceID.String(),
			Name:     string(order.Type),
			Price:    item.UnitPrice,
			Quantity: item.Quantity,
		})
	}

	charge, err := s.gateway.CreateCharge(ctx, req)
	if err != nil {
		s.obsMetrics.RecordCheckout(ctx, string(order.Type), "gateway_error")
		s.log.Warn("create charge failed",
			zap.String("order_id", order.ID.String()),
			zap.String("provider", s.gateway.Provider()),
			zap.Error(err),
		)
		result := &checkoutdomain.Result{Order: order, Bookings: bookings}
		if apperror.Is(err, apperror.Gateway) {
			return result, err
		}
		return result, apperror.Wrap(paymentdomain.ErrGatewayFailure, "checkout.charge", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.orders.LockByID(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return orderdomain.ErrOrderNotFound
		}
		ref := charge.Ref
		locked.ChargeRef = &ref
		if err := s.orders.Update(ctx, tx, locked); err != nil {
			return err
		}
		order.ChargeRef = &ref
		order.UpdatedAt = locked.UpdatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if charge.Status == paymentdomain.ChargeSucceeded {
		completed, err := s.Complete(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return s.result(ctx, completed, charge)
	}

	s.obsMetrics.RecordCheckout(ctx, string(order.Type), string(charge.Status))
	return &checkoutdomain.Result{
		Order:          order,
		Bookings:       bookings,
		Charge:         charge,
		RequiresAction: charge.Status == paymentdomain.ChargeRequiresAction,
	}, nil
}

// resume answers a repeated checkout with the existing order, retrying the
// charge when the first attempt never reached the gateway.
func (s *Service) resume(ctx context.Context, order *orderdomain.Order) (*checkoutdomain.Result, error) {
	if err := s.orders.LoadDetails(ctx, s.db, order); err != nil {
		return nil, err
	}
	if order.Status == orderdomain.StatusPending && order.ChargeRef == nil && order.Total > 0 {
		bookings, err := s.bookings.ListByOrder(ctx, s.db, order.ID)
		if err != nil {
			return nil, err
		}
		return s.charge(ctx, order, bookings)
	}
	var charge *paymentdomain.Charge
	if order.Status == orderdomain.StatusPending && order.ChargeRef != nil {
		charge = &paymentdomain.Charge{Ref: *order.ChargeRef, Status: paymentdomain.ChargePending}
	}
	return s.result(ctx, order, charge)
}

func (s *Service) result(ctx context.Context, order *orderdomain.Order, charge *paymentdomain.Charge) (*checkoutdomain.Result, error) {
	if order.Items == nil {
		if err := s.orders.LoadDetails(ctx, s.db, order); err != nil {
			return nil, err
		}
	}
	bookings, err := s.bookings.ListByOrder(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	return &checkoutdomain.Result{
		Order:          order,
		Bookings:       bookings,
		Charge:         charge,
		RequiresAction: charge != nil && order.Status == orderdomain.StatusPending,
	}, nil
}

// Confirm completes the caller's order once the gateway reports the charge
// settled. Confirming twice returns the completed order unchanged.
func (s *Service) Confirm(ctx context.Context, userID snowflake.ID, chargeRef string) (*checkoutdomain.Result, error) {
	chargeRef = strings.TrimSpace(chargeRef)
	if userID == 0 || chargeRef == "" {
		return nil, checkoutdomain.ErrInvalidRequest
	}

	var result *checkoutdomain.Result
	err := s.locker.With(ctx, lock.ConfirmationKey(chargeRef), confirmLockTTL, func(ctx context.Context) error {
		order, err := s.orders.FindByChargeRef(ctx, s.db, chargeRef)
		if err != nil {
			return err
		}
		if order == nil {
			return apperror.Wrapf(orderdomain.ErrOrderNotFound, "checkout.confirm", "charge %s", chargeRef)
		}
		if order.UserID != userID {
			return checkoutdomain.ErrOrderNotOwned
		}
		if order.Status != orderdomain.StatusPending {
			result, err = s.result(ctx, order, nil)
			return err
		}

		status, err := s.gateway.ConfirmCharge(ctx, chargeRef)
		if err != nil {
			return err
		}
		charge := &paymentdomain.Charge{Ref: chargeRef, Status: status}
		switch status {
		case paymentdomain.ChargeSucceeded:
			order, err = s.Complete(ctx, order.ID)
		case paymentdomain.ChargeFailed:
			order, err = s.Fail(ctx, chargeRef, "charge failed at confirmation")
		}
		if err != nil {
			return err
		}
		result, err = s.result(ctx, order, charge)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) CompleteByChargeRef(ctx context.Context, chargeRef string) (*orderdomain.Order, error) {
	order, err := s.orders.FindByChargeRef(ctx, s.db, strings.TrimSpace(chargeRef))
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperror.Wrapf(orderdomain.ErrOrderNotFound, "checkout.complete", "charge %s", chargeRef)
	}
	return s.Complete(ctx, order.ID)
}

// Complete is the single settlement path shared by zero-total checkouts,
// confirmations and webhooks. The order row lock makes concurrent callers
// queue; the second sees completed and returns without side effects.
func (s *Service) Complete(ctx context.Context, orderID snowflake.ID) (*orderdomain.Order, error) {
	var (
		order   *orderdomain.Order
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.LockByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		switch order.Status {
		case orderdomain.StatusCompleted:
			return nil
		case orderdomain.StatusPending:
		default:
			return apperror.Wrapf(checkoutdomain.ErrOrderNotPending, "checkout.complete",
				"order %s is %s", order.Reference, order.Status)
		}
		if err := s.orders.LoadDetails(ctx, tx, order); err != nil {
			return err
		}

		if err := s.settleLedger(ctx, tx, order); err != nil {
			return err
		}
		if err := s.fulfil(ctx, tx, order); err != nil {
			return err
		}

		now := s.clock.Now()
		order.Status = orderdomain.StatusCompleted
		order.CompletedAt = &now
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}
		s.record(ctx, tx, "order.completed", order, map[string]any{"total": order.Total, "credits_applied": order.CreditsApplied})
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.obsMetrics.RecordCheckout(ctx, string(order.Type), string(orderdomain.StatusCompleted))
		s.notify(ctx, order, notificationdomain.EventOrderCompleted)
		s.log.Info("order completed",
			zap.String("order_id", order.ID.String()),
			zap.String("reference", order.Reference),
			zap.String("type", string(order.Type)),
		)
	}
	return order, nil
}

// settleLedger writes the credit entries for a completed order. Service
// orders record the charged cash as a purchase and its consumption as usage;
// the applied credits were already debited at checkout. Credit purchases
// grant credits and bonus.
func (s *Service) settleLedger(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) error {
	orderID := order.ID
	if order.Type == orderdomain.TypeCreditPurchase {
		details, ok := order.Details.(*orderdomain.CreditPurchaseDetails)
		if !ok {
			return apperror.Wrapf(orderdomain.ErrAmountMismatch, "checkout.ledger", "credit purchase %s without details", order.Reference)
		}
		if details.Credits > 0 {
			if _, err := s.credit.AppendTx(ctx, tx, creditdomain.AppendInput{
				UserID:         order.UserID,
				Amount:         details.Credits,
				Type:           creditdomain.EntryTypePurchase,
				OrderID:        &orderID,
				IdempotencyKey: ledgerKey(order, "purchase"),
				ExpiresAt:      details.ExpiresAt,
			}); err != nil {
				return err
			}
		}
		if details.BonusCredits > 0 {
			if _, err := s.credit.AppendTx(ctx, tx, creditdomain.AppendInput{
				UserID:         order.UserID,
				Amount:         details.BonusCredits,
				Type:           creditdomain.EntryTypeBonus,
				OrderID:        &orderID,
				IdempotencyKey: ledgerKey(order, "bonus"),
				ExpiresAt:      details.ExpiresAt,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if order.Total > 0 {
		if _, err := s.credit.AppendTx(ctx, tx, creditdomain.AppendInput{
			UserID:         order.UserID,
			Amount:         order.Total,
			Type:           creditdomain.EntryTypePurchase,
			OrderID:        &orderID,
			IdempotencyKey: ledgerKey(order, "purchase"),
		}); err != nil {
			return err
		}
	}
	if order.Total > 0 {
		if _, err := s.credit.AppendTx(ctx, tx, creditdomain.AppendInput{
			UserID:         order.UserID,
			Amount:         -order.Total,
			Type:           creditdomain.EntryTypeUsage,
			OrderID:        &orderID,
			IdempotencyKey: ledgerKey(order, "usage"),
		}); err != nil {
			return err
		}
	}
	return nil
}

func ledgerKey(order *orderdomain.Order, entry string) string {
	return fmt.Sprintf("order:%s:%s", order.ID, entry)
}

// fulfil confirms bookings and opens whatever the order type earns.
func (s *Service) fulfil(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) error {
	switch order.Type {
	case orderdomain.TypeDirectService:
		bookings, err := s.bookings.ListByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		for _, b := range bookings {
			confirmed, err := s.bookings.Confirm(ctx, tx, b.ID)
			if err != nil {
				return err
			}
			if _, err := s.earnings.CreateForBooking(ctx, tx, earningsdomain.CreateInput{
				PractitionerID: confirmed.PractitionerID,
				BookingID:      confirmed.ID,
				OrderID:        order.ID,
				Category:       confirmed.Category,
				Gross:          confirmed.Amount,
				EndTime:        confirmed.EndTime,
			}); err != nil {
				return err
			}
		}
	case orderdomain.TypePackage, orderdomain.TypeBundle:
		plan, ok := orderdomain.Plan(order.Details)
		if !ok {
			return apperror.Wrapf(orderdomain.ErrAmountMismatch, "checkout.fulfil", "%s %s without plan", order.Type, order.Reference)
		}
		if _, err := s.packages.Open(ctx, tx, packagedomain.OpenInput{
			OrderID:        order.ID,
			PractitionerID: plan.PractitionerID,
			Category:       plan.Category,
			OrderType:      string(order.Type),
			TotalSessions:  plan.TotalSessions,
			PackageValue:   plan.PackageValue,
		}); err != nil {
			return err
		}
	case orderdomain.TypeSubscription:
		details, ok := order.Details.(*orderdomain.SubscriptionDetails)
		if !ok {
			return apperror.Wrapf(orderdomain.ErrAmountMismatch, "checkout.fulfil", "subscription %s without details", order.Reference)
		}
		if err := s.catalog.UpdatePractitionerTier(ctx, tx, details.PractitionerID, details.TierCode); err != nil {
			return err
		}
	}
	return nil
}

// Fail marks a pending order failed and cancels its draft bookings. Any
// other state is returned unchanged, so a failure delivered after success
// does not undo the completed order.
func (s *Service) Fail(ctx context.Context, chargeRef, reason string) (*orderdomain.Order, error) {
	chargeRef = strings.TrimSpace(chargeRef)
	if chargeRef == "" {
		return nil, checkoutdomain.ErrInvalidRequest
	}
	found, err := s.orders.FindByChargeRef(ctx, s.db, chargeRef)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, apperror.Wrapf(orderdomain.ErrOrderNotFound, "checkout.fail", "charge %s", chargeRef)
	}
	return s.closePending(ctx, found.ID, orderdomain.StatusFailed, reason)
}

// Cancel lets the buyer abandon a pending order.
func (s *Service) Cancel(ctx context.Context, userID, orderID snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, checkoutdomain.ErrOrderNotOwned
	}
	switch order.Status {
	case orderdomain.StatusPending, orderdomain.StatusCanceled:
	default:
		return nil, apperror.Wrapf(checkoutdomain.ErrOrderNotPending, "checkout.cancel",
			"order %s is %s", order.Reference, order.Status)
	}
	return s.closePending(ctx, orderID, orderdomain.StatusCanceled, "canceled by buyer")
}

func (s *Service) closePending(ctx context.Context, orderID snowflake.ID, to orderdomain.Status, reason string) (*orderdomain.Order, error) {
	var (
		order   *orderdomain.Order
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.LockByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		if order.Status != orderdomain.StatusPending {
			return nil
		}

		bookings, err := s.bookings.ListByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		for _, b := range bookings {
			if _, _, err := s.bookings.Cancel(ctx, tx, b.ID, reason); err != nil {
				return err
			}
		}

		order.Status = to
		order.FailureReason = strings.TrimSpace(reason)
		if err := s.releaseCredits(ctx, tx, order); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}
		s.record(ctx, tx, "order."+string(to), order, map[string]any{"reason": order.FailureReason})
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.obsMetrics.RecordCheckout(ctx, string(order.Type), string(to))
		if to == orderdomain.StatusFailed {
			s.notify(ctx, order, notificationdomain.EventOrderFailed)
		}
		s.log.Info("order closed",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(to)),
			zap.String("reason", order.FailureReason),
		)
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, userID, orderID snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	if userID != 0 && order.UserID != userID {
		return nil, checkoutdomain.ErrOrderNotOwned
	}
	if err := s.orders.LoadDetails(ctx, s.db, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) notify(ctx context.Context, order *orderdomain.Order, eventType string) {
	if s.notifier == nil || order == nil {
		return
	}
	s.notifier.Notify(ctx,
		notificationdomain.Recipient{Kind: notificationdomain.RecipientUser, ID: order.UserID.String()},
		eventType,
		map[string]any{
			"order_id":        order.ID.String(),
			"reference":       order.Reference,
			"type":            string(order.Type),
			"status":          string(order.Status),
			"total":           order.Total,
			"credits_applied": order.CreditsApplied,
			"currency":        order.Currency,
		},
	)
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, action string, order *orderdomain.Order, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	metadata["reference"] = order.Reference
	metadata["user_id"] = order.UserID.String()
	metadata["status"] = string(order.Status)
	err := s.audit.Record(ctx, tx, auditdomain.Entry{
		ActorType:  "system",
		Action:     action,
		TargetType: "order",
		TargetID:   order.ID.String(),
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
