package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/marketledger/internal/booking/repository"
	bookingservice "github.com/smallbiznis/marketledger/internal/booking/service"
	catalogdomain "github.com/smallbiznis/marketledger/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/marketledger/internal/catalog/repository"
	checkoutdomain "github.com/smallbiznis/marketledger/internal/checkout/domain"
	checkoutservice "github.com/smallbiznis/marketledger/internal/checkout/service"
	"github.com/smallbiznis/marketledger/internal/clock"
	commissiondomain "github.com/smallbiznis/marketledger/internal/commission/domain"
	"github.com/smallbiznis/marketledger/internal/config"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	creditrepo "github.com/smallbiznis/marketledger/internal/credit/repository"
	creditservice "github.com/smallbiznis/marketledger/internal/credit/service"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	earningsrepo "github.com/smallbiznis/marketledger/internal/earnings/repository"
	earningsservice "github.com/smallbiznis/marketledger/internal/earnings/service"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	orderrepo "github.com/smallbiznis/marketledger/internal/order/repository"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	packagerepo "github.com/smallbiznis/marketledger/internal/packagepayout/repository"
	packageservice "github.com/smallbiznis/marketledger/internal/packagepayout/service"
	"github.com/smallbiznis/marketledger/internal/payment/adapters"
	midtransadapter "github.com/smallbiznis/marketledger/internal/payment/adapters/midtrans"
	"github.com/smallbiznis/marketledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	"github.com/smallbiznis/marketledger/internal/payment/gateway/gatewaytest"
	paymentrepo "github.com/smallbiznis/marketledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/marketledger/internal/payment/service"
	paymentwebhook "github.com/smallbiznis/marketledger/internal/payment/webhook"
	pricingservice "github.com/smallbiznis/marketledger/internal/pricing/service"
	"github.com/smallbiznis/marketledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	serverKey              = "SB-Mid-server-test"
	buyer     snowflake.ID = 42
)

type baseRate struct{}

func (baseRate) EffectiveRate(context.Context, snowflake.ID, string) (commissiondomain.Rate, error) {
	return commissiondomain.Rate{Bps: 1500, BaseBps: 1500}, nil
}

func (r baseRate) EffectiveRateTx(ctx context.Context, _ *gorm.DB, id snowflake.ID, category string) (commissiondomain.Rate, error) {
	return r.EffectiveRate(ctx, id, category)
}

type fixture struct {
	db       *gorm.DB
	checkout checkoutdomain.Service
	payments *paymentservice.Service
	webhook  paymentdomain.Service
	gateway  *gatewaytest.Gateway
	credit   creditdomain.Service
	clock    *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&catalogdomain.Service{},
		&catalogdomain.Practitioner{},
		&catalogdomain.DiscountCode{},
		&creditdomain.Entry{},
		&creditdomain.Balance{},
		&creditdomain.Expiration{},
		&orderdomain.Order{},
		&orderdomain.Item{},
		&orderdomain.PackageDetails{},
		&orderdomain.BundleDetails{},
		&orderdomain.SubscriptionDetails{},
		&orderdomain.CreditPurchaseDetails{},
		&bookingdomain.Booking{},
		&earningsdomain.Transaction{},
		&earningsdomain.Balance{},
		&packagedomain.Record{},
		&packagedomain.SessionCompletion{},
		&paymentdomain.Event{},
	)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	node := dbtest.Node(t)
	log := zap.NewNop()
	ledger := config.DefaultLedgerConfig()
	catalog := catalogrepo.Provide()
	orders := orderrepo.Provide()

	credit := creditservice.NewService(creditservice.Params{
		DB: conn, Log: log, GenID: node, Repo: creditrepo.Provide(), Clock: fake,
	})
	pricing := pricingservice.NewService(pricingservice.Params{
		DB: conn, Log: log, Catalog: catalog, Credit: credit, Clock: fake, Ledger: ledger,
	})
	bookings := bookingservice.NewService(bookingservice.Params{
		DB: conn, Log: log, GenID: node, Repo: bookingrepo.Provide(), Clock: fake,
	})
	earnings := earningsservice.NewService(earningsservice.Params{
		DB: conn, Log: log, GenID: node, Repo: earningsrepo.Provide(), Commission: baseRate{}, Clock: fake, Ledger: ledger,
	})
	packages := packageservice.NewService(packageservice.Params{
		DB: conn, Log: log, GenID: node, Repo: packagerepo.Provide(), Earnings: earnings, Clock: fake,
	})
	gateway := gatewaytest.New()

	checkout := checkoutservice.NewService(checkoutservice.Params{
		DB: conn, Log: log, GenID: node, Orders: orders, Catalog: catalog, Pricing: pricing, Credit: credit,
		Bookings: bookings, Earnings: earnings, Packages: packages, Gateway: gateway, Clock: fake,
	})
	payments := paymentservice.NewService(paymentservice.Params{
		DB:         conn,
		Log:        log,
		GenID:      node,
		Repo:       paymentrepo.Provide(),
		Orders:     orders,
		Settlement: checkout,
		Gateway:    gateway,
		Credit:     credit,
		Bookings:   bookings,
		Earnings:   earnings,
		Packages:   packages,
		Clock:      fake,
	})
	registry, err := adapters.NewRegistry(map[string]string{"midtrans": serverKey},
		midtransadapter.NewFactory(), stripe.NewFactory())
	require.NoError(t, err)
	webhook := paymentwebhook.NewService(paymentwebhook.Params{
		Log:        log,
		Reconciler: payments,
		Adapters:   registry,
	})

	require.NoError(t, conn.Create(&catalogdomain.Service{
		ID: 1, PractitionerID: 900, Name: "Session", Category: "therapy",
		Kind: catalogdomain.KindSession, Price: 5000, SessionCount: 1, DurationMinutes: 60, Active: true,
	}).Error)
	require.NoError(t, conn.Create(&catalogdomain.Service{
		ID: 2, PractitionerID: 900, Name: "Long session", Category: "therapy",
		Kind: catalogdomain.KindSession, Price: 10000, SessionCount: 1, DurationMinutes: 90, Active: true,
	}).Error)

	return &fixture{
		db: conn, checkout: checkout, payments: payments, webhook: webhook,
		gateway: gateway, credit: credit, clock: fake,
	}
}

func (f *fixture) grant(t *testing.T, amount int64) {
	t.Helper()
	_, err := f.credit.Append(context.Background(), creditdomain.AppendInput{
		UserID: buyer, Amount: amount, Type: creditdomain.EntryTypePurchase,
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.credit.Balance(context.Background(), buyer)
	require.NoError(t, err)
	return b
}

// order checks out one session of serviceID paying with every credit held.
func (f *fixture) order(t *testing.T, serviceID snowflake.ID) *orderdomain.Order {
	t.Helper()
	start := f.clock.Now().Add(48 * time.Hour)
	res, err := f.checkout.Checkout(context.Background(), checkoutdomain.Request{
		UserID:     buyer,
		Type:       orderdomain.TypeDirectService,
		Items:      []checkoutdomain.Item{{ServiceID: serviceID, Quantity: 1, StartTime: &start}},
		UseCredits: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Order.ChargeRef)
	return res.Order
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *orderdomain.Order {
	t.Helper()
	order, err := f.checkout.GetOrder(context.Background(), 0, id)
	require.NoError(t, err)
	return order
}

// deliver sends a signed Midtrans notification for chargeRef.
func (f *fixture) deliver(t *testing.T, chargeRef, status string, gross int64, extra map[string]any) error {
	t.Helper()
	fields := map[string]any{
		"order_id":           chargeRef,
		"status_code":        "200",
		"gross_amount":       fmt.Sprintf("%d.00", gross),
		"transaction_status": status,
		"transaction_id":     "tx-" + chargeRef,
		"transaction_time":   "2026-06-01 16:05:00",
		"currency":           "USD",
	}
	for k, v := range extra {
		fields[k] = v
	}
	fields["signature_key"] = midtransadapter.Signature(chargeRef, "200", fields["gross_amount"].(string), serverKey)
	payload, err := json.Marshal(fields)
	require.NoError(t, err)
	return f.webhook.IngestWebhook(context.Background(), "midtrans", payload, http.Header{})
}

func (f *fixture) transactions(t *testing.T, orderID snowflake.ID) []earningsdomain.Transaction {
	t.Helper()
	var rows []earningsdomain.Transaction
	require.NoError(t, f.db.Where("order_id = ?", orderID).Order("created_at, id").Find(&rows).Error)
	return rows
}

func TestSettlementWebhookCompletesOrderOnce(t *testing.T) {
	f := setup(t)
	f.grant(t, 3000)
	order := f.order(t, 1)
	assert.Equal(t, int64(2000), order.Total)

	require.NoError(t, f.deliver(t, *order.ChargeRef, "settlement", 2000, nil))
	assert.Equal(t, orderdomain.StatusCompleted, f.reload(t, order.ID).Status)
	require.Len(t, f.transactions(t, order.ID), 1)

	err := f.deliver(t, *order.ChargeRef, "settlement", 2000, nil)
	assert.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)
	assert.Len(t, f.transactions(t, order.ID), 1)

	var event paymentdomain.Event
	require.NoError(t, f.db.Where("charge_ref = ?", *order.ChargeRef).First(&event).Error)
	assert.NotNil(t, event.ProcessedAt)
	assert.Equal(t, paymentdomain.EventTypePaymentSucceeded, event.EventType)
}

func TestFailureWebhookFailsOrder(t *testing.T) {
	f := setup(t)
	order := f.order(t, 1)

	require.NoError(t, f.deliver(t, *order.ChargeRef, "expire", 5000, nil))
	reloaded := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusFailed, reloaded.Status)
	assert.Equal(t, "expire", reloaded.FailureReason)

	var booking bookingdomain.Booking
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&booking).Error)
	assert.Equal(t, bookingdomain.StatusCanceled, booking.Status)
}

func TestPendingAndBadSignatureWebhooks(t *testing.T) {
	f := setup(t)
	order := f.order(t, 1)

	require.NoError(t, f.deliver(t, *order.ChargeRef, "pending", 5000, nil))
	var n int64
	require.NoError(t, f.db.Model(&paymentdomain.Event{}).Count(&n).Error)
	assert.Zero(t, n)

	payload := []byte(`{"order_id":"x","status_code":"200","gross_amount":"1.00","transaction_status":"settlement","transaction_id":"t","signature_key":"deadbeef"}`)
	err := f.webhook.IngestWebhook(context.Background(), "midtrans", payload, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	err = f.webhook.IngestWebhook(context.Background(), "paypal", payload, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestUnknownChargeLeavesEventForRedelivery(t *testing.T) {
	f := setup(t)

	err := f.deliver(t, "ch_missing", "settlement", 5000, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)

	var event paymentdomain.Event
	require.NoError(t, f.db.Where("charge_ref = ?", "ch_missing").First(&event).Error)
	assert.Nil(t, event.ProcessedAt)
	assert.NotEmpty(t, event.LastError)
}

func TestFullRefundUnwindsOrder(t *testing.T) {
	f := setup(t)
	f.grant(t, 3000)
	order := f.order(t, 1)
	require.NoError(t, f.deliver(t, *order.ChargeRef, "settlement", 2000, nil))
	assert.Zero(t, f.balance(t))

	require.NoError(t, f.deliver(t, *order.ChargeRef, "refund", 2000, nil))

	reloaded := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusRefunded, reloaded.Status)
	assert.Equal(t, int64(2000), reloaded.RefundedAmount)
	assert.Equal(t, int64(3000), f.balance(t), "credits applied at checkout come back")

	var booking bookingdomain.Booking
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&booking).Error)
	assert.Equal(t, bookingdomain.StatusCanceled, booking.Status)

	rows := f.transactions(t, order.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, earningsdomain.StatusReversed, rows[0].Status)
	assert.Equal(t, earningsdomain.KindReversal, rows[1].Kind)
	assert.Equal(t, int64(0), rows[0].Net+rows[1].Net)
}

func TestPartialRefundsAreProportional(t *testing.T) {
	f := setup(t)
	f.grant(t, 4000)
	order := f.order(t, 2)
	require.Equal(t, int64(6000), order.Total)
	require.NoError(t, f.deliver(t, *order.ChargeRef, "settlement", 6000, nil))

	require.NoError(t, f.deliver(t, *order.ChargeRef, "partial_refund", 6000, map[string]any{
		"refunds": []map[string]any{{"refund_amount": "3000.00", "refund_key": "rf-1"}},
	}))

	reloaded := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusPartiallyRefunded, reloaded.Status)
	assert.Equal(t, int64(3000), reloaded.RefundedAmount)
	assert.Equal(t, int64(2000), f.balance(t))

	rows := f.transactions(t, order.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, earningsdomain.KindPartialReversal, rows[1].Kind)
	assert.Equal(t, int64(-5000), rows[1].Gross)
	assert.Equal(t, int64(-4250), rows[1].Net)

	// the same cumulative amount again is a no-op
	_, err := f.payments.ApplyRefund(context.Background(), *order.ChargeRef, 3000, "")
	require.NoError(t, err)
	assert.Len(t, f.transactions(t, order.ID), 2)

	require.NoError(t, f.deliver(t, *order.ChargeRef, "refund", 6000, map[string]any{
		"refunds": []map[string]any{
			{"refund_amount": "3000.00", "refund_key": "rf-1"},
			{"refund_amount": "3000.00", "refund_key": "rf-2"},
		},
	}))

	reloaded = f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusRefunded, reloaded.Status)
	assert.Equal(t, int64(4000), f.balance(t))

	var net int64
	for _, row := range f.transactions(t, order.ID) {
		net += row.Net
	}
	assert.Zero(t, net)
}

func TestRequestRefundGoesThroughGateway(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.order(t, 1)
	_, err := f.checkout.CompleteByChargeRef(ctx, *order.ChargeRef)
	require.NoError(t, err)

	refunded, err := f.payments.RequestRefund(ctx, paymentdomain.RefundInput{OrderID: order.ID, Amount: 1000, Reason: "late start"})
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPartiallyRefunded, refunded.Status)
	require.Len(t, f.gateway.Refunds, 1)
	assert.Equal(t, fmt.Sprintf("rf_%s_1000", order.ID), f.gateway.Refunds[0].Key)
	assert.Equal(t, int64(1000), f.gateway.Refunds[0].Amount)

	_, err = f.payments.RequestRefund(ctx, paymentdomain.RefundInput{OrderID: order.ID, Amount: 4500, Reason: "too much"})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundExceedsTotal)
	assert.Len(t, f.gateway.Refunds, 1)
}

func TestConcurrentRefundRequestsEachRefund(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.order(t, 1)
	_, err := f.checkout.CompleteByChargeRef(ctx, *order.ChargeRef)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.payments.RequestRefund(ctx, paymentdomain.RefundInput{OrderID: order.ID, Amount: 1000})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Len(t, f.gateway.Refunds, 2)
	keys := []string{f.gateway.Refunds[0].Key, f.gateway.Refunds[1].Key}
	assert.ElementsMatch(t, []string{
		fmt.Sprintf("rf_%s_1000", order.ID),
		fmt.Sprintf("rf_%s_2000", order.ID),
	}, keys)

	reloaded := f.reload(t, order.ID)
	assert.Equal(t, int64(2000), reloaded.RefundedAmount)
	assert.Equal(t, orderdomain.StatusPartiallyRefunded, reloaded.Status)
}

func TestRefundIdempotencyKeyReplays(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.order(t, 1)
	_, err := f.checkout.CompleteByChargeRef(ctx, *order.ChargeRef)
	require.NoError(t, err)

	in := paymentdomain.RefundInput{OrderID: order.ID, Amount: 1000, Reason: "late start", IdempotencyKey: "rq-1"}
	first, err := f.payments.RequestRefund(ctx, in)
	require.NoError(t, err)
	second, err := f.payments.RequestRefund(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), first.RefundedAmount)
	assert.Equal(t, int64(1000), second.RefundedAmount)
	require.Len(t, f.gateway.Refunds, 1)
	assert.Equal(t, fmt.Sprintf("rf_%s_rq-1", order.ID), f.gateway.Refunds[0].Key)

	// the provider's own refund notification for the same amount is a no-op
	require.NoError(t, f.deliver(t, *order.ChargeRef, "partial_refund", 5000, map[string]any{
		"refunds": []map[string]any{{"refund_amount": "1000.00", "refund_key": "rf-1"}},
	}))
	assert.Equal(t, int64(1000), f.reload(t, order.ID).RefundedAmount)
}

func TestFullRefundWithoutCreditsLeavesBalanceAlone(t *testing.T) {
	f := setup(t)
	order := f.order(t, 1)
	require.Zero(t, order.CreditsApplied)
	require.NoError(t, f.deliver(t, *order.ChargeRef, "settlement", 5000, nil))

	require.NoError(t, f.deliver(t, *order.ChargeRef, "refund", 5000, nil))
	assert.Equal(t, orderdomain.StatusRefunded, f.reload(t, order.ID).Status)

	var entries []creditdomain.Entry
	require.NoError(t, f.db.Where("order_id = ?", order.ID).Order("created_at, id").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, creditdomain.EntryTypePurchase, entries[0].Type)
	assert.Equal(t, int64(5000), entries[0].Amount)
	assert.Equal(t, creditdomain.EntryTypeUsage, entries[1].Type)
	assert.Equal(t, int64(-5000), entries[1].Amount)
	assert.Zero(t, f.balance(t), "the cash goes back through the gateway, not into credits")
}

func TestRefundRejectsPendingOrder(t *testing.T) {
	f := setup(t)
	order := f.order(t, 1)

	_, err := f.payments.RequestRefund(context.Background(), paymentdomain.RefundInput{OrderID: order.ID, Amount: 1000})
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotRefundable)

	err = f.deliver(t, *order.ChargeRef, "refund", 5000, nil)
	assert.ErrorIs(t, err, paymentdomain.ErrOrderNotRefundable)
}
