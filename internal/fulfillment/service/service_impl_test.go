package service

import (
	"context"
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
	fulfillmentdomain "github.com/smallbiznis/marketledger/internal/fulfillment/domain"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	orderrepo "github.com/smallbiznis/marketledger/internal/order/repository"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	packagerepo "github.com/smallbiznis/marketledger/internal/packagepayout/repository"
	packageservice "github.com/smallbiznis/marketledger/internal/packagepayout/service"
	"github.com/smallbiznis/marketledger/internal/payment/gateway/gatewaytest"
	pricingservice "github.com/smallbiznis/marketledger/internal/pricing/service"
	"github.com/smallbiznis/marketledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type flatRate struct{}

func (flatRate) EffectiveRate(context.Context, snowflake.ID, string) (commissiondomain.Rate, error) {
	return commissiondomain.Rate{Bps: 1500, BaseBps: 1500}, nil
}

func (r flatRate) EffectiveRateTx(ctx context.Context, _ *gorm.DB, id snowflake.ID, category string) (commissiondomain.Rate, error) {
	return r.EffectiveRate(ctx, id, category)
}

const buyer snowflake.ID = 7

type fixture struct {
	svc      fulfillmentdomain.Service
	checkout checkoutdomain.Service
	db       *gorm.DB
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
	)
	fake := clock.NewFakeClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
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
		DB: conn, Log: log, GenID: node, Repo: earningsrepo.Provide(), Commission: flatRate{}, Clock: fake, Ledger: ledger,
	})
	packages := packageservice.NewService(packageservice.Params{
		DB: conn, Log: log, GenID: node, Repo: packagerepo.Provide(), Earnings: earnings, Clock: fake,
	})

	checkout := checkoutservice.NewService(checkoutservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Orders:   orders,
		Catalog:  catalog,
		Pricing:  pricing,
		Credit:   credit,
		Bookings: bookings,
		Earnings: earnings,
		Packages: packages,
		Gateway:  gatewaytest.New(),
		Clock:    fake,
	})
	svc := NewService(Params{
		DB:       conn,
		Log:      log,
		Orders:   orders,
		Bookings: bookings,
		Earnings: earnings,
		Packages: packages,
		Clock:    fake,
	})

	for _, s := range []catalogdomain.Service{
		{ID: 1, Kind: catalogdomain.KindSession, Price: 5000, SessionCount: 1},
		{ID: 2, Kind: catalogdomain.KindPackage, Price: 20000, SessionCount: 4, ValidityDays: 30},
		{ID: 3, Kind: catalogdomain.KindPackage, Price: 6000, SessionCount: 2},
	} {
		s.PractitionerID = 900
		s.Category = "coaching"
		s.DurationMinutes = 60
		s.Name = string(s.Kind)
		s.Active = true
		require.NoError(t, conn.Create(&s).Error)
	}
	return &fixture{svc: svc, checkout: checkout, db: conn, clock: fake}
}

func (f *fixture) direct(t *testing.T) *checkoutdomain.Result {
	t.Helper()
	ctx := context.Background()
	start := f.clock.Now().Add(2 * time.Hour)
	res, err := f.checkout.Checkout(ctx, checkoutdomain.Request{
		UserID: buyer,
		Type:   orderdomain.TypeDirectService,
		Items:  []checkoutdomain.Item{{ServiceID: 1, Quantity: 1, StartTime: &start}},
	})
	require.NoError(t, err)
	_, err = f.checkout.CompleteByChargeRef(ctx, *res.Order.ChargeRef)
	require.NoError(t, err)
	return res
}

func (f *fixture) pkg(t *testing.T, serviceID snowflake.ID, settle bool) *orderdomain.Order {
	t.Helper()
	ctx := context.Background()
	res, err := f.checkout.Checkout(ctx, checkoutdomain.Request{
		UserID: buyer,
		Type:   orderdomain.TypePackage,
		Items:  []checkoutdomain.Item{{ServiceID: serviceID, Quantity: 1}},
	})
	require.NoError(t, err)
	if !settle {
		return res.Order
	}
	order, err := f.checkout.CompleteByChargeRef(ctx, *res.Order.ChargeRef)
	require.NoError(t, err)
	return order
}

func (f *fixture) plan(t *testing.T, orderID snowflake.ID) *orderdomain.SessionPlan {
	t.Helper()
	order, err := f.checkout.GetOrder(context.Background(), buyer, orderID)
	require.NoError(t, err)
	plan, ok := orderdomain.Plan(order.Details)
	require.True(t, ok)
	return plan
}

func (f *fixture) schedule(t *testing.T, orderID snowflake.ID) *bookingdomain.Booking {
	t.Helper()
	b, err := f.svc.SchedulePackageSession(context.Background(), fulfillmentdomain.ScheduleInput{
		UserID:    buyer,
		OrderID:   orderID,
		StartTime: f.clock.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return b
}

func TestCompletedBookingMovesEarningsToPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.direct(t)
	booking := res.Bookings[0]
	end := booking.StartTime.Add(time.Hour)

	out, err := f.svc.HandleBookingCompleted(ctx, booking.ID, end)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 1, out.Transitioned)
	assert.Nil(t, out.Release)

	var txn earningsdomain.Transaction
	require.NoError(t, f.db.Where("booking_id = ?", booking.ID).First(&txn).Error)
	assert.Equal(t, earningsdomain.StatusPending, txn.Status)
	assert.True(t, txn.AvailableAfter.Equal(end.Add(48*time.Hour)))

	again, err := f.svc.HandleBookingCompleted(ctx, booking.ID, end)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, 0, again.Transitioned)
}

func TestCanceledBookingReversesEarnings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res := f.direct(t)
	booking := res.Bookings[0]

	out, err := f.svc.HandleBookingCanceled(ctx, booking.ID, "client no-show")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 1, out.Transitioned)

	var n int64
	require.NoError(t, f.db.Model(&earningsdomain.Transaction{}).
		Where("order_id = ? AND kind = ?", res.Order.ID, earningsdomain.KindReversal).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	_, err = f.svc.HandleBookingCompleted(ctx, booking.ID, time.Time{})
	assert.ErrorIs(t, err, bookingdomain.ErrBookingCanceled)
}

func TestPackageSessionReleasesShare(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.pkg(t, 2, true)

	booking := f.schedule(t, order.ID)
	assert.Equal(t, bookingdomain.StatusConfirmed, booking.Status)
	assert.Equal(t, int64(5000), booking.Amount)
	assert.Equal(t, 1, f.plan(t, order.ID).SessionsBooked)

	out, err := f.svc.HandleBookingCompleted(ctx, booking.ID, booking.StartTime.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, out.Release)
	require.NotNil(t, out.Release.Transaction)
	assert.Equal(t, int64(5000), out.Release.Transaction.Gross)
	assert.Equal(t, earningsdomain.KindPackageDelta, out.Release.Transaction.Kind)
	assert.Equal(t, 1, out.Release.Record.CompletedSessions)

	plan := f.plan(t, order.ID)
	assert.Equal(t, 1, plan.SessionsBooked)
	assert.Equal(t, 1, plan.SessionsCompleted)
}

func TestPackageFinalSessionPaysRemainder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.pkg(t, 3, true)

	var released int64
	for i := 0; i < 2; i++ {
		b := f.schedule(t, order.ID)
		out, err := f.svc.HandleBookingCompleted(ctx, b.ID, b.StartTime.Add(time.Hour))
		require.NoError(t, err)
		released += out.Release.Transaction.Gross
	}
	assert.Equal(t, int64(6000), released)

	record, err := packageservice.NewService(packageservice.Params{
		DB: f.db, Log: zap.NewNop(), GenID: dbtest.Node(t), Repo: packagerepo.Provide(), Clock: f.clock,
	}).Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, packagedomain.StatusCompleted, record.Status)
	assert.True(t, record.PayoutProcessed)
}

func TestScheduleRejectsExhaustedPlan(t *testing.T) {
	f := setup(t)
	order := f.pkg(t, 3, true)
	f.schedule(t, order.ID)
	f.schedule(t, order.ID)

	_, err := f.svc.SchedulePackageSession(context.Background(), fulfillmentdomain.ScheduleInput{
		UserID: buyer, OrderID: order.ID, StartTime: f.clock.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, fulfillmentdomain.ErrPlanExhausted)
}

func TestCanceledPackageSessionFreesSlot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.pkg(t, 3, true)
	f.schedule(t, order.ID)
	b := f.schedule(t, order.ID)

	out, err := f.svc.HandleBookingCanceled(ctx, b.ID, "rescheduled")
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 0, out.Transitioned)
	assert.Equal(t, 1, f.plan(t, order.ID).SessionsBooked)

	f.schedule(t, order.ID)
	assert.Equal(t, 2, f.plan(t, order.ID).SessionsBooked)
}

func TestScheduleGuards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	settled := f.pkg(t, 2, true)
	open := f.pkg(t, 2, false)
	direct := f.direct(t)

	cases := []struct {
		name string
		in   fulfillmentdomain.ScheduleInput
		want error
	}{
		{"other user", fulfillmentdomain.ScheduleInput{UserID: buyer + 1, OrderID: settled.ID}, checkoutdomain.ErrOrderNotOwned},
		{"unpaid order", fulfillmentdomain.ScheduleInput{UserID: buyer, OrderID: open.ID}, fulfillmentdomain.ErrOrderNotActive},
		{"direct order", fulfillmentdomain.ScheduleInput{UserID: buyer, OrderID: direct.Order.ID}, fulfillmentdomain.ErrNotPlanOrder},
		{"after validity", fulfillmentdomain.ScheduleInput{UserID: buyer, OrderID: settled.ID, StartTime: f.clock.Now().Add(31 * 24 * time.Hour)}, fulfillmentdomain.ErrPlanExpired},
		{"unknown order", fulfillmentdomain.ScheduleInput{UserID: buyer, OrderID: 12345}, orderdomain.ErrOrderNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.in.StartTime.IsZero() {
				tc.in.StartTime = f.clock.Now().Add(time.Hour)
			}
			_, err := f.svc.SchedulePackageSession(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
