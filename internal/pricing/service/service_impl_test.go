package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/marketledger/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/marketledger/internal/catalog/repository"
	"github.com/smallbiznis/marketledger/internal/clock"
	"github.com/smallbiznis/marketledger/internal/config"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	creditrepo "github.com/smallbiznis/marketledger/internal/credit/repository"
	creditservice "github.com/smallbiznis/marketledger/internal/credit/service"
	pricingdomain "github.com/smallbiznis/marketledger/internal/pricing/domain"
	"github.com/smallbiznis/marketledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    pricingdomain.Service
	credit creditdomain.Service
	db     *gorm.DB
	clock  *clock.FakeClock
}

func setup(t *testing.T, taxBps int64) fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&catalogdomain.Service{},
		&catalogdomain.DiscountCode{},
		&creditdomain.Entry{},
		&creditdomain.Balance{},
		&creditdomain.Expiration{},
	)
	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	credit := creditservice.NewService(creditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: dbtest.Node(t), Repo: creditrepo.Provide(), Clock: fake,
	})
	ledger := config.DefaultLedgerConfig()
	ledger.TaxRateBps = taxBps
	svc := NewService(Params{
		DB: conn, Log: zap.NewNop(), Catalog: catalogrepo.Provide(), Credit: credit, Clock: fake, Ledger: ledger,
	})
	return fixture{svc: svc, credit: credit, db: conn, clock: fake}
}

func (f fixture) seedService(t *testing.T, id snowflake.ID, price int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&catalogdomain.Service{
		ID: id, PractitionerID: 900, Name: "Session", Category: "therapy",
		Kind: catalogdomain.KindSession, Price: price, SessionCount: 1, DurationMinutes: 60, Active: true,
	}).Error)
}

func (f fixture) grant(t *testing.T, user snowflake.ID, amount int64) {
	t.Helper()
	_, err := f.credit.Append(context.Background(), creditdomain.AppendInput{
		UserID: user, Amount: amount, Type: creditdomain.EntryTypePurchase,
	})
	require.NoError(t, err)
}

func TestQuoteAppliesAvailableCredits(t *testing.T) {
	f := setup(t, 0)
	f.seedService(t, 1, 5000)
	f.grant(t, 42, 3000)

	quote, err := f.svc.Quote(context.Background(), pricingdomain.QuoteInput{
		UserID: 42, Items: []pricingdomain.LineItem{{ServiceID: 1, Quantity: 1}}, UseCredits: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), quote.Subtotal)
	assert.Equal(t, int64(3000), quote.CreditsAvailable)
	assert.Equal(t, int64(3000), quote.CreditsApplied)
	assert.Equal(t, int64(2000), quote.Total)
	assert.Equal(t, "USD", quote.Currency)
}

func TestQuoteCapsCreditsAtRequestedAndPayable(t *testing.T) {
	f := setup(t, 0)
	f.seedService(t, 1, 5000)
	f.grant(t, 42, 9000)
	ctx := context.Background()

	requested := int64(1000)
	quote, err := f.svc.Quote(ctx, pricingdomain.QuoteInput{
		UserID: 42, Items: []pricingdomain.LineItem{{ServiceID: 1, Quantity: 1}}, UseCredits: true, RequestedCredits: &requested,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), quote.CreditsApplied)
	assert.Equal(t, int64(4000), quote.Total)

	quote, err = f.svc.Quote(ctx, pricingdomain.QuoteInput{
		UserID: 42, Items: []pricingdomain.LineItem{{ServiceID: 1, Quantity: 1}}, UseCredits: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), quote.CreditsApplied)
	assert.Equal(t, int64(0), quote.Total)
}

func TestQuoteDiscountThenTaxThenCredits(t *testing.T) {
	f := setup(t, 1000)
	f.seedService(t, 1, 6000)
	f.seedService(t, 2, 4000)
	f.grant(t, 42, 500)
	require.NoError(t, f.db.Create(&catalogdomain.DiscountCode{Code: "SPRING", PercentOffBps: 2000, Active: true}).Error)

	quote, err := f.svc.Quote(context.Background(), pricingdomain.QuoteInput{
		UserID: 42,
		Items: []pricingdomain.LineItem{
			{ServiceID: 1, Quantity: 1},
			{ServiceID: 2, Quantity: 1},
		},
		UseCredits:   true,
		DiscountCode: "spring",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), quote.Subtotal)
	assert.Equal(t, int64(2000), quote.Discount)
	assert.Equal(t, int64(800), quote.Tax)
	assert.Equal(t, int64(500), quote.CreditsApplied)
	assert.Equal(t, int64(8300), quote.Total)
	assert.Equal(t, quote.Subtotal-quote.Discount+quote.Tax-quote.CreditsApplied, quote.Total)

	assert.Equal(t, int64(1200), quote.Items[0].Discount)
	assert.Equal(t, int64(800), quote.Items[1].Discount)
}

func TestQuoteIgnoresCreditsWhenNotRequested(t *testing.T) {
	f := setup(t, 0)
	f.seedService(t, 1, 5000)
	f.grant(t, 42, 3000)

	quote, err := f.svc.Quote(context.Background(), pricingdomain.QuoteInput{
		UserID: 42, Items: []pricingdomain.LineItem{{ServiceID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), quote.CreditsApplied)
	assert.Equal(t, int64(10000), quote.Total)
}

func TestQuoteRejectsUnknownOrInactiveService(t *testing.T) {
	f := setup(t, 0)
	f.seedService(t, 1, 5000)
	require.NoError(t, f.db.Model(&catalogdomain.Service{}).Where("id = ?", 1).Update("active", false).Error)
	ctx := context.Background()

	_, err := f.svc.Quote(ctx, pricingdomain.QuoteInput{Items: []pricingdomain.LineItem{{ServiceID: 99, Quantity: 1}}})
	assert.ErrorIs(t, err, pricingdomain.ErrUnknownService)

	_, err = f.svc.Quote(ctx, pricingdomain.QuoteInput{Items: []pricingdomain.LineItem{{ServiceID: 1, Quantity: 1}}})
	assert.ErrorIs(t, err, pricingdomain.ErrUnknownService)
}

func TestQuoteRejectsExpiredDiscountCode(t *testing.T) {
	f := setup(t, 0)
	f.seedService(t, 1, 5000)
	expired := f.clock.Now().Add(-time.Hour)
	require.NoError(t, f.db.Create(&catalogdomain.DiscountCode{Code: "OLD", AmountOff: 500, ExpiresAt: &expired, Active: true}).Error)

	_, err := f.svc.Quote(context.Background(), pricingdomain.QuoteInput{
		Items: []pricingdomain.LineItem{{ServiceID: 1, Quantity: 1}}, DiscountCode: "OLD",
	})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidDiscountCode)
}

func TestQuoteValidatesInput(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	_, err := f.svc.Quote(ctx, pricingdomain.QuoteInput{})
	assert.ErrorIs(t, err, pricingdomain.ErrNoItems)

	_, err = f.svc.Quote(ctx, pricingdomain.QuoteInput{Items: []pricingdomain.LineItem{{ServiceID: 1, Quantity: 0}}})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidQuantity)
}
