package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/clock"
	commissiondomain "github.com/smallbiznis/marketledger/internal/commission/domain"
	"github.com/smallbiznis/marketledger/internal/config"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	earningsrepo "github.com/smallbiznis/marketledger/internal/earnings/repository"
	earningsservice "github.com/smallbiznis/marketledger/internal/earnings/service"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	"github.com/smallbiznis/marketledger/internal/packagepayout/repository"
	"github.com/smallbiznis/marketledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type flatRate struct{}

func (flatRate) EffectiveRate(context.Context, snowflake.ID, string) (commissiondomain.Rate, error) {
	return commissiondomain.Rate{Bps: 2000, BaseBps: 2000}, nil
}

func (f flatRate) EffectiveRateTx(ctx context.Context, _ *gorm.DB, id snowflake.ID, category string) (commissiondomain.Rate, error) {
	return f.EffectiveRate(ctx, id, category)
}

type fixture struct {
	svc   packagedomain.Service
	db    *gorm.DB
	clock *clock.FakeClock
}

func setup(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&packagedomain.Record{},
		&packagedomain.SessionCompletion{},
		&earningsdomain.Transaction{},
		&earningsdomain.Balance{},
	)
	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	node := dbtest.Node(t)
	earnings := earningsservice.NewService(earningsservice.Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       earningsrepo.Provide(),
		Commission: flatRate{},
		Clock:      fake,
		Ledger:     config.DefaultLedgerConfig(),
	})
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.Provide(),
		Earnings: earnings,
		Clock:    fake,
	})
	return fixture{svc: svc, db: conn, clock: fake}
}

func (f fixture) open(t *testing.T, orderID snowflake.ID, sessions int, value int64) {
	t.Helper()
	_, err := f.svc.Open(context.Background(), f.db, packagedomain.OpenInput{
		OrderID:        orderID,
		PractitionerID: 77,
		Category:       "coaching",
		OrderType:      "package",
		TotalSessions:  sessions,
		PackageValue:   value,
	})
	require.NoError(t, err)
}

func (f fixture) complete(t *testing.T, orderID, bookingID snowflake.ID) *packagedomain.SessionResult {
	t.Helper()
	result, err := f.svc.RecordSessionCompleted(context.Background(), f.db, packagedomain.SessionInput{
		OrderID:   orderID,
		BookingID: bookingID,
		EndTime:   f.clock.Now(),
	})
	require.NoError(t, err)
	return result
}

func (f fixture) released(t *testing.T, orderID snowflake.ID) int64 {
	t.Helper()
	var total int64
	require.NoError(t, f.db.Model(&earningsdomain.Transaction{}).
		Select("COALESCE(SUM(gross), 0)").
		Where("order_id = ?", orderID).
		Scan(&total).Error)
	return total
}

func TestProgressiveReleasesSumToPackageValue(t *testing.T) {
	f := setup(t)
	f.open(t, 1, 3, 10000)

	first := f.complete(t, 1, 101)
	require.NotNil(t, first.Transaction)
	assert.Equal(t, int64(3333), first.Transaction.Gross)
	assert.Equal(t, earningsdomain.StatusPending, first.Transaction.Status)
	assert.Equal(t, earningsdomain.KindPackageDelta, first.Transaction.Kind)
	assert.Equal(t, packagedomain.StatusPartiallyCompleted, first.Record.Status)
	assert.Equal(t, int64(3333), first.Record.LastPayoutBps)

	second := f.complete(t, 1, 102)
	assert.Equal(t, int64(3333), second.Transaction.Gross)
	assert.Equal(t, int64(6666), second.Record.TotalPaidCredits)

	final := f.complete(t, 1, 103)
	assert.Equal(t, int64(3334), final.Transaction.Gross)
	assert.Equal(t, earningsdomain.KindPackageFinal, final.Transaction.Kind)
	assert.Equal(t, packagedomain.StatusCompleted, final.Record.Status)
	assert.True(t, final.Record.PayoutProcessed)
	assert.Equal(t, int64(10000), final.Record.TotalPaidCredits)

	assert.Equal(t, int64(10000), f.released(t, 1))
}

func TestUnevenPackageNeverOverpays(t *testing.T) {
	f := setup(t)
	f.open(t, 2, 4, 999)

	var sum int64
	for i := 1; i <= 4; i++ {
		result := f.complete(t, 2, snowflake.ID(200+i))
		require.NotNil(t, result.Transaction)
		sum += result.Transaction.Gross
		assert.LessOrEqual(t, result.Record.TotalPaidCredits, result.Record.PackageValue)
	}
	assert.Equal(t, int64(999), sum)
	assert.Equal(t, int64(999), f.released(t, 2))
}

func TestSameBookingCountsOnce(t *testing.T) {
	f := setup(t)
	f.open(t, 3, 2, 5000)

	first := f.complete(t, 3, 301)
	assert.True(t, first.Counted)

	again := f.complete(t, 3, 301)
	assert.False(t, again.Counted)
	assert.Nil(t, again.Transaction)
	assert.Equal(t, 1, again.Record.CompletedSessions)
	assert.Equal(t, int64(2500), f.released(t, 3))
}

func TestCompletedPackageIgnoresExtraSessions(t *testing.T) {
	f := setup(t)
	f.open(t, 4, 1, 4000)

	done := f.complete(t, 4, 401)
	assert.Equal(t, packagedomain.StatusCompleted, done.Record.Status)

	extra := f.complete(t, 4, 402)
	assert.False(t, extra.Counted)
	assert.Equal(t, int64(4000), f.released(t, 4))
}

func TestCanceledPackageStopsReleases(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.open(t, 5, 4, 8000)
	f.complete(t, 5, 501)

	record, err := f.svc.Cancel(ctx, f.db, 5)
	require.NoError(t, err)
	assert.Equal(t, packagedomain.StatusCanceled, record.Status)

	_, err = f.svc.RecordSessionCompleted(ctx, f.db, packagedomain.SessionInput{
		OrderID: 5, BookingID: 502, EndTime: f.clock.Now(),
	})
	assert.ErrorIs(t, err, packagedomain.ErrRecordCanceled)
	assert.Equal(t, int64(2000), f.released(t, 5))
}

func TestOpenIsIdempotent(t *testing.T) {
	f := setup(t)
	f.open(t, 6, 2, 3000)
	f.open(t, 6, 2, 3000)

	var count int64
	require.NoError(t, f.db.Model(&packagedomain.Record{}).Where("order_id = ?", 6).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err := f.svc.Get(context.Background(), 99)
	assert.ErrorIs(t, err, packagedomain.ErrRecordNotFound)
}
