package service

import (
	"context"
	"testing"
	"time"

	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	"github.com/smallbiznis/marketledger/internal/booking/repository"
	"github.com/smallbiznis/marketledger/internal/clock"
	"github.com/smallbiznis/marketledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (bookingdomain.Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &bookingdomain.Booking{})
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)),
	})
	return svc, conn
}

func draft(t *testing.T, svc bookingdomain.Service, conn *gorm.DB) *bookingdomain.Booking {
	t.Helper()
	b, err := svc.CreateDraft(context.Background(), conn, bookingdomain.DraftInput{
		OrderID: 1, ServiceID: 2, PractitionerID: 3, UserID: 4, Category: "Therapy", Amount: 5000,
		StartTime: time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC), Duration: time.Hour,
	})
	require.NoError(t, err)
	return b
}

func TestBookingLifecycle(t *testing.T) {
	svc, conn := setup(t)
	ctx := context.Background()
	b := draft(t, svc, conn)
	assert.Equal(t, bookingdomain.StatusDraft, b.Status)
	assert.Equal(t, "therapy", b.Category)
	assert.Equal(t, time.Date(2026, 5, 2, 11, 0, 0, 0, time.UTC), b.EndTime)

	_, _, err := svc.Complete(ctx, conn, b.ID, time.Time{})
	assert.ErrorIs(t, err, bookingdomain.ErrBookingNotConfirmed)

	confirmed, err := svc.Confirm(ctx, conn, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusConfirmed, confirmed.Status)

	end := time.Date(2026, 5, 2, 11, 15, 0, 0, time.UTC)
	done, changed, err := svc.Complete(ctx, conn, b.ID, end)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, end, done.EndTime)

	_, changed, err = svc.Complete(ctx, conn, b.ID, end)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = svc.Cancel(ctx, conn, b.ID, "late")
	assert.ErrorIs(t, err, bookingdomain.ErrBookingCompleted)
}

func TestCancelIsIdempotent(t *testing.T) {
	svc, conn := setup(t)
	ctx := context.Background()
	b := draft(t, svc, conn)

	_, changed, err := svc.Cancel(ctx, conn, b.ID, "payment failed")
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = svc.Cancel(ctx, conn, b.ID, "payment failed")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = svc.Confirm(ctx, conn, b.ID)
	assert.ErrorIs(t, err, bookingdomain.ErrBookingCanceled)

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "payment failed", got.CancelReason)
}

func TestCreateDraftValidates(t *testing.T) {
	svc, conn := setup(t)
	_, err := svc.CreateDraft(context.Background(), conn, bookingdomain.DraftInput{OrderID: 1})
	assert.ErrorIs(t, err, bookingdomain.ErrInvalidBooking)
}

func TestGetMissingBooking(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.Get(context.Background(), 404)
	assert.ErrorIs(t, err, bookingdomain.ErrBookingNotFound)
}
