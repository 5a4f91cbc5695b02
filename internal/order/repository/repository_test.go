package repository

import (
	"context"
	"testing"
	"time"

	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	"github.com/smallbiznis/marketledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndLoadPackageOrder(t *testing.T) {
	conn := dbtest.Open(t,
		&orderdomain.Order{},
		&orderdomain.Item{},
		&orderdomain.PackageDetails{},
		&orderdomain.BundleDetails{},
		&orderdomain.SubscriptionDetails{},
		&orderdomain.CreditPurchaseDetails{},
	)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	order := &orderdomain.Order{
		ID: 1, Reference: "ord_pkg", UserID: 7, Type: orderdomain.TypePackage, Status: orderdomain.StatusPending,
		Currency: "USD", Subtotal: 40000, Total: 40000, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Insert(ctx, conn, order))
	require.NoError(t, repo.InsertItems(ctx, conn, []orderdomain.Item{{
		ID: 2, OrderID: 1, ServiceID: 3, PractitionerID: 4, Category: "therapy", Quantity: 1,
		UnitPrice: 40000, Amount: 40000, CreatedAt: now,
	}}))
	require.NoError(t, repo.InsertDetails(ctx, conn, &orderdomain.PackageDetails{SessionPlan: orderdomain.SessionPlan{
		OrderID: 1, ServiceID: 3, PractitionerID: 4, Category: "therapy",
		TotalSessions: 4, SessionValue: 10000, PackageValue: 40000, DurationMinutes: 60,
	}}))
	require.NoError(t, repo.UpdatePlanProgress(ctx, conn, orderdomain.TypePackage, 1, 2, 1))

	loaded, err := repo.FindByID(ctx, conn, 1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NoError(t, repo.LoadDetails(ctx, conn, loaded))
	require.Len(t, loaded.Items, 1)

	plan, ok := orderdomain.Plan(loaded.Details)
	require.True(t, ok)
	assert.Equal(t, 4, plan.TotalSessions)
	assert.Equal(t, 2, plan.SessionsBooked)
	assert.Equal(t, 1, plan.SessionsCompleted)
}

func TestInsertRejectsUnbalancedOrder(t *testing.T) {
	conn := dbtest.Open(t, &orderdomain.Order{})
	now := time.Now().UTC()
	err := Provide().Insert(context.Background(), conn, &orderdomain.Order{
		ID: 1, Reference: "ord_bad", UserID: 7, Type: orderdomain.TypeDirectService, Status: orderdomain.StatusPending,
		Currency: "USD", Subtotal: 5000, CreditsApplied: 1000, Total: 5000, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, orderdomain.ErrAmountMismatch)
}

func TestFindByChargeRefMissingReturnsNil(t *testing.T) {
	conn := dbtest.Open(t, &orderdomain.Order{})
	order, err := Provide().FindByChargeRef(context.Background(), conn, "nope")
	require.NoError(t, err)
	assert.Nil(t, order)
}
