package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/marketledger/internal/apperror"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	checkoutdomain "github.com/smallbiznis/marketledger/internal/checkout/domain"
	"github.com/smallbiznis/marketledger/internal/config"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	fulfillmentdomain "github.com/smallbiznis/marketledger/internal/fulfillment/domain"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/marketledger/internal/payout/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCheckout struct {
	checkoutdomain.Service
	lastReq    checkoutdomain.Request
	result     *checkoutdomain.Result
	err        error
	canceledBy snowflake.ID
}

func (f *fakeCheckout) Checkout(_ context.Context, req checkoutdomain.Request) (*checkoutdomain.Result, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeCheckout) Cancel(_ context.Context, userID, orderID snowflake.ID) (*orderdomain.Order, error) {
	f.canceledBy = userID
	return &orderdomain.Order{ID: orderID, UserID: userID, Status: orderdomain.StatusCanceled}, nil
}

func (f *fakeCheckout) GetOrder(_ context.Context, userID, orderID snowflake.ID) (*orderdomain.Order, error) {
	return nil, orderdomain.ErrOrderNotFound
}

type fakeRefunds struct {
	paymentdomain.Reconciler
	amount int64
	key    string
}

func (f *fakeRefunds) RequestRefund(_ context.Context, in paymentdomain.RefundInput) (*orderdomain.Order, error) {
	f.amount = in.Amount
	f.key = in.IdempotencyKey
	return &orderdomain.Order{ID: in.OrderID, Status: orderdomain.StatusRefunded}, nil
}

type fakePayments struct {
	err      error
	provider string
	payload  []byte
}

func (f *fakePayments) IngestWebhook(_ context.Context, provider string, payload []byte, _ http.Header) error {
	f.provider = provider
	f.payload = payload
	return f.err
}

type fakeCredit struct {
	creditdomain.Service
	balance  int64
	transfer creditdomain.TransferInput
	err      error
}

func (f *fakeCredit) Balance(_ context.Context, _ snowflake.ID) (int64, error) {
	return f.balance, nil
}

func (f *fakeCredit) Transfer(_ context.Context, in creditdomain.TransferInput) (creditdomain.TransferResult, error) {
	f.transfer = in
	if f.err != nil {
		return creditdomain.TransferResult{}, f.err
	}
	return creditdomain.TransferResult{DebitEntryID: 1, CreditEntryID: 2}, nil
}

type fakeEarnings struct {
	earningsdomain.Service
}

func (fakeEarnings) GetBalance(_ context.Context, id snowflake.ID) (*earningsdomain.Balance, error) {
	return &earningsdomain.Balance{PractitionerID: id, Available: 90000}, nil
}

func (fakeEarnings) ListByPractitioner(_ context.Context, _ snowflake.ID, limit int) ([]earningsdomain.Transaction, error) {
	return make([]earningsdomain.Transaction, 0, limit), nil
}

type fakePayouts struct {
	payoutdomain.Service
	requested *int64
	err       error
}

func (f *fakePayouts) CreatePayout(_ context.Context, practitionerID snowflake.ID, requested *int64) (*payoutdomain.Payout, error) {
	f.requested = requested
	if f.err != nil {
		return nil, f.err
	}
	return &payoutdomain.Payout{ID: 900, PractitionerID: practitionerID, Amount: 90000}, nil
}

func (f *fakePayouts) Statement(_ context.Context, _ snowflake.ID) (io.Reader, error) {
	return strings.NewReader("%PDF-1.4"), nil
}

type fakeFulfillment struct {
	fulfillmentdomain.Service
	endTime time.Time
}

func (f *fakeFulfillment) HandleBookingCompleted(_ context.Context, id snowflake.ID, endTime time.Time) (*fulfillmentdomain.Outcome, error) {
	f.endTime = endTime
	return &fulfillmentdomain.Outcome{Booking: &bookingdomain.Booking{ID: id}, Changed: true, Transitioned: 1}, nil
}

type fixture struct {
	engine      *gin.Engine
	checkout    *fakeCheckout
	refunds     *fakeRefunds
	payments    *fakePayments
	credit      *fakeCredit
	payouts     *fakePayouts
	fulfillment *fakeFulfillment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		checkout:    &fakeCheckout{},
		refunds:     &fakeRefunds{},
		payments:    &fakePayments{},
		credit:      &fakeCredit{},
		payouts:     &fakePayouts{},
		fulfillment: &fakeFulfillment{},
	}
	log := zap.NewNop()
	f.engine = NewEngine(config.Config{}, log)
	srv := NewServer(ServerParams{
		Gin:            f.engine,
		Log:            log,
		CheckoutSvc:    f.checkout,
		RefundSvc:      f.refunds,
		PaymentSvc:     f.payments,
		CreditSvc:      f.credit,
		EarningsSvc:    fakeEarnings{},
		PayoutSvc:      f.payouts,
		FulfillmentSvc: f.fulfillment,
	})
	srv.RegisterRoutes()
	return f
}

func (f *fixture) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestBuyerRoutesRequireUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/credits/balance", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = f.do(t, http.MethodGet, "/v1/credits/balance", "not-a-number", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutUsesHeaderIdentity(t *testing.T) {
	f := newFixture(t)
	f.checkout.result = &checkoutdomain.Result{Order: &orderdomain.Order{ID: 55, Status: orderdomain.StatusCompleted}}

	rec := f.do(t, http.MethodPost, "/v1/checkout", "7",
		`{"type":"direct_service","items":[{"service_id":"1","quantity":1}],"use_credits":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, snowflake.ID(7), f.checkout.lastReq.UserID)
	assert.True(t, f.checkout.lastReq.UseCredits)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestCheckoutAwaitingChargeReturnsAccepted(t *testing.T) {
	f := newFixture(t)
	f.checkout.result = &checkoutdomain.Result{
		Order:          &orderdomain.Order{ID: 56, Status: orderdomain.StatusPending},
		RequiresAction: true,
	}

	rec := f.do(t, http.MethodPost, "/v1/checkout", "7",
		`{"type":"credit_purchase","items":[{"service_id":"3","quantity":2}]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCheckoutIdempotencyKeyHeader(t *testing.T) {
	f := newFixture(t)
	f.checkout.result = &checkoutdomain.Result{Order: &orderdomain.Order{ID: 57}}

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout",
		bytes.NewBufferString(`{"type":"direct_service","items":[{"service_id":"1","quantity":1}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "7")
	req.Header.Set("Idempotency-Key", "cart-42")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "cart-42", f.checkout.lastReq.IdempotencyKey)
}

func TestCheckoutMalformedBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/checkout", "7", `{"type":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"insufficient funds", creditdomain.ErrInsufficientCredit, http.StatusUnprocessableEntity, "insufficient_credits"},
		{"validation", creditdomain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{"gateway", apperror.New(apperror.Gateway, "charge_declined"), http.StatusBadGateway, "charge_declined"},
		{"invariant hidden", apperror.New(apperror.Invariant, "ledger_mismatch"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.credit.err = tc.err

			rec := f.do(t, http.MethodPost, "/v1/credits/transfer", "7", `{"to_user_id":"8","amount":100}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestTransferCredits(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/credits/transfer", "7",
		`{"to_user_id":"8","amount":250,"reason":" gift ","idempotency_key":"tx-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, snowflake.ID(7), f.credit.transfer.FromUserID)
	assert.Equal(t, snowflake.ID(8), f.credit.transfer.ToUserID)
	assert.Equal(t, int64(250), f.credit.transfer.Amount)
	assert.Equal(t, "gift", f.credit.transfer.Reason)

	rec = f.do(t, http.MethodPost, "/v1/credits/transfer", "7", `{"to_user_id":"abc","amount":250}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "to_user_id", decodeError(t, rec).Errors[0].Field)
}

func TestCreditBalance(t *testing.T) {
	f := newFixture(t)
	f.credit.balance = 1200

	rec := f.do(t, http.MethodGet, "/v1/credits/balance", "7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"user_id":"7","balance":1200}}`, rec.Body.String())
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/orders/99", "7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/orders/abc", "7", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelOrderPassesCaller(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/orders/55/cancel", "7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snowflake.ID(7), f.checkout.canceledBy)
}

func TestRefundRequiresPositiveAmount(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/orders/55/refund", "", `{"amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/orders/55/refund", "", `{"amount":3000,"reason":"no show"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3000), f.refunds.amount)
	assert.Empty(t, f.refunds.key)

	rec = f.do(t, http.MethodPost, "/v1/orders/55/refund", "", `{"amount":1000,"idempotency_key":" rq-7 "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rq-7", f.refunds.key)
}

func TestCreatePayout(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/practitioners/42/payouts", "", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Nil(t, f.payouts.requested)

	rec = f.do(t, http.MethodPost, "/v1/practitioners/42/payouts", "", `{"amount":60000}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.payouts.requested)
	assert.Equal(t, int64(60000), *f.payouts.requested)

	f.payouts.err = payoutdomain.ErrBelowMinimum
	rec = f.do(t, http.MethodPost, "/v1/practitioners/42/payouts", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "payout_below_minimum", decodeError(t, rec).Code)
}

func TestPractitionerEarnings(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/practitioners/42/earnings?limit=10", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":90000`)

	rec = f.do(t, http.MethodGet, "/v1/practitioners/42/earnings?limit=0", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/practitioners/42/earnings?limit=9999", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayoutStatementStreamsPDF(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/payouts/900/statement", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "payout-900.pdf")
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestBookingCompletedEndTime(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/bookings/31/completed", "", `{"end_time":"2026-03-01T10:00:00+07:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), f.fulfillment.endTime)
	assert.Contains(t, rec.Body.String(), `"earnings_transitioned":1`)

	rec = f.do(t, http.MethodPost, "/v1/bookings/32/completed", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.fulfillment.endTime.IsZero())
}

func TestPaymentWebhook(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/webhooks/midtrans", "", `{"order_id":"ord_1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "midtrans", f.payments.provider)
	assert.JSONEq(t, `{"order_id":"ord_1"}`, string(f.payments.payload))

	f.payments.err = paymentdomain.ErrEventAlreadyProcessed
	rec = f.do(t, http.MethodPost, "/webhooks/midtrans", "", `{"order_id":"ord_1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.payments.err = paymentdomain.ErrProviderNotFound
	rec = f.do(t, http.MethodPost, "/webhooks/paypal", "", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
