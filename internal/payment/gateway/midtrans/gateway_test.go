package midtrans

import (
	"context"
	"testing"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"github.com/smallbiznis/marketledger/internal/config"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSnap struct {
	last *snap.Request
	resp *snap.Response
	err  *midtrans.Error
}

func (f *fakeSnap) CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error) {
	f.last = req
	return f.resp, f.err
}

type fakeCore struct {
	status    *coreapi.TransactionStatusResponse
	statusErr *midtrans.Error
	refund    *coreapi.RefundResponse
	refundReq *coreapi.RefundReq
}

func (f *fakeCore) CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error) {
	return f.status, f.statusErr
}

func (f *fakeCore) RefundTransaction(param string, req *coreapi.RefundReq) (*coreapi.RefundResponse, *midtrans.Error) {
	f.refundReq = req
	return f.refund, nil
}

func TestNewRequiresServerKey(t *testing.T) {
	_, err := New(config.PaymentConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestCreateChargeRequiresAction(t *testing.T) {
	sf := &fakeSnap{resp: &snap.Response{Token: "tok", RedirectURL: "https://app.sandbox.midtrans.com/snap/v2/vtweb/tok"}}
	g := &Gateway{snap: sf, core: &fakeCore{}, log: zap.NewNop()}

	charge, err := g.CreateCharge(context.Background(), paymentdomain.ChargeRequest{
		Reference: "ord_1",
		Amount:    2000,
		Currency:  "IDR",
		UserID:    7,
		Items:     []paymentdomain.ChargeItem{{ID: "svc", Name: "Session", Price: 5000, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ChargeRequiresAction, charge.Status)
	assert.Equal(t, "ord_1", charge.Ref)
	assert.Equal(t, "tok", charge.Token)
	assert.Equal(t, int64(2000), sf.last.TransactionDetails.GrossAmt)
	// items that do not add up to the charged amount are left out
	assert.Nil(t, sf.last.Items)
}

func TestCreateChargeGatewayError(t *testing.T) {
	sf := &fakeSnap{err: &midtrans.Error{Message: "unauthorized", StatusCode: 401}}
	g := &Gateway{snap: sf, core: &fakeCore{}, log: zap.NewNop()}

	_, err := g.CreateCharge(context.Background(), paymentdomain.ChargeRequest{Reference: "ord_1", Amount: 2000})
	require.Error(t, err)
	assert.Equal(t, apperror.Gateway, apperror.KindOf(err))
}

func TestConfirmChargeMapsStatus(t *testing.T) {
	core := &fakeCore{status: &coreapi.TransactionStatusResponse{TransactionStatus: "settlement"}}
	g := &Gateway{snap: &fakeSnap{}, core: core, log: zap.NewNop()}

	status, err := g.ConfirmCharge(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ChargeSucceeded, status)

	core.status = &coreapi.TransactionStatusResponse{TransactionStatus: "expire"}
	status, err = g.ConfirmCharge(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ChargeFailed, status)

	core.status = nil
	core.statusErr = &midtrans.Error{Message: "not found", StatusCode: 404}
	status, err = g.ConfirmCharge(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ChargePending, status)
}

func TestRefundPassesKey(t *testing.T) {
	core := &fakeCore{refund: &coreapi.RefundResponse{StatusCode: "200", StatusMessage: "Success"}}
	g := &Gateway{snap: &fakeSnap{}, core: core, log: zap.NewNop()}

	res, err := g.Refund(context.Background(), paymentdomain.RefundRequest{ChargeRef: "ord_1", Amount: 500, Reason: "late", Key: "rf_1"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Amount)
	assert.Equal(t, "rf_1", core.refundReq.RefundKey)

	core.refund = &coreapi.RefundResponse{StatusCode: "412", StatusMessage: "Merchant cannot modify"}
	_, err = g.Refund(context.Background(), paymentdomain.RefundRequest{ChargeRef: "ord_1", Amount: 500, Key: "rf_2"})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayFailure)
}
