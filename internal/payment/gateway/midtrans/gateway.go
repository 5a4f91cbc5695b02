// Package midtrans charges through Midtrans Snap and refunds through the
// Core API.
package midtrans

import (
	"context"
	"strings"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"github.com/smallbiznis/marketledger/internal/config"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	"go.uber.org/zap"
)

const providerName = "midtrans"

type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type coreAPI interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
	RefundTransaction(param string, req *coreapi.RefundReq) (*coreapi.RefundResponse, *midtrans.Error)
}

type Gateway struct {
	snap snapAPI
	core coreAPI
	log  *zap.Logger
}

// New builds a gateway for the configured server key.
func New(cfg config.PaymentConfig, log *zap.Logger) (*Gateway, error) {
	key := strings.TrimSpace(cfg.MidtransServerKey)
	if key == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	env := midtrans.Sandbox
	if cfg.MidtransProduction {
		env = midtrans.Production
	}

	snapClient := &snap.Client{}
	snapClient.New(key, env)
	coreClient := &coreapi.Client{}
	coreClient.New(key, env)

	return &Gateway{snap: snapClient, core: coreClient, log: log.Named("payment.midtrans")}, nil
}

func (g *Gateway) Provider() string { return providerName }

// CreateCharge opens a Snap transaction keyed by the order reference. The
// customer finishes payment on the redirect page, so the charge always
// requires action.
func (g *Gateway) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reference) == "" || req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: req.Amount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: "user-" + req.UserID.String(),
		},
	}
	if items := itemDetails(req); len(items) > 0 {
		snapReq.Items = &items
	}

	resp, merr := g.snap.CreateTransaction(snapReq)
	if merr != nil {
		g.log.Warn("snap create transaction failed", zap.String("reference", req.Reference), zap.String("error", merr.Error()))
		return nil, apperror.Wrap(paymentdomain.ErrGatewayFailure, "midtrans.create_charge", merr)
	}
	if resp == nil || resp.Token == "" {
		return nil, apperror.Wrapf(paymentdomain.ErrGatewayFailure, "midtrans.create_charge", "empty snap response for %s", req.Reference)
	}

	return &paymentdomain.Charge{
		Ref:         req.Reference,
		Status:      paymentdomain.ChargeRequiresAction,
		RedirectURL: resp.RedirectURL,
		Token:       resp.Token,
	}, nil
}

// itemDetails only sends line items when they add up to the charged amount;
// Midtrans rejects a mismatch and credit or discount adjustments break it.
func itemDetails(req paymentdomain.ChargeRequest) []midtrans.ItemDetails {
	var (
		items []midtrans.ItemDetails
		sum   int64
	)
	for _, item := range req.Items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, midtrans.ItemDetails{
			ID:    item.ID,
			Name:  truncate(item.Name, 50),
			Price: item.Price,
			Qty:   int32(qty),
		})
		sum += item.Price * int64(qty)
	}
	if sum != req.Amount {
		return nil
	}
	return items
}

func (g *Gateway) ConfirmCharge(ctx context.Context, chargeRef string) (paymentdomain.ChargeStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, merr := g.core.CheckTransaction(chargeRef)
	if merr != nil {
		if merr.StatusCode == 404 {
			return paymentdomain.ChargePending, nil
		}
		return "", apperror.Wrap(paymentdomain.ErrGatewayFailure, "midtrans.confirm_charge", merr)
	}
	if resp == nil {
		return "", apperror.Wrapf(paymentdomain.ErrGatewayFailure, "midtrans.confirm_charge", "empty status for %s", chargeRef)
	}
	return chargeStatus(resp.TransactionStatus, resp.FraudStatus), nil
}

func chargeStatus(status, fraud string) paymentdomain.ChargeStatus {
	switch strings.ToLower(status) {
	case "capture":
		if fraud == "" || strings.EqualFold(fraud, "accept") {
			return paymentdomain.ChargeSucceeded
		}
		if strings.EqualFold(fraud, "deny") {
			return paymentdomain.ChargeFailed
		}
		return paymentdomain.ChargePending
	case "settlement", "refund", "partial_refund":
		return paymentdomain.ChargeSucceeded
	case "deny", "cancel", "expire", "failure":
		return paymentdomain.ChargeFailed
	}
	return paymentdomain.ChargePending
}

func (g *Gateway) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	resp, merr := g.core.RefundTransaction(req.ChargeRef, &coreapi.RefundReq{
		RefundKey: req.Key,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if merr != nil {
		return nil, apperror.Wrap(paymentdomain.ErrGatewayFailure, "midtrans.refund", merr)
	}
	if resp == nil || !strings.HasPrefix(resp.StatusCode, "2") {
		code := ""
		if resp != nil {
			code = resp.StatusCode + " " + resp.StatusMessage
		}
		return nil, apperror.Wrapf(paymentdomain.ErrGatewayFailure, "midtrans.refund", "refund %s rejected: %s", req.ChargeRef, code)
	}
	return &paymentdomain.RefundResult{
		ChargeRef: req.ChargeRef,
		RefundRef: req.Key,
		Amount:    req.Amount,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
